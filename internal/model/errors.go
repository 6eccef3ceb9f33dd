package model

import "errors"

// Store contract errors shared by every store implementation
var (
	// ErrNotFound is returned when a business or membership does not exist
	ErrNotFound = errors.New("not found")
	// ErrCooldownActive is returned when an award loses the last-scan
	// compare-and-set because another scan landed inside the window
	ErrCooldownActive = errors.New("cooldown active")
	// ErrBelowThreshold is returned when a redeem finds fewer stamps than required
	ErrBelowThreshold = errors.New("not enough stamps to redeem")
)
