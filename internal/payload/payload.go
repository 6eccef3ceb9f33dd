// Package payload parses the QR codes printed at the counter and implements
// the compact numeric surrogate for business ids.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NumericIDLength is the number of digits in a numeric surrogate
const NumericIDLength = 10

var (
	// ErrEmpty is returned for blank input
	ErrEmpty = errors.New("empty payload")
	// ErrNoIdentifier is returned when neither identifier is present
	ErrNoIdentifier = errors.New("payload carries no business identifier")
	// ErrConflictingIdentifiers is returned when both identifiers are present
	// and name different businesses
	ErrConflictingIdentifiers = errors.New("payload identifiers disagree")
)

// Payload is the decoded QR content
type Payload struct {
	BusinessID        string `json:"businessId,omitempty"`
	BusinessNumericID string `json:"businessNumericId,omitempty"`
}

// HasUUID reports whether the payload carries a business UUID
func (p Payload) HasUUID() bool { return p.BusinessID != "" }

// Parse decodes raw QR or manual text. JSON objects are the canonical shape;
// a bare UUID or a bare 10-digit code is accepted for manual entry.
func Parse(raw string) (Payload, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Payload{}, ErrEmpty
	}

	var p Payload
	switch {
	case strings.HasPrefix(text, "{"):
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return Payload{}, fmt.Errorf("malformed payload: %w", err)
		}
		p.BusinessID = strings.TrimSpace(p.BusinessID)
		p.BusinessNumericID = strings.TrimSpace(p.BusinessNumericID)
	case isNumericID(text):
		p.BusinessNumericID = text
	default:
		p.BusinessID = text
	}

	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	if p.BusinessID != "" {
		p.BusinessID = uuid.MustParse(p.BusinessID).String()
	}
	return p, nil
}

// Validate checks that the payload names exactly one business
func (p Payload) Validate() error {
	if p.BusinessID == "" && p.BusinessNumericID == "" {
		return ErrNoIdentifier
	}
	if p.BusinessID != "" {
		id, err := uuid.Parse(p.BusinessID)
		if err != nil {
			return fmt.Errorf("malformed businessId %q: %w", p.BusinessID, err)
		}
		if p.BusinessNumericID != "" && EncodeNumericSurrogate(id.String()) != p.BusinessNumericID {
			return ErrConflictingIdentifiers
		}
	}
	if p.BusinessNumericID != "" && !isNumericID(p.BusinessNumericID) {
		return fmt.Errorf("malformed businessNumericId %q", p.BusinessNumericID)
	}
	return nil
}

// String renders the payload in its canonical JSON form
func (p Payload) String() string {
	data, _ := json.Marshal(p)
	return string(data)
}

func isNumericID(s string) bool {
	if len(s) != NumericIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
