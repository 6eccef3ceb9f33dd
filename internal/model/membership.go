package model

import (
	"strings"
	"time"
)

// Identity is the scanner of a QR code: an authenticated user or an anonymous
// session. Anonymous sessions have no stable cross-device key.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Anonymous reports whether the identity lacks an authenticated user
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// Key is the membership key column for this identity
func (i Identity) Key() string {
	if !i.Anonymous() {
		return "user:" + i.UserID
	}
	if i.SessionID == "" {
		return "anon"
	}
	return "anon:" + i.SessionID
}

// String implements fmt.Stringer for logging
func (i Identity) String() string {
	return i.Key()
}

// Membership is the per-(business, identity) loyalty record
type Membership struct {
	ID                   string     `db:"id" json:"id"`
	BusinessID           string     `db:"business_id" json:"businessId"`
	IdentityKey          string     `db:"identity_key" json:"identityKey"`
	Stamps               int        `db:"stamps" json:"stamps"`
	TotalStampsCollected int        `db:"total_stamps_collected" json:"totalStampsCollected"`
	RedeemedRewards      int        `db:"redeemed_rewards" json:"redeemedRewards"`
	ReferralCode         string     `db:"referral_code" json:"referralCode"`
	ReferredByCode       *string    `db:"referred_by_code" json:"referredByCode,omitempty"`
	ReferralBonusAwarded bool       `db:"referral_bonus_awarded" json:"referralBonusAwarded"`
	FirstStampCompleted  bool       `db:"first_stamp_completed" json:"firstStampCompleted"`
	LastScanAt           *time.Time `db:"last_scan_at" json:"lastScanAt,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`
}

// Referred reports whether the membership joined with someone's code
func (m *Membership) Referred() bool {
	return m.ReferredByCode != nil && *m.ReferredByCode != ""
}

// NewMembership describes a membership to create lazily
type NewMembership struct {
	BusinessID     string
	IdentityKey    string
	ReferredByCode *string
	WelcomeStamps  int
	Now            time.Time
}

// AwardResult is the ledger state after an award
type AwardResult struct {
	MembershipID string `json:"membershipId"`
	NewStamps    int    `json:"newStamps"`
	NewTotal     int    `json:"newTotal"`
}

// ReferralGrant describes the first-stamp transition of a membership
type ReferralGrant struct {
	MembershipID  string
	BusinessID    string
	ReferredBy    string // empty when the membership was not referred
	RefereeBonus  int
	ReferrerBonus int
	Now           time.Time
}

// ReferralOutcome reports what the first-stamp transition did
type ReferralOutcome struct {
	Transitioned bool   // first_stamp_completed flipped in this call
	Awarded      bool   // referral bonuses applied
	ReferrerID   string // membership credited as referrer
	NewStamps    int    // referee stamps after the transition
	NewTotal     int    // referee lifetime total after the transition
}

// BusinessStats is the aggregate displayed on dashboards. It is never read
// by the ledger.
type BusinessStats struct {
	BusinessID      string    `db:"business_id" json:"businessId"`
	Members         int64     `db:"members" json:"members"`
	StampsInCycle   int64     `db:"stamps_in_cycle" json:"stampsInCycle"`
	StampsLifetime  int64     `db:"stamps_lifetime" json:"stampsLifetime"`
	RewardsRedeemed int64     `db:"rewards_redeemed" json:"rewardsRedeemed"`
	ComputedAt      time.Time `db:"computed_at" json:"computedAt"`
}
