package api

import (
	"github.com/kkkkikiki/stampcard/internal/model"
)

// Business is a loyalty program as seen by clients. NumericID is the
// 10-digit code printed under the QR code.
type Business struct {
	ID                   string              `json:"id"`
	NumericID            string              `json:"numericId"`
	Slug                 string              `json:"slug"`
	Name                 string              `json:"name"`
	Timezone             string              `json:"timezone,omitempty"`
	CooldownMinutes      int                 `json:"cooldownMinutes"`
	MaxStamps            int                 `json:"maxStamps"`
	BonusPeriods         []model.BonusPeriod `json:"bonusPeriods,omitempty"`
	WelcomeStampsEnabled bool                `json:"welcomeStampsEnabled"`
	WelcomeStamps        int                 `json:"welcomeStamps"`
	ReferralEnabled      bool                `json:"referralEnabled"`
	ReferralBonusPoints  int                 `json:"referralBonusPoints"`
	RefereeBonusPoints   int                 `json:"refereeBonusPoints"`
	CreatedAt            Time                `json:"createdAt"`
}

// Membership is a customer's card at one business
type Membership struct {
	ID                   string `json:"id"`
	BusinessID           string `json:"businessId"`
	Stamps               int    `json:"stamps"`
	TotalStampsCollected int    `json:"totalStampsCollected"`
	RedeemedRewards      int    `json:"redeemedRewards"`
	ReferralCode         string `json:"referralCode"`
	ReferredByCode       string `json:"referredByCode,omitempty"`
	FirstStampCompleted  bool   `json:"firstStampCompleted"`
	ReferralBonusAwarded bool   `json:"referralBonusAwarded"`
	LastScanAt           Time   `json:"lastScanAt"`
	CreatedAt            Time   `json:"createdAt"`
}

// BusinessStats is the dashboard summary for a business
type BusinessStats struct {
	BusinessID      string `json:"businessId"`
	Members         int64  `json:"members"`
	StampsInCycle   int64  `json:"stampsInCycle"`
	StampsLifetime  int64  `json:"stampsLifetime"`
	RewardsRedeemed int64  `json:"rewardsRedeemed"`
	ComputedAt      Time   `json:"computedAt"`
}

// Identity fields are set by the authenticating front end. A request with
// neither is anonymous.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type CreateBusinessRequest struct {
	Business Business `json:"business"`
}

type CreateBusinessResponse struct {
	Business Business `json:"business"`
	// QRPayload is the text to encode in the printed QR code
	QRPayload string `json:"qrPayload"`
}

type ScanRequest struct {
	Payload string `json:"payload"`
	Identity
	ReferralCode string `json:"referralCode,omitempty"`
}

type ScanResponse struct {
	BusinessID    string `json:"businessId"`
	MembershipID  string `json:"membershipId"`
	StampsAwarded int    `json:"stampsAwarded"`
	NewStamps     int    `json:"newStamps"`
	NewTotal      int    `json:"newTotal"`
	MaxStamps     int    `json:"maxStamps"`
	Joined        bool   `json:"joined"`
	ScannedAt     Time   `json:"scannedAt"`
}

type RedeemRequest struct {
	MembershipID string `json:"membershipId"`
}

type RedeemResponse struct {
	RedeemedRewards int        `json:"redeemedRewards"`
	Membership      Membership `json:"membership"`
}

type JoinRequest struct {
	BusinessID string `json:"businessId"`
	Identity
	ReferralCode string `json:"referralCode,omitempty"`
}

type JoinResponse struct {
	Membership Membership `json:"membership"`
	Created    bool       `json:"created"`
}

type GetMembershipRequest struct {
	MembershipID string `json:"membershipId"`
}

type GetMembershipResponse struct {
	Membership Membership `json:"membership"`
}

type GetBusinessStatsRequest struct {
	BusinessID string `json:"businessId"`
}

type GetBusinessStatsResponse struct {
	Stats BusinessStats `json:"stats"`
}

// ToModel returns the engine identity
func (i Identity) ToModel() model.Identity {
	return model.Identity{UserID: i.UserID, SessionID: i.SessionID}
}

// FromMembership converts a stored membership
func FromMembership(m *model.Membership) Membership {
	out := Membership{
		ID:                   m.ID,
		BusinessID:           m.BusinessID,
		Stamps:               m.Stamps,
		TotalStampsCollected: m.TotalStampsCollected,
		RedeemedRewards:      m.RedeemedRewards,
		ReferralCode:         m.ReferralCode,
		FirstStampCompleted:  m.FirstStampCompleted,
		ReferralBonusAwarded: m.ReferralBonusAwarded,
		LastScanAt:           NewTimePtr(m.LastScanAt),
		CreatedAt:            NewTime(m.CreatedAt),
	}
	if m.ReferredByCode != nil {
		out.ReferredByCode = *m.ReferredByCode
	}
	return out
}

// FromStats converts store aggregates
func FromStats(s *model.BusinessStats) BusinessStats {
	return BusinessStats{
		BusinessID:      s.BusinessID,
		Members:         s.Members,
		StampsInCycle:   s.StampsInCycle,
		StampsLifetime:  s.StampsLifetime,
		RewardsRedeemed: s.RewardsRedeemed,
		ComputedAt:      NewTime(s.ComputedAt),
	}
}

// ToModel converts a client business definition for storage
func (b Business) ToModel() *model.Business {
	return &model.Business{
		ID:                   b.ID,
		Slug:                 b.Slug,
		Name:                 b.Name,
		Timezone:             b.Timezone,
		CooldownMinutes:      b.CooldownMinutes,
		MaxStamps:            b.MaxStamps,
		BonusPeriods:         model.BonusPeriods(b.BonusPeriods),
		WelcomeStampsEnabled: b.WelcomeStampsEnabled,
		WelcomeStamps:        b.WelcomeStamps,
		ReferralEnabled:      b.ReferralEnabled,
		ReferralBonusPoints:  b.ReferralBonusPoints,
		RefereeBonusPoints:   b.RefereeBonusPoints,
	}
}
