package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultCooldownMinutes applies when a business has no cooldown configured
const DefaultCooldownMinutes = 2

// DefaultMaxStamps is the card size when a business has none configured
const DefaultMaxStamps = 10

// Business represents a loyalty program owner in the database
type Business struct {
	ID                   string       `db:"id" json:"id"`
	Slug                 string       `db:"slug" json:"slug"`
	Name                 string       `db:"name" json:"name"`
	Timezone             string       `db:"timezone" json:"timezone"`
	CooldownMinutes      int          `db:"cooldown_minutes" json:"cooldownMinutes"` // 0 disables the cooldown
	MaxStamps            int          `db:"max_stamps" json:"maxStamps"`
	BonusPeriods         BonusPeriods `db:"bonus_periods" json:"bonusPeriods"`
	WelcomeStampsEnabled bool         `db:"welcome_stamps_enabled" json:"welcomeStampsEnabled"`
	WelcomeStamps        int          `db:"welcome_stamps" json:"welcomeStamps"`
	ReferralEnabled      bool         `db:"referral_enabled" json:"referralEnabled"`
	ReferralBonusPoints  int          `db:"referral_bonus_points" json:"referralBonusPoints"`
	RefereeBonusPoints   int          `db:"referee_bonus_points" json:"refereeBonusPoints"`
	CreatedAt            time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time    `db:"updated_at" json:"updatedAt"`
}

// Cooldown returns the minimum interval between accepted scans. Stores keep
// CooldownMinutes as given, so 0 means no cooldown; DefaultCooldownMinutes is
// applied when a business is registered without one.
func (b *Business) Cooldown() time.Duration {
	return time.Duration(b.CooldownMinutes) * time.Minute
}

// CardSize returns the stamp threshold for a reward
func (b *Business) CardSize() int {
	if b.MaxStamps <= 0 {
		return DefaultMaxStamps
	}
	return b.MaxStamps
}

// WelcomeSeed returns the stamps a fresh membership starts with
func (b *Business) WelcomeSeed() int {
	if !b.WelcomeStampsEnabled || b.WelcomeStamps < 0 {
		return 0
	}
	return b.WelcomeStamps
}

// Location resolves the business time zone, falling back to UTC
func (b *Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BonusType selects how a bonus period changes stamps per scan
type BonusType string

const (
	// BonusMultiplier replaces the base stamp with BonusValue stamps
	BonusMultiplier BonusType = "multiplier"
	// BonusFixed adds BonusValue stamps on top of the base stamp
	BonusFixed BonusType = "fixed"
)

// EveryDay is the DayOfWeek wildcard
const EveryDay Weekday = -1

// Weekday is 0 (Sunday) through 6, or EveryDay. In JSON, null, -1 and "*"
// all decode to EveryDay, as does a bonus period without a dayOfWeek.
type Weekday int

// UnmarshalJSON implements json.Unmarshaler
func (w *Weekday) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "null", `"*"`, `"every"`, "-1":
		*w = EveryDay
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid dayOfWeek %s", s)
	}
	if n < 0 || n > 6 {
		return fmt.Errorf("dayOfWeek %d out of range", n)
	}
	*w = Weekday(n)
	return nil
}

// MarshalJSON implements json.Marshaler
func (w Weekday) MarshalJSON() ([]byte, error) {
	if w == EveryDay {
		return []byte("null"), nil
	}
	return json.Marshal(int(w))
}

// Matches reports whether the weekday selects d
func (w Weekday) Matches(d time.Weekday) bool {
	return w == EveryDay || int(w) == int(d)
}

// BonusPeriod is a configured day/time window that changes stamps-per-scan
type BonusPeriod struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DayOfWeek  Weekday   `json:"dayOfWeek"`
	StartTime  string    `json:"startTime"` // "HH:MM", inclusive
	EndTime    string    `json:"endTime"`   // "HH:MM", inclusive
	BonusType  BonusType `json:"bonusType"`
	BonusValue int       `json:"bonusValue"`
}

// UnmarshalJSON implements json.Unmarshaler. A missing dayOfWeek means every
// day rather than Sunday.
func (p *BonusPeriod) UnmarshalJSON(data []byte) error {
	type plain BonusPeriod
	v := plain{DayOfWeek: EveryDay}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = BonusPeriod(v)
	return nil
}

// Valid reports whether the period can be evaluated at all
func (p BonusPeriod) Valid() bool {
	if !validClock(p.StartTime) || !validClock(p.EndTime) {
		return false
	}
	if p.BonusType != BonusMultiplier && p.BonusType != BonusFixed {
		return false
	}
	return p.BonusValue >= 1
}

// ActiveAt reports whether the period covers the given local time. Zero-padded
// 24h "HH:MM" strings order the same as the times they denote.
func (p BonusPeriod) ActiveAt(local time.Time) bool {
	if !p.DayOfWeek.Matches(local.Weekday()) {
		return false
	}
	hhmm := local.Format("15:04")
	return hhmm >= p.StartTime && hhmm <= p.EndTime
}

// Stamps returns the stamps awarded by a scan inside this period
func (p BonusPeriod) Stamps() int {
	switch p.BonusType {
	case BonusMultiplier:
		return max(p.BonusValue, 1)
	case BonusFixed:
		return 1 + max(p.BonusValue, 0)
	}
	return 1
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

// BonusPeriods is stored as a JSONB column, kept in configured order
type BonusPeriods []BonusPeriod

// Value implements driver.Valuer
func (b BonusPeriods) Value() (driver.Value, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner
func (b *BonusPeriods) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*b = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported bonus_periods type %T", src)
	}
	return json.Unmarshal(data, b)
}
