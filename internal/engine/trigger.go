package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/metrics"
	"github.com/kkkkikiki/stampcard/internal/model"
)

// Trigger issues the one-time welcome and referral bonuses tied to the
// membership lifecycle
type Trigger struct {
	dir         BusinessDirectory
	memberships MembershipStore
	logger      *zap.Logger
}

// NewTrigger creates a trigger
func NewTrigger(dir BusinessDirectory, memberships MembershipStore, logger *zap.Logger) *Trigger {
	return &Trigger{dir: dir, memberships: memberships, logger: logger}
}

// NormalizeReferralCode canonicalises user-entered referral codes
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewMembership describes a fresh membership, seeded with the welcome stamps
// if the business has them enabled
func (t *Trigger) NewMembership(b *model.Business, identity model.Identity, referredByCode string, now time.Time) model.NewMembership {
	nm := model.NewMembership{
		BusinessID:    b.ID,
		IdentityKey:   identity.Key(),
		WelcomeStamps: b.WelcomeSeed(),
		Now:           now,
	}
	if code := NormalizeReferralCode(referredByCode); code != "" {
		nm.ReferredByCode = &code
	}
	return nm
}

// AfterAward fires the first-stamp transition when an award took a membership
// that never completed its first stamp to a positive balance. The transition
// happens at most once per membership; the store flips
// first_stamp_completed with a compare-and-set in the same transaction that
// applies the referral bonuses. Failures leave the flag unset and are retried
// by the next award.
func (t *Trigger) AfterAward(ctx context.Context, award *Award, now time.Time) model.AwardResult {
	res := award.AwardResult
	m := award.Membership
	if m.FirstStampCompleted || res.NewStamps <= 0 {
		return res
	}

	b, err := t.dir.GetBusiness(ctx, m.BusinessID)
	if err != nil {
		t.logger.Warn("First-stamp trigger deferred, business unavailable",
			zap.String("membership_id", m.ID), zap.Error(err))
		return res
	}

	grant := model.ReferralGrant{
		MembershipID: m.ID,
		BusinessID:   m.BusinessID,
		Now:          now,
	}
	if b.ReferralEnabled && m.Referred() {
		grant.ReferredBy = *m.ReferredByCode
		grant.RefereeBonus = b.RefereeBonusPoints
		grant.ReferrerBonus = b.ReferralBonusPoints
	}

	out, err := t.memberships.CompleteFirstStamp(ctx, grant)
	if err != nil {
		t.logger.Error("First-stamp transition failed",
			zap.String("membership_id", m.ID), zap.Error(err))
		return res
	}
	if out.Awarded {
		metrics.RecordReferralBonus()
		t.logger.Info("Referral bonus awarded",
			zap.String("membership_id", m.ID), zap.String("referrer_id", out.ReferrerID),
			zap.Int("referee_bonus", grant.RefereeBonus), zap.Int("referrer_bonus", grant.ReferrerBonus))
		res.NewStamps = out.NewStamps
		res.NewTotal = out.NewTotal
	}
	return res
}
