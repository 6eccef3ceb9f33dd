package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/model"
)

// AwardRequest is one stamp increment for an identity at a business
type AwardRequest struct {
	BusinessID     string
	Identity       model.Identity
	Stamps         int
	Now            time.Time
	Cooldown       time.Duration
	ReferredByCode string // recorded only if this award creates the membership
}

// Award is the ledger outcome of an AwardRequest
type Award struct {
	model.AwardResult
	// Membership as it was before the increment
	Membership *model.Membership
	Created    bool
}

// Ledger applies stamp increments and redemptions
type Ledger struct {
	dir         BusinessDirectory
	memberships MembershipStore
	trigger     *Trigger
	logger      *zap.Logger
}

// NewLedger creates a ledger
func NewLedger(dir BusinessDirectory, memberships MembershipStore, trigger *Trigger, logger *zap.Logger) *Ledger {
	return &Ledger{dir: dir, memberships: memberships, trigger: trigger, logger: logger}
}

// Award adds req.Stamps to the identity's current cycle and lifetime total,
// creating the membership on first use. The store re-checks req.Cooldown
// against the last scan in the same statement that increments, so a
// concurrent scan that slipped past the gate is rejected here.
func (l *Ledger) Award(ctx context.Context, req AwardRequest) (*Award, error) {
	if req.Stamps < 1 {
		return nil, fmt.Errorf("award of %d stamps", req.Stamps)
	}

	m, created, err := l.Join(ctx, req.BusinessID, req.Identity, req.ReferredByCode, req.Now)
	if err != nil {
		return nil, err
	}

	cooldown := req.Cooldown
	if req.Identity.Anonymous() {
		cooldown = 0
	}

	res, err := l.memberships.AwardStamps(ctx, m.ID, req.Stamps, req.Now, cooldown)
	if errors.Is(err, model.ErrCooldownActive) {
		return nil, cooldownError(l.remainingAfterLostRace(ctx, m.ID, cooldown, req.Now))
	}
	if err != nil {
		l.logger.Error("Stamp award failed",
			zap.String("business_id", req.BusinessID), zap.Stringer("identity", req.Identity), zap.Error(err))
		return nil, newError(KindDependencyUnavailable, err)
	}

	return &Award{AwardResult: res, Membership: m, Created: created}, nil
}

func (l *Ledger) remainingAfterLostRace(ctx context.Context, membershipID string, cooldown time.Duration, now time.Time) int {
	m, err := l.memberships.GetMembership(ctx, membershipID)
	if err != nil {
		return int(cooldown.Seconds())
	}
	if remaining := remainingSeconds(m.LastScanAt, cooldown, now); remaining > 0 {
		return remaining
	}
	return 1
}

// Join returns the identity's membership, creating it with welcome stamps and
// the referral code it joined with if it does not exist yet
func (l *Ledger) Join(ctx context.Context, businessID string, identity model.Identity, referredByCode string, now time.Time) (*model.Membership, bool, error) {
	b, err := l.dir.GetBusiness(ctx, businessID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, newError(KindBusinessNotFound, fmt.Errorf("business %s", businessID))
	}
	if err != nil {
		l.logger.Error("Ledger cannot read business", zap.String("business_id", businessID), zap.Error(err))
		return nil, false, newError(KindDependencyUnavailable, err)
	}

	m, created, err := l.memberships.CreateMembership(ctx, l.trigger.NewMembership(b, identity, referredByCode, now))
	if err != nil {
		l.logger.Error("Membership upsert failed",
			zap.String("business_id", businessID), zap.Stringer("identity", identity), zap.Error(err))
		return nil, false, newError(KindDependencyUnavailable, err)
	}
	if created {
		l.logger.Info("Membership created",
			zap.String("business_id", businessID), zap.String("membership_id", m.ID),
			zap.Int("welcome_stamps", m.Stamps), zap.Bool("referred", m.Referred()))
	}
	return m, created, nil
}

// Redeem zeroes the current cycle and counts a completed reward. The caller
// owns the threshold: minStamps is enforced atomically with the reset so two
// concurrent redemptions cannot both succeed, but the ledger has no opinion
// on what the threshold is.
func (l *Ledger) Redeem(ctx context.Context, membershipID string, minStamps int, now time.Time) (int, error) {
	count, err := l.memberships.Redeem(ctx, membershipID, minStamps, now)
	switch {
	case err == nil:
		return count, nil
	case errors.Is(err, model.ErrNotFound):
		return 0, newError(KindMembershipNotFound, fmt.Errorf("membership %s", membershipID))
	case errors.Is(err, model.ErrBelowThreshold):
		return 0, newError(KindRewardNotReady, err)
	default:
		l.logger.Error("Redeem failed", zap.String("membership_id", membershipID), zap.Error(err))
		return 0, newError(KindDependencyUnavailable, err)
	}
}
