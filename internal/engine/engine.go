// Package engine turns decoded QR payloads into stamp awards. A scan runs
// Business Resolver, then Bonus Resolver and Cooldown Gate side by side,
// then the Award Ledger and finally the Referral/Welcome Trigger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/cache"
	"github.com/kkkkikiki/stampcard/internal/metrics"
	"github.com/kkkkikiki/stampcard/internal/model"
	"github.com/kkkkikiki/stampcard/internal/payload"
)

// ScanRequest is one decoded QR payload presented by an identity
type ScanRequest struct {
	Payload  string
	Identity model.Identity
	Now      time.Time
	// ReferralCode is recorded if this scan creates the membership
	ReferralCode string
}

// ScanResult is the outcome of a successful scan
type ScanResult struct {
	BusinessID    string `json:"businessId"`
	MembershipID  string `json:"membershipId"`
	StampsAwarded int    `json:"stampsAwarded"`
	NewStamps     int    `json:"newStamps"`
	NewTotal      int    `json:"newTotal"`
	MaxStamps     int    `json:"maxStamps"`
	Joined        bool   `json:"joined"`
}

// Engine is the stamp award engine
type Engine struct {
	store  Store
	stats  *cache.StatsCache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used by Redeem, Join and Stats
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStatsCache puts a read-through cache in front of Stats
func WithStatsCache(c *cache.StatsCache) Option {
	return func(e *Engine) { e.stats = c }
}

// New creates an engine over store
func New(store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scan validates and applies one scan. Nothing is retried; a failed scan is
// retried only by the user scanning again.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.RecordScanDuration(status, time.Since(start).Seconds())
	}()

	res, err := e.scan(ctx, req)
	if err != nil {
		status = KindOf(err).String()
		return nil, err
	}
	metrics.RecordStampsAwarded(res.StampsAwarded)
	return res, nil
}

func (e *Engine) scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	now := req.Now
	if now.IsZero() {
		now = e.now()
	}

	p, err := payload.Parse(req.Payload)
	if err != nil {
		return nil, newError(KindInvalidPayload, err)
	}

	dir := newScanDirectory(e.store)
	business, err := NewBusinessResolver(dir, e.logger).Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	dir.remember(business)

	var (
		wg       sync.WaitGroup
		stamps   int
		decision Decision
		gateErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stamps = NewBonusResolver(dir, e.logger).StampsFor(ctx, business.ID, now)
	}()
	go func() {
		defer wg.Done()
		decision, gateErr = NewCooldownGate(dir, e.store, e.logger).Check(ctx, business.ID, req.Identity, now)
	}()
	wg.Wait()

	if gateErr != nil {
		return nil, gateErr
	}
	if !decision.Allowed {
		e.logger.Debug("Scan denied by cooldown",
			zap.String("business_id", business.ID), zap.Stringer("identity", req.Identity),
			zap.Int("remaining_seconds", decision.RemainingSeconds))
		return nil, cooldownError(decision.RemainingSeconds)
	}

	trigger := NewTrigger(dir, e.store, e.logger)
	award, err := NewLedger(dir, e.store, trigger, e.logger).Award(ctx, AwardRequest{
		BusinessID:     business.ID,
		Identity:       req.Identity,
		Stamps:         stamps,
		Now:            now,
		Cooldown:       decision.Cooldown,
		ReferredByCode: req.ReferralCode,
	})
	if err != nil {
		return nil, err
	}
	final := trigger.AfterAward(ctx, award, now)

	e.logger.Info("Stamps awarded",
		zap.String("business_id", business.ID), zap.String("membership_id", final.MembershipID),
		zap.Int("stamps", stamps), zap.Int("new_stamps", final.NewStamps), zap.Int("new_total", final.NewTotal))

	return &ScanResult{
		BusinessID:    business.ID,
		MembershipID:  final.MembershipID,
		StampsAwarded: stamps,
		NewStamps:     final.NewStamps,
		NewTotal:      final.NewTotal,
		MaxStamps:     business.CardSize(),
		Joined:        award.Created,
	}, nil
}

// Redeem completes a reward cycle for a membership holding at least the
// business's card size in stamps. The threshold is decided here and nowhere
// else; the ledger only enforces what it is given. Stamps beyond the card
// size are not carried over.
func (e *Engine) Redeem(ctx context.Context, membershipID string) (int, error) {
	m, err := e.Membership(ctx, membershipID)
	if err != nil {
		return 0, err
	}

	b, err := e.store.GetBusiness(ctx, m.BusinessID)
	if err != nil {
		e.logger.Error("Redeem cannot read business", zap.String("business_id", m.BusinessID), zap.Error(err))
		return 0, newError(KindDependencyUnavailable, err)
	}
	threshold := b.CardSize()
	if m.Stamps < threshold {
		return 0, newError(KindRewardNotReady, fmt.Errorf("%d of %d stamps", m.Stamps, threshold))
	}

	ledger := NewLedger(e.store, e.store, NewTrigger(e.store, e.store, e.logger), e.logger)
	count, err := ledger.Redeem(ctx, membershipID, threshold, e.now())
	if err != nil {
		return 0, err
	}

	metrics.RecordRedemption()
	e.logger.Info("Reward redeemed",
		zap.String("membership_id", membershipID), zap.Int("redeemed_rewards", count))
	return count, nil
}

// Join creates the identity's membership without a scan, applying welcome
// stamps and recording the referral code it joined with. Joining twice
// returns the existing membership unchanged.
func (e *Engine) Join(ctx context.Context, businessID string, identity model.Identity, referralCode string) (*model.Membership, bool, error) {
	if _, err := uuid.Parse(businessID); err != nil {
		return nil, false, newError(KindInvalidPayload, fmt.Errorf("malformed business id %q", businessID))
	}
	ledger := NewLedger(e.store, e.store, NewTrigger(e.store, e.store, e.logger), e.logger)
	return ledger.Join(ctx, businessID, identity, referralCode, e.now())
}

// Membership returns a membership by id
func (e *Engine) Membership(ctx context.Context, membershipID string) (*model.Membership, error) {
	m, err := e.store.GetMembership(ctx, membershipID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, newError(KindMembershipNotFound, fmt.Errorf("membership %s", membershipID))
	}
	if err != nil {
		e.logger.Error("Membership lookup failed", zap.String("membership_id", membershipID), zap.Error(err))
		return nil, newError(KindDependencyUnavailable, err)
	}
	return m, nil
}

// Stats returns dashboard aggregates for a business, possibly cached
func (e *Engine) Stats(ctx context.Context, businessID string) (*model.BusinessStats, error) {
	if _, err := uuid.Parse(businessID); err != nil {
		return nil, newError(KindInvalidPayload, fmt.Errorf("malformed business id %q", businessID))
	}
	if _, err := e.store.GetBusiness(ctx, businessID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, newError(KindBusinessNotFound, fmt.Errorf("business %s", businessID))
		}
		return nil, newError(KindDependencyUnavailable, err)
	}

	load := func(ctx context.Context) (*model.BusinessStats, error) {
		return e.store.BusinessStats(ctx, businessID, e.now())
	}
	var (
		stats *model.BusinessStats
		err   error
	)
	if e.stats != nil {
		stats, err = e.stats.Get(ctx, businessID, load)
	} else {
		stats, err = load(ctx)
	}
	if err != nil {
		e.logger.Error("Stats aggregation failed", zap.String("business_id", businessID), zap.Error(err))
		return nil, newError(KindDependencyUnavailable, err)
	}
	return stats, nil
}
