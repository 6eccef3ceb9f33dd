package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/stampcard/internal/model"
)

// MemoryStore is a thread-safe in-memory implementation of the business
// directory and membership store. A single mutex serialises every mutation,
// which gives each Increment the same all-or-nothing behaviour as the
// single UPDATE statement in Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	businesses    map[string]model.Business
	businessOrder []string
	memberships   map[string]*model.Membership
	byIdentity    map[string]string // business_id|identity_key -> membership id
	byCode        map[string]string // business_id|referral_code -> membership id
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businesses:  make(map[string]model.Business),
		memberships: make(map[string]*model.Membership),
		byIdentity:  make(map[string]string),
		byCode:      make(map[string]string),
	}
}

func pairKey(a, b string) string { return a + "|" + b }

// CreateBusiness inserts or replaces a business. Insertion order is kept for
// enumeration. CooldownMinutes is kept as given.
func (s *MemoryStore) CreateBusiness(_ context.Context, b *model.Business) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.MaxStamps <= 0 {
		b.MaxStamps = model.DefaultMaxStamps
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.businesses[b.ID]; !exists {
		s.businessOrder = append(s.businessOrder, b.ID)
	}
	stored := *b
	stored.BonusPeriods = append(model.BonusPeriods(nil), b.BonusPeriods...)
	s.businesses[b.ID] = stored
	return nil
}

// GetBusiness retrieves a business by id
func (s *MemoryStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

// ListBusinesses returns every business in insertion order
func (s *MemoryStore) ListBusinesses(_ context.Context) ([]model.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Business, 0, len(s.businessOrder))
	for _, id := range s.businessOrder {
		out = append(out, s.businesses[id])
	}
	return out, nil
}

// GetMembership retrieves a membership by id
func (s *MemoryStore) GetMembership(_ context.Context, id string) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// GetMembershipByIdentity retrieves the membership of an identity at a business
func (s *MemoryStore) GetMembershipByIdentity(_ context.Context, businessID, identityKey string) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentity[pairKey(businessID, identityKey)]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *s.memberships[id]
	return &cp, nil
}

// CreateMembership inserts a membership unless the identity already has one
func (s *MemoryStore) CreateMembership(_ context.Context, nm model.NewMembership) (*model.Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[nm.BusinessID]; !ok {
		return nil, false, model.ErrNotFound
	}
	if id, ok := s.byIdentity[pairKey(nm.BusinessID, nm.IdentityKey)]; ok {
		cp := *s.memberships[id]
		return &cp, false, nil
	}

	code := NewReferralCode()
	for {
		if _, taken := s.byCode[pairKey(nm.BusinessID, code)]; !taken {
			break
		}
		code = NewReferralCode()
	}

	m := &model.Membership{
		ID:                   uuid.NewString(),
		BusinessID:           nm.BusinessID,
		IdentityKey:          nm.IdentityKey,
		Stamps:               nm.WelcomeStamps,
		TotalStampsCollected: nm.WelcomeStamps,
		ReferralCode:         code,
		ReferredByCode:       nm.ReferredByCode,
		CreatedAt:            nm.Now,
		UpdatedAt:            nm.Now,
	}
	s.memberships[m.ID] = m
	s.byIdentity[pairKey(nm.BusinessID, nm.IdentityKey)] = m.ID
	s.byCode[pairKey(nm.BusinessID, code)] = m.ID

	cp := *m
	return &cp, true, nil
}

// increment is the in-memory counterpart of MembershipRepository.Increment.
// Callers hold s.mu.
func (s *MemoryStore) increment(id string, inc Increment, now time.Time, guardErr error) (Counters, error) {
	m, ok := s.memberships[id]
	if !ok {
		return Counters{}, model.ErrNotFound
	}

	rejected := false
	if inc.ScanAt != nil && inc.Cooldown > 0 && m.LastScanAt != nil && m.LastScanAt.After(inc.ScanAt.Add(-inc.Cooldown)) {
		rejected = true
	}
	if inc.MinStamps > 0 && m.Stamps < inc.MinStamps {
		rejected = true
	}
	if inc.ClaimReferral && m.ReferralBonusAwarded {
		rejected = true
	}
	if inc.RequireCounted && m.Stamps <= 0 {
		rejected = true
	}
	if rejected {
		if guardErr == nil {
			return Counters{}, model.ErrNotFound
		}
		return Counters{}, guardErr
	}

	if inc.ResetStamps {
		m.Stamps = 0
	} else {
		m.Stamps += inc.Stamps
	}
	m.TotalStampsCollected += inc.Total
	m.RedeemedRewards += inc.Redeemed
	if inc.ScanAt != nil {
		at := *inc.ScanAt
		m.LastScanAt = &at
	}
	if inc.ClaimReferral {
		m.ReferralBonusAwarded = true
	}
	m.UpdatedAt = now

	return Counters{Stamps: m.Stamps, Total: m.TotalStampsCollected, Redeemed: m.RedeemedRewards}, nil
}

// AwardStamps adds stamps to both counters and records the scan time
func (s *MemoryStore) AwardStamps(_ context.Context, membershipID string, stamps int, scanAt time.Time, cooldown time.Duration) (model.AwardResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.increment(membershipID, Increment{
		Stamps:   stamps,
		Total:    stamps,
		ScanAt:   &scanAt,
		Cooldown: cooldown,
	}, scanAt, model.ErrCooldownActive)
	if err != nil {
		return model.AwardResult{}, err
	}
	return model.AwardResult{MembershipID: membershipID, NewStamps: c.Stamps, NewTotal: c.Total}, nil
}

// Redeem zeroes the current cycle and counts a completed reward
func (s *MemoryStore) Redeem(_ context.Context, membershipID string, minStamps int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.increment(membershipID, Increment{
		ResetStamps: true,
		Redeemed:    1,
		MinStamps:   minStamps,
	}, now, model.ErrBelowThreshold)
	if err != nil {
		return 0, err
	}
	return c.Redeemed, nil
}

// CompleteFirstStamp performs the first-stamp transition and any referral
// bonuses under one lock
func (s *MemoryStore) CompleteFirstStamp(_ context.Context, g model.ReferralGrant) (model.ReferralOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[g.MembershipID]
	if !ok {
		return model.ReferralOutcome{}, model.ErrNotFound
	}
	if m.FirstStampCompleted || m.Stamps <= 0 {
		return model.ReferralOutcome{}, nil
	}
	m.FirstStampCompleted = true
	m.UpdatedAt = g.Now

	out := model.ReferralOutcome{Transitioned: true}
	if g.ReferredBy == "" {
		return out, nil
	}
	referrerID, ok := s.byCode[pairKey(g.BusinessID, g.ReferredBy)]
	if !ok || referrerID == g.MembershipID {
		return out, nil
	}

	c, err := s.increment(g.MembershipID, Increment{
		Stamps:        g.RefereeBonus,
		Total:         g.RefereeBonus,
		ClaimReferral: true,
	}, g.Now, errReferralClaimed)
	if err != nil {
		return out, nil
	}
	if _, err := s.increment(referrerID, Increment{Stamps: g.ReferrerBonus, Total: g.ReferrerBonus}, g.Now, nil); err != nil {
		return out, err
	}

	out.Awarded = true
	out.ReferrerID = referrerID
	out.NewStamps = c.Stamps
	out.NewTotal = c.Total
	return out, nil
}

// BusinessStats aggregates membership counters for a business
func (s *MemoryStore) BusinessStats(_ context.Context, businessID string, now time.Time) (*model.BusinessStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.BusinessStats{BusinessID: businessID, ComputedAt: now}
	for _, m := range s.memberships {
		if m.BusinessID != businessID {
			continue
		}
		stats.Members++
		stats.StampsInCycle += int64(m.Stamps)
		stats.StampsLifetime += int64(m.TotalStampsCollected)
		stats.RewardsRedeemed += int64(m.RedeemedRewards)
	}
	return stats, nil
}

// Memberships returns every membership of a business ordered by creation time
func (s *MemoryStore) Memberships(businessID string) []model.Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Membership
	for _, m := range s.memberships {
		if m.BusinessID == businessID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }
