package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/stampcard/internal/model"
)

var errReferralClaimed = errors.New("referral bonus already awarded")

// PostgresStore serves the engine's business directory and membership store
// from PostgreSQL
type PostgresStore struct {
	db          *sqlx.DB
	businesses  *BusinessRepository
	memberships *MembershipRepository
}

// NewPostgresStore creates a store over an open connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		businesses:  NewBusinessRepository(),
		memberships: NewMembershipRepository(),
	}
}

// CreateBusiness inserts a business
func (s *PostgresStore) CreateBusiness(ctx context.Context, b *model.Business) error {
	return s.businesses.CreateBusiness(ctx, s.db, b)
}

// GetBusiness retrieves a business by id
func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	return s.businesses.GetBusiness(ctx, s.db, id)
}

// ListBusinesses enumerates every business
func (s *PostgresStore) ListBusinesses(ctx context.Context) ([]model.Business, error) {
	return s.businesses.ListBusinesses(ctx, s.db)
}

// GetMembership retrieves a membership by id
func (s *PostgresStore) GetMembership(ctx context.Context, id string) (*model.Membership, error) {
	return s.memberships.GetMembership(ctx, s.db, id)
}

// GetMembershipByIdentity retrieves the membership of an identity at a business
func (s *PostgresStore) GetMembershipByIdentity(ctx context.Context, businessID, identityKey string) (*model.Membership, error) {
	return s.memberships.GetMembershipByIdentity(ctx, s.db, businessID, identityKey)
}

// CreateMembership inserts a membership unless the identity already has one
func (s *PostgresStore) CreateMembership(ctx context.Context, nm model.NewMembership) (*model.Membership, bool, error) {
	return s.memberships.CreateMembership(ctx, s.db, nm)
}

// AwardStamps adds stamps to both the current cycle and the lifetime counter
// and records the scan time, rejecting the award with model.ErrCooldownActive
// if a previous scan is still inside cooldown
func (s *PostgresStore) AwardStamps(ctx context.Context, membershipID string, stamps int, scanAt time.Time, cooldown time.Duration) (model.AwardResult, error) {
	c, err := s.memberships.Increment(ctx, s.db, membershipID, Increment{
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

// Redeem zeroes the current cycle and counts a completed reward, leaving the
// lifetime counter alone. Memberships holding fewer than minStamps are
// rejected with model.ErrBelowThreshold.
func (s *PostgresStore) Redeem(ctx context.Context, membershipID string, minStamps int, now time.Time) (int, error) {
	c, err := s.memberships.Increment(ctx, s.db, membershipID, Increment{
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
// bonuses in one transaction
func (s *PostgresStore) CompleteFirstStamp(ctx context.Context, g model.ReferralGrant) (model.ReferralOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.ReferralOutcome{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transitioned, err := s.memberships.MarkFirstStamp(ctx, tx, g.MembershipID, g.Now)
	if err != nil {
		return model.ReferralOutcome{}, err
	}
	if !transitioned {
		return model.ReferralOutcome{}, nil
	}

	out := model.ReferralOutcome{Transitioned: true}
	if g.ReferredBy != "" {
		out, err = s.grantReferral(ctx, tx, g)
		if err != nil {
			return model.ReferralOutcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.ReferralOutcome{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) grantReferral(ctx context.Context, tx *sqlx.Tx, g model.ReferralGrant) (model.ReferralOutcome, error) {
	out := model.ReferralOutcome{Transitioned: true}

	referrer, err := s.memberships.GetMembershipByReferralCode(ctx, tx, g.BusinessID, g.ReferredBy)
	if errors.Is(err, model.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if referrer.ID == g.MembershipID {
		return out, nil
	}

	c, err := s.memberships.Increment(ctx, tx, g.MembershipID, Increment{
		Stamps:        g.RefereeBonus,
		Total:         g.RefereeBonus,
		ClaimReferral: true,
	}, g.Now, errReferralClaimed)
	if errors.Is(err, errReferralClaimed) {
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if _, err := s.memberships.Increment(ctx, tx, referrer.ID, Increment{
		Stamps: g.ReferrerBonus,
		Total:  g.ReferrerBonus,
	}, g.Now, nil); err != nil {
		return out, err
	}

	out.Awarded = true
	out.ReferrerID = referrer.ID
	out.NewStamps = c.Stamps
	out.NewTotal = c.Total
	return out, nil
}

// BusinessStats aggregates membership counters for a business
func (s *PostgresStore) BusinessStats(ctx context.Context, businessID string, now time.Time) (*model.BusinessStats, error) {
	return s.memberships.BusinessStats(ctx, s.db, businessID, now)
}

// Ping checks the connection pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
