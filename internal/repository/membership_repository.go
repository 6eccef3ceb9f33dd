package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kkkkikiki/stampcard/internal/model"
)

const membershipColumns = `id, business_id, identity_key, stamps, total_stamps_collected,
	redeemed_rewards, referral_code, referred_by_code, referral_bonus_awarded,
	first_stamp_completed, last_scan_at, created_at, updated_at`

// referral code collisions are retried this many times before giving up
const referralCodeAttempts = 5

// NewReferralCode returns a fresh 8-character referral code
func NewReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Increment describes one atomic counter update. Stamps, Total and Redeemed
// are added to their columns in a single statement; ResetStamps zeroes the
// current cycle instead of adding to it.
type Increment struct {
	Stamps      int
	Total       int
	Redeemed    int
	ResetStamps bool

	// Guards, applied in the same statement
	ScanAt         *time.Time    // records last_scan_at
	Cooldown       time.Duration // with ScanAt: reject if the previous scan is inside this window
	MinStamps      int           // reject if stamps < MinStamps
	ClaimReferral  bool          // reject unless referral_bonus_awarded is false, then set it
	RequireCounted bool          // reject unless stamps > 0
}

// Counters is the state returned by an increment
type Counters struct {
	Stamps   int `db:"stamps"`
	Total    int `db:"total_stamps_collected"`
	Redeemed int `db:"redeemed_rewards"`
}

// MembershipRepository handles membership data operations
type MembershipRepository struct{}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository() *MembershipRepository {
	return &MembershipRepository{}
}

// GetMembership retrieves a membership by id
func (r *MembershipRepository) GetMembership(ctx context.Context, db DBExecutor, id string) (*model.Membership, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrNotFound
	}
	return r.getOne(ctx, db, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id)
}

// GetMembershipByIdentity retrieves the membership of an identity at a business
func (r *MembershipRepository) GetMembershipByIdentity(ctx context.Context, db DBExecutor, businessID, identityKey string) (*model.Membership, error) {
	return r.getOne(ctx, db,
		`SELECT `+membershipColumns+` FROM memberships WHERE business_id = $1 AND identity_key = $2`,
		businessID, identityKey)
}

// GetMembershipByReferralCode finds the owner of a referral code within a business
func (r *MembershipRepository) GetMembershipByReferralCode(ctx context.Context, db DBExecutor, businessID, code string) (*model.Membership, error) {
	return r.getOne(ctx, db,
		`SELECT `+membershipColumns+` FROM memberships WHERE business_id = $1 AND referral_code = $2`,
		businessID, code)
}

func (r *MembershipRepository) getOne(ctx context.Context, db DBExecutor, query string, args ...interface{}) (*model.Membership, error) {
	var m model.Membership
	if err := db.GetContext(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// CreateMembership inserts a membership seeded with welcome stamps unless one
// already exists for the identity. It reports whether this call created it.
func (r *MembershipRepository) CreateMembership(ctx context.Context, db DBExecutor, nm model.NewMembership) (*model.Membership, bool, error) {
	query := `
		INSERT INTO memberships (id, business_id, identity_key, stamps, total_stamps_collected,
			redeemed_rewards, referral_code, referred_by_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, 0, $5, $6, $7, $7)
		ON CONFLICT ON CONSTRAINT memberships_identity_key DO NOTHING
		RETURNING ` + membershipColumns

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		var m model.Membership
		err := db.GetContext(ctx, &m, query,
			uuid.NewString(), nm.BusinessID, nm.IdentityKey, nm.WelcomeStamps,
			NewReferralCode(), nm.ReferredByCode, nm.Now)
		switch {
		case err == nil:
			return &m, true, nil
		case errors.Is(err, sql.ErrNoRows):
			// Lost the race to a concurrent creator; theirs is the membership.
			existing, err := r.GetMembershipByIdentity(ctx, db, nm.BusinessID, nm.IdentityKey)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		case isReferralCodeCollision(err):
			continue
		default:
			return nil, false, fmt.Errorf("failed to create membership: %w", err)
		}
	}
	return nil, false, fmt.Errorf("failed to create membership: referral code collided %d times", referralCodeAttempts)
}

func isReferralCodeCollision(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "memberships_referral_code_key"
}

// Increment applies inc to a membership in one UPDATE statement and returns
// the resulting counters. Every counter change in the ledger goes through
// here; a guard that rejects the row yields guardErr, a missing row
// model.ErrNotFound.
func (r *MembershipRepository) Increment(ctx context.Context, db DBExecutor, id string, inc Increment, now time.Time, guardErr error) (Counters, error) {
	query, args := buildIncrement(id, inc, now)

	var c Counters
	err := db.GetContext(ctx, &c, query, args...)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Counters{}, fmt.Errorf("failed to increment membership: %w", err)
	}

	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM memberships WHERE id = $1)`, id); err != nil {
		return Counters{}, fmt.Errorf("failed to check membership: %w", err)
	}
	if !exists || guardErr == nil {
		return Counters{}, model.ErrNotFound
	}
	return Counters{}, guardErr
}

func buildIncrement(id string, inc Increment, now time.Time) (string, []interface{}) {
	args := []interface{}{id, now}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = $2"}
	if inc.ResetStamps {
		sets = append(sets, "stamps = 0")
	} else if inc.Stamps != 0 {
		sets = append(sets, "stamps = stamps + "+arg(inc.Stamps))
	}
	if inc.Total != 0 {
		sets = append(sets, "total_stamps_collected = total_stamps_collected + "+arg(inc.Total))
	}
	if inc.Redeemed != 0 {
		sets = append(sets, "redeemed_rewards = redeemed_rewards + "+arg(inc.Redeemed))
	}

	where := []string{"id = $1"}
	if inc.ScanAt != nil {
		sets = append(sets, "last_scan_at = "+arg(*inc.ScanAt))
		if inc.Cooldown > 0 {
			where = append(where, "(last_scan_at IS NULL OR last_scan_at <= "+arg(inc.ScanAt.Add(-inc.Cooldown))+")")
		}
	}
	if inc.MinStamps > 0 {
		where = append(where, "stamps >= "+arg(inc.MinStamps))
	}
	if inc.ClaimReferral {
		sets = append(sets, "referral_bonus_awarded = TRUE")
		where = append(where, "referral_bonus_awarded = FALSE")
	}
	if inc.RequireCounted {
		where = append(where, "stamps > 0")
	}

	query := `UPDATE memberships SET ` + strings.Join(sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING stamps, total_stamps_collected, redeemed_rewards`
	return query, args
}

// MarkFirstStamp flips first_stamp_completed false->true for a membership that
// holds stamps. It reports whether this call performed the transition.
func (r *MembershipRepository) MarkFirstStamp(ctx context.Context, db DBExecutor, id string, now time.Time) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE memberships
		SET first_stamp_completed = TRUE, updated_at = $2
		WHERE id = $1 AND first_stamp_completed = FALSE AND stamps > 0
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark first stamp: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// BusinessStats aggregates membership counters for a business
func (r *MembershipRepository) BusinessStats(ctx context.Context, db DBExecutor, businessID string, now time.Time) (*model.BusinessStats, error) {
	query := `
		SELECT COUNT(*) AS members,
			COALESCE(SUM(stamps), 0) AS stamps_in_cycle,
			COALESCE(SUM(total_stamps_collected), 0) AS stamps_lifetime,
			COALESCE(SUM(redeemed_rewards), 0) AS rewards_redeemed
		FROM memberships
		WHERE business_id = $1
	`

	stats := model.BusinessStats{BusinessID: businessID, ComputedAt: now}
	if err := db.GetContext(ctx, &stats, query, businessID); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	return &stats, nil
}
