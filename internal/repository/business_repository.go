package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/stampcard/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const businessColumns = `id, slug, name, timezone, cooldown_minutes, max_stamps, bonus_periods,
	welcome_stamps_enabled, welcome_stamps, referral_enabled, referral_bonus_points,
	referee_bonus_points, created_at, updated_at`

// BusinessRepository handles business data operations
type BusinessRepository struct{}

// NewBusinessRepository creates a new business repository
func NewBusinessRepository() *BusinessRepository {
	return &BusinessRepository{}
}

// CreateBusiness inserts a business, assigning an id when none is set.
// CooldownMinutes is written as given; 0 disables the cooldown.
func (r *BusinessRepository) CreateBusiness(ctx context.Context, db DBExecutor, b *model.Business) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if b.MaxStamps <= 0 {
		b.MaxStamps = model.DefaultMaxStamps
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	query := `
		INSERT INTO businesses (` + businessColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := db.ExecContext(ctx, query,
		b.ID, b.Slug, b.Name, b.Timezone, b.CooldownMinutes, b.MaxStamps, b.BonusPeriods,
		b.WelcomeStampsEnabled, b.WelcomeStamps, b.ReferralEnabled, b.ReferralBonusPoints,
		b.RefereeBonusPoints, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

// GetBusiness retrieves a business by primary key
func (r *BusinessRepository) GetBusiness(ctx context.Context, db DBExecutor, id string) (*model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`

	var business model.Business
	err := db.GetContext(ctx, &business, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}

	return &business, nil
}

// ListBusinesses returns every business in creation order
func (r *BusinessRepository) ListBusinesses(ctx context.Context, db DBExecutor) ([]model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses ORDER BY created_at ASC, id ASC`

	var businesses []model.Business
	if err := db.SelectContext(ctx, &businesses, query); err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	return businesses, nil
}
