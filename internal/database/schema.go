package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the tables used by the stamp engine. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id UUID PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		cooldown_minutes INTEGER NOT NULL DEFAULT 2 CHECK (cooldown_minutes >= 0),
		max_stamps INTEGER NOT NULL DEFAULT 10 CHECK (max_stamps > 0),
		bonus_periods JSONB NOT NULL DEFAULT '[]'::jsonb,
		welcome_stamps_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		welcome_stamps INTEGER NOT NULL DEFAULT 0 CHECK (welcome_stamps >= 0),
		referral_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		referral_bonus_points INTEGER NOT NULL DEFAULT 0 CHECK (referral_bonus_points >= 0),
		referee_bonus_points INTEGER NOT NULL DEFAULT 0 CHECK (referee_bonus_points >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		id UUID PRIMARY KEY,
		business_id UUID NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		identity_key TEXT NOT NULL,
		stamps INTEGER NOT NULL DEFAULT 0 CHECK (stamps >= 0),
		total_stamps_collected INTEGER NOT NULL DEFAULT 0 CHECK (total_stamps_collected >= 0),
		redeemed_rewards INTEGER NOT NULL DEFAULT 0 CHECK (redeemed_rewards >= 0),
		referral_code TEXT NOT NULL,
		referred_by_code TEXT,
		referral_bonus_awarded BOOLEAN NOT NULL DEFAULT FALSE,
		first_stamp_completed BOOLEAN NOT NULL DEFAULT FALSE,
		last_scan_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT memberships_identity_key UNIQUE (business_id, identity_key),
		CONSTRAINT memberships_referral_code_key UNIQUE (business_id, referral_code)
	)`,
	`CREATE INDEX IF NOT EXISTS memberships_business_idx ON memberships (business_id)`,
}

// Migrate applies Schema inside a single transaction
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
