package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/config"
)

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB
	Redis    *redis.Client // nil when no Redis address is configured
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	// Connect to PostgreSQL
	postgres, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.Database.MaxConns)
	postgres.SetMaxIdleConns(cfg.Database.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	// Test PostgreSQL connection
	if err := postgres.PingContext(ctx); err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL", zap.String("database", cfg.Database.Name))

	if cfg.Database.Migrate {
		if err := Migrate(ctx, postgres); err != nil {
			postgres.Close()
			return nil, err
		}
	}

	db := &DB{Postgres: postgres}

	if cfg.Redis.Addr != "" {
		client, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			postgres.Close()
			return nil, err
		}
		logger.Info("Successfully connected to Redis", zap.String("addr", cfg.Redis.Addr))
		db.Redis = client
	}

	return db, nil
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Close closes all database connections, attempting each one even when an
// earlier close fails
func (db *DB) Close() error {
	var errs []error
	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	if err := db.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close PostgreSQL: %w", err))
	}
	return errors.Join(errs...)
}
