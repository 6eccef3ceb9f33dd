package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis configuration for the stats cache
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Stamp engine configuration
	Engine EngineConfig `env:",prefix=ENGINE_"`

	// Capture negotiator configuration (kiosk)
	Capture CaptureConfig `env:",prefix=CAPTURE_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string  `env:"PORT,default=8080"`
	Host         string  `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int     `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int     `env:"WRITE_TIMEOUT,default=30"` // seconds
	ScanRPS      float64 `env:"SCAN_RPS,default=5"`       // per client IP
	ScanBurst    int     `env:"SCAN_BURST,default=10"`
	TrustProxy   bool    `env:"TRUST_PROXY,default=false"` // honor X-Forwarded-For
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=stampcard"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=true"`
}

// RedisConfig holds the stats cache connection. An empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

// EngineConfig holds stamp engine tunables
type EngineConfig struct {
	StatsTTL time.Duration `env:"STATS_TTL,default=1m"`
}

// CaptureConfig holds kiosk capture settings
type CaptureConfig struct {
	AttemptTimeout time.Duration `env:"ATTEMPT_TIMEOUT,default=10s"`
	ProfilesFile   string        `env:"PROFILES_FILE"`
	Platform       string        `env:"PLATFORM"`
	ServerURL      string        `env:"SERVER_URL,default=http://localhost:8080"`
	FramesDir      string        `env:"FRAMES_DIR"` // frame grabber output; empty means no camera
	UserID         string        `env:"USER_ID"`    // scans are anonymous when empty
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
	Store       string `env:"STORE,default=postgres"` // postgres or memory
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

// LoadFrom loads configuration from the given key/value map instead of the
// process environment.
func LoadFrom(ctx context.Context, env map[string]string) (*Config, error) {
	return load(ctx, envconfig.MapLookuper(env))
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if cfg.App.Store != "postgres" && cfg.App.Store != "memory" {
		return nil, fmt.Errorf("unknown store backend %q", cfg.App.Store)
	}
	return &cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// UsesMemoryStore reports whether the in-memory store backend is selected
func (c *AppConfig) UsesMemoryStore() bool {
	return c.Store == "memory"
}
