package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	AuthMode string `mapstructure:"AUTH_MODE"`

	StoreBackend string `mapstructure:"STORE_BACKEND"`
	DataDir      string `mapstructure:"DATA_DIR"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`

	LegacyDir string `mapstructure:"LEGACY_DIR"`

	SyncEnabled   bool          `mapstructure:"SYNC_ENABLED"`
	RemoteURL     string        `mapstructure:"REMOTE_URL"`
	SyncToken     string        `mapstructure:"SYNC_TOKEN"`
	SyncInterval  time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncBatchSize int           `mapstructure:"SYNC_BATCH_SIZE"`
	SyncRetryMin  time.Duration `mapstructure:"SYNC_RETRY_MIN"`
	SyncRetryMax  time.Duration `mapstructure:"SYNC_RETRY_MAX"`

	AuthSecret   string `mapstructure:"AUTH_SECRET"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("STORE_BACKEND", "bolt")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SYNC_INTERVAL", "30s")
	v.SetDefault("SYNC_BATCH_SIZE", 100)
	v.SetDefault("SYNC_RETRY_MIN", "1s")
	v.SetDefault("SYNC_RETRY_MAX", "1m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("STORE_BACKEND")
	v.BindEnv("DATA_DIR")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("LEGACY_DIR")
	v.BindEnv("SYNC_ENABLED")
	v.BindEnv("REMOTE_URL")
	v.BindEnv("SYNC_TOKEN")
	v.BindEnv("SYNC_INTERVAL")
	v.BindEnv("SYNC_BATCH_SIZE")
	v.BindEnv("SYNC_RETRY_MIN")
	v.BindEnv("SYNC_RETRY_MAX")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Set ENV=production and AUTH_SECRET for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise the mode is inferred: development runs with
// the built-in dev identity, anything else requires signed tokens.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "bolt", "memory", "postgres":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"bolt\", \"memory\", or \"postgres\", got %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is \"postgres\"")
	}

	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
			"Refusing to start without authentication configuration", c.Env)
	}

	if c.SyncEnabled && c.RemoteURL == "" {
		return fmt.Errorf("REMOTE_URL is required when SYNC_ENABLED is true")
	}
	if c.SyncRetryMin <= 0 || c.SyncRetryMax < c.SyncRetryMin {
		return fmt.Errorf("sync retry bounds are invalid: min=%v max=%v", c.SyncRetryMin, c.SyncRetryMax)
	}

	return nil
}
