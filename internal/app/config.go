package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SCHEME_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SCHEME_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SCHEME_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Session      SessionConfig
	Membership   MembershipConfig
	Audit        AuditConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig controls the scheme snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `default:"" usage:"Redis address for the scheme snapshot cache"`
	Password    string        `default:"" usage:"Redis password"`
	DB          int           `default:"0" usage:"Redis database number"`
	SnapshotTTL time.Duration `default:"30s" usage:"Lifetime of a cached scheme snapshot" flag:"snapshot-ttl"`
}

// SessionConfig controls calculation session expiry.
type SessionConfig struct {
	TTL             time.Duration `default:"2h" usage:"Idle time after which a session expires"`
	CleanupInterval time.Duration `default:"1m" usage:"Interval between expired session sweeps" flag:"session-cleanup-interval"`
}

// MembershipConfig sizes and refreshes the segment/zone membership filter.
type MembershipConfig struct {
	RefreshInterval   time.Duration `default:"5m" usage:"Interval between membership filter rebuilds" flag:"membership-refresh-interval"`
	ExpectedEntries   uint          `default:"1000000" usage:"Expected number of membership rows"`
	FalsePositiveRate float64       `default:"0.001" usage:"Target false positive rate of the membership filter"`
}

// AuditConfig controls the override audit stream. The database table is
// always written; File adds an NDJSON copy.
type AuditConfig struct {
	File string `default:"" usage:"Path of an NDJSON file mirroring override audit events" flag:"audit-file"`
}

// RateLimitConfig controls the per-API-key sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"600" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SCHEME",
		Files:     []string{"config.yaml", "/etc/scheme-engine/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SCHEME_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SCHEME_API_KEY_PEPPER")
	}
	if c.Session.TTL <= 0 {
		return errors.Errorf("session TTL must be positive, got %s", c.Session.TTL)
	}
	if c.Membership.FalsePositiveRate <= 0 || c.Membership.FalsePositiveRate >= 1 {
		return errors.Errorf("membership false positive rate must be in (0, 1), got %v", c.Membership.FalsePositiveRate)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL, REDIS_ADDR and
// PORT onto the SCHEME_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
