package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type R2 struct {
	AccountID  string `env:"R2_ACCOUNT_ID"`
	AccessKey  string `env:"R2_ACCESS_KEY"`
	SecretKey  string `env:"R2_SECRET_KEY"`
	BucketName string `env:"R2_BUCKET_NAME"`
}

func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type LinkedIn struct {
	AccessToken string `env:"LINKEDIN_ACCESS_TOKEN"`
	PersonURN   string `env:"LINKEDIN_PERSON_URN"`
}

func (l LinkedIn) Enabled() bool {
	return l.AccessToken != "" && l.PersonURN != ""
}

type Generation struct {
	URL     string        `env:"GENERATION_URL"`
	APIKey  string        `env:"GENERATION_API_KEY"`
	Timeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"90s"`
}

type Watchdog struct {
	Schedule     string        `env:"WATCHDOG_SCHEDULE" envDefault:"@every 5m"`
	StaleAfter   time.Duration `env:"WATCHDOG_STALE_AFTER" envDefault:"60m"`
	PageSize     int           `env:"WATCHDOG_PAGE_SIZE" envDefault:"100"`
	MaxPages     int           `env:"WATCHDOG_MAX_PAGES" envDefault:"10"`
	PostLookback time.Duration `env:"WATCHDOG_POST_LOOKBACK" envDefault:"72h"`
	LeaseTTL     time.Duration `env:"WATCHDOG_LEASE_TTL" envDefault:"4m"`
}

type Publish struct {
	ConfidenceThreshold float64       `env:"POST_CONFIDENCE_THRESHOLD" envDefault:"0.7"`
	MaxPostsPerCycle    int           `env:"MAX_POSTS_PER_CYCLE" envDefault:"4"`
	SettleDelay         time.Duration `env:"PUBLISH_SETTLE_DELAY" envDefault:"2s"`
	VerifyAttempts      int           `env:"VERIFY_ATTEMPTS" envDefault:"3"`
	VerifyBackoff       time.Duration `env:"VERIFY_BACKOFF" envDefault:"1s"`
	PlatformTimeout     time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"30s"`
}

type Config struct {
	DatabaseURL      string        `env:"DATABASE_URL"`
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"postgres"`
	RedisURI         string        `env:"REDIS_URI"`
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":3000"`
	AdminSecret      string        `env:"ADMIN_SECRET"`
	PipelineSchedule string        `env:"PIPELINE_SCHEDULE" envDefault:"@every 6h"`
	CycleConcurrency int           `env:"CYCLE_CONCURRENCY" envDefault:"4"`
	SelfClientID     string        `env:"SELF_CLIENT_ID"`
	TrialLength      time.Duration `env:"TRIAL_LENGTH" envDefault:"336h"`
	OtelEndpoint     string        `env:"OTEL_EXPORTER_ENDPOINT"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"json"`

	Watchdog   Watchdog
	Publish    Publish
	Generation Generation
	LinkedIn   LinkedIn
	R2         R2
}

// LoadConfig parses the environment. Call godotenv first to pick up .env.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver))
	}
	if c.Publish.ConfidenceThreshold < 0 || c.Publish.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("POST_CONFIDENCE_THRESHOLD must be within [0, 1], got %v", c.Publish.ConfidenceThreshold))
	}
	if c.Publish.MaxPostsPerCycle < 1 {
		errs = append(errs, errors.New("MAX_POSTS_PER_CYCLE must be at least 1"))
	}
	if c.Publish.VerifyAttempts < 1 {
		errs = append(errs, errors.New("VERIFY_ATTEMPTS must be at least 1"))
	}
	if c.Publish.SettleDelay < 0 || c.Publish.VerifyBackoff < 0 {
		errs = append(errs, errors.New("publish delays must not be negative"))
	}
	if c.Publish.PlatformTimeout <= 0 || c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("PLATFORM_TIMEOUT and GENERATION_TIMEOUT must be positive"))
	}
	if c.CycleConcurrency < 1 {
		errs = append(errs, errors.New("CYCLE_CONCURRENCY must be at least 1"))
	}
	if c.Watchdog.StaleAfter <= 0 || c.Watchdog.LeaseTTL <= 0 {
		errs = append(errs, errors.New("WATCHDOG_STALE_AFTER and WATCHDOG_LEASE_TTL must be positive"))
	}
	if c.Watchdog.PageSize < 1 || c.Watchdog.MaxPages < 1 {
		errs = append(errs, errors.New("WATCHDOG_PAGE_SIZE and WATCHDOG_MAX_PAGES must be at least 1"))
	}
	if c.TrialLength <= 0 {
		errs = append(errs, errors.New("TRIAL_LENGTH must be positive"))
	}
	if !strings.HasPrefix(c.PipelineSchedule, "@") && len(strings.Fields(c.PipelineSchedule)) < 5 {
		errs = append(errs, fmt.Errorf("PIPELINE_SCHEDULE %q is not a cron spec", c.PipelineSchedule))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
