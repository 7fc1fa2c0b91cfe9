// Package config loads harvester settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Sternrassler/repo-harvester/pkg/logging"
	"github.com/Sternrassler/repo-harvester/pkg/model"
)

var (
	// ErrMissingRequired is returned when a required setting is empty.
	ErrMissingRequired = errors.New("missing required configuration")

	// ErrInvalid is returned when a setting is out of range.
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the full harvester configuration.
type Config struct {
	// GitHub search
	GitHubToken      string `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL     string `envconfig:"GITHUB_API_URL"`
	UserAgent        string `envconfig:"USER_AGENT" default:"repo-harvester/0.1.0"`
	SearchQualifiers string `envconfig:"SEARCH_QUALIFIERS" default:"is:public"`
	OrderKey         string `envconfig:"ORDER_KEY" default:"stars"`

	// KeyLow and KeyHigh bound the ordering key, both inclusive. Date keys
	// take YYYY-MM-DD or "today".
	KeyLow  string `envconfig:"KEY_LOW" default:"0"`
	KeyHigh string `envconfig:"KEY_HIGH" default:"1000000"`

	// Crawl
	TargetCount   int   `envconfig:"TARGET_COUNT" default:"100000"`
	WindowLimit   int   `envconfig:"WINDOW_LIMIT" default:"1000"`
	PageSize      int   `envconfig:"PAGE_SIZE" default:"100"`
	MinChunkWidth int64 `envconfig:"MIN_CHUNK_WIDTH" default:"1"`
	Workers       int   `envconfig:"WORKERS" default:"4"`
	ProgressEvery int   `envconfig:"PROGRESS_EVERY" default:"1000"`

	// Retry and rate limiting
	MaxAttempts       int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	InitialBackoff    time.Duration `envconfig:"INITIAL_BACKOFF" default:"1s"`
	MaxBackoff        time.Duration `envconfig:"MAX_BACKOFF" default:"30s"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"0.5"`
	SecondaryInitial  time.Duration `envconfig:"SECONDARY_INITIAL" default:"5s"`
	SecondaryMax      time.Duration `envconfig:"SECONDARY_MAX" default:"10m"`

	// Postgres
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"postgres"`
	DBPassword  string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName      string `envconfig:"DB_NAME" default:"github"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	// Redis. An empty address keeps dedup in memory and disables the
	// count cache and the shared quota snapshot.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	DedupKey      string        `envconfig:"DEDUP_KEY" default:"harvester:accepted_ids"`
	CountCacheTTL time.Duration `envconfig:"COUNT_CACHE_TTL" default:"1h"`

	// Observability
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads .env, if present, then the environment, and validates the
// result. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	if c.TargetCount <= 0 {
		return fmt.Errorf("%w: TARGET_COUNT must be positive", ErrInvalid)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: WORKERS must be positive", ErrInvalid)
	}
	if c.WindowLimit <= 0 {
		return fmt.Errorf("%w: WINDOW_LIMIT must be positive", ErrInvalid)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("%w: PAGE_SIZE must be within 1..100", ErrInvalid)
	}
	if c.MinChunkWidth < 1 {
		return fmt.Errorf("%w: MIN_CHUNK_WIDTH must be at least 1", ErrInvalid)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: MAX_ATTEMPTS must be at least 1", ErrInvalid)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: REQUESTS_PER_SECOND must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalid, err)
	}
	if _, _, err := c.KeyRange(); err != nil {
		return err
	}

	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	return nil
}

// KeyRange resolves the ordering key and the half-open range it spans.
func (c *Config) KeyRange() (model.OrderingKey, model.Range, error) {
	key, err := model.ParseOrderingKey(c.OrderKey)
	if err != nil {
		return model.OrderingKey{}, model.Range{}, fmt.Errorf("%w: ORDER_KEY: %v", ErrInvalid, err)
	}
	low, err := key.ParseValue(c.KeyLow)
	if err != nil {
		return key, model.Range{}, fmt.Errorf("%w: KEY_LOW: %v", ErrInvalid, err)
	}
	high, err := key.ParseValue(c.KeyHigh)
	if err != nil {
		return key, model.Range{}, fmt.Errorf("%w: KEY_HIGH: %v", ErrInvalid, err)
	}
	if high < low {
		return key, model.Range{}, fmt.Errorf("%w: KEY_HIGH is below KEY_LOW", ErrInvalid)
	}
	return key, model.Range{Low: low, High: high + 1}, nil
}

// DatabaseURL renders the Postgres connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + strconv.Itoa(c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}
