package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	GitHub    GitHubConfig
	Sync      SyncConfig
	Survey    SurveyConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// DatabaseConfig contains postgres connectivity.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig contains the shared-state backend for webhook dedup and sync
// leases. When Addr is empty the in-process fallbacks are used.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GitHubConfig configures GitHub API interactions.
type GitHubConfig struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	Auth           GitHubAuthConfig
	Retry          RetryConfig
	RateLimit      RateLimitConfig
	DaysBack       int
	CopilotOrg     string
}

// GitHubAuthConfig holds both credential kinds. App installation credentials
// are preferred over the OAuth token when both are present.
type GitHubAuthConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	OAuthToken     string `yaml:"oauth_token"`
}

// HasInstallation reports whether App installation credentials are complete.
func (a GitHubAuthConfig) HasInstallation() bool {
	return a.AppID > 0 && a.InstallationID > 0 && a.PrivateKeyPath != ""
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// RetryConfig configures retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SyncConfig configures the periodic sync scheduler and webhook dedup.
type SyncConfig struct {
	Interval        time.Duration
	Workers         int
	LeaseTTL        time.Duration
	WebhookDedupTTL time.Duration
}

// SurveyConfig configures survey token signing.
type SurveyConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	auth := c.GitHub.Auth
	if !auth.HasInstallation() && auth.OAuthToken == "" {
		errs = append(errs, "github.auth requires either app credentials (app_id, installation_id, private_key_path) or oauth_token")
	}
	if (auth.AppID > 0 || auth.InstallationID > 0 || auth.PrivateKeyPath != "") && !auth.HasInstallation() {
		errs = append(errs, "github.auth app credentials are incomplete")
	}
	if c.GitHub.Retry.MaxAttempts <= 0 {
		errs = append(errs, "github.retry.max_attempts must be > 0")
	}
	if c.GitHub.DaysBack <= 0 {
		errs = append(errs, "github.days_back must be > 0")
	}

	if c.Sync.Interval <= 0 {
		errs = append(errs, "sync.interval must be > 0")
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, "sync.workers must be > 0")
	}
	if c.Sync.LeaseTTL <= 0 {
		errs = append(errs, "sync.lease_ttl must be > 0")
	}

	if c.Survey.TokenSecret == "" {
		errs = append(errs, "survey.token_secret is required")
	}
	if c.Survey.TokenTTL <= 0 {
		errs = append(errs, "survey.token_ttl must be > 0")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com"
	}
	if cfg.GitHub.RequestTimeout == 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.GitHub.Retry.MaxAttempts == 0 {
		cfg.GitHub.Retry.MaxAttempts = 3
	}
	if cfg.GitHub.Retry.InitialBackoff == 0 {
		cfg.GitHub.Retry.InitialBackoff = time.Second
	}
	if cfg.GitHub.Retry.MaxBackoff == 0 {
		cfg.GitHub.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.GitHub.RateLimit.MinRemainingThreshold == 0 {
		cfg.GitHub.RateLimit.MinRemainingThreshold = 100
	}
	if cfg.GitHub.RateLimit.SecondaryLimitBackoff == 0 {
		cfg.GitHub.RateLimit.SecondaryLimitBackoff = time.Minute
	}
	if cfg.GitHub.DaysBack == 0 {
		cfg.GitHub.DaysBack = 90
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = time.Hour
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 30 * time.Minute
	}
	if cfg.Sync.WebhookDedupTTL == 0 {
		cfg.Sync.WebhookDedupTTL = 24 * time.Hour
	}
	if cfg.Survey.TokenTTL == 0 {
		cfg.Survey.TokenTTL = 7 * 24 * time.Hour
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	GitHub    rawGitHub      `yaml:"github"`
	Sync      rawSync        `yaml:"sync"`
	Survey    rawSurvey      `yaml:"survey"`
	Telemetry rawTelemetry   `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL     string           `yaml:"api_base_url"`
	RequestTimeout duration         `yaml:"request_timeout"`
	Auth           GitHubAuthConfig `yaml:"auth"`
	Retry          rawRetry         `yaml:"retry"`
	RateLimit      rawRateLimit     `yaml:"rate_limit"`
	DaysBack       int              `yaml:"days_back"`
	CopilotOrg     string           `yaml:"copilot_org"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawSync struct {
	Interval        duration `yaml:"interval"`
	Workers         int      `yaml:"workers"`
	LeaseTTL        duration `yaml:"lease_ttl"`
	WebhookDedupTTL duration `yaml:"webhook_dedup_ttl"`
}

type rawSurvey struct {
	TokenSecret string   `yaml:"token_secret"`
	TokenTTL    duration `yaml:"token_ttl"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server:   r.Server,
		Database: r.Database,
		Redis:    r.Redis,
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
			Auth:           r.GitHub.Auth,
			Retry: RetryConfig{
				MaxAttempts:    r.GitHub.Retry.MaxAttempts,
				InitialBackoff: r.GitHub.Retry.InitialBackoff.Duration,
				MaxBackoff:     r.GitHub.Retry.MaxBackoff.Duration,
			},
			RateLimit: RateLimitConfig{
				MinRemainingThreshold: r.GitHub.RateLimit.MinRemainingThreshold,
				MinResetBuffer:        r.GitHub.RateLimit.MinResetBuffer.Duration,
				SecondaryLimitBackoff: r.GitHub.RateLimit.SecondaryLimitBackoff.Duration,
			},
			DaysBack:   r.GitHub.DaysBack,
			CopilotOrg: r.GitHub.CopilotOrg,
		},
		Sync: SyncConfig{
			Interval:        r.Sync.Interval.Duration,
			Workers:         r.Sync.Workers,
			LeaseTTL:        r.Sync.LeaseTTL.Duration,
			WebhookDedupTTL: r.Sync.WebhookDedupTTL.Duration,
		},
		Survey: SurveyConfig{
			TokenSecret: r.Survey.TokenSecret,
			TokenTTL:    r.Survey.TokenTTL.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
