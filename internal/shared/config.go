package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Remote      RemoteConfig      `toml:"remote"`
	Quota       QuotaConfig       `toml:"quota"`
	Retry       RetryConfig       `toml:"retry"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	YouTube YouTubeConfig `toml:"youtube"`
}

// YouTubeConfig contains YouTube Data API credentials.
//
// Either an OAuth client (client_id/client_secret plus a token saved by `ytsync auth login`)
// or a plain API key can be used. The API key only grants access to public playlists.
type YouTubeConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	APIKey       string `toml:"api_key"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	TokenType    string `toml:"token_type"`
	Expiry       string `toml:"expiry"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings for the OAuth callback and metrics endpoint.
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPath string `toml:"metrics_path"`
}

// RemoteConfig contains settings for calls to the YouTube Data API.
type RemoteConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// QuotaConfig contains the daily call budget and per-operation costs.
type QuotaConfig struct {
	DailyLimit    int            `toml:"daily_limit"`
	WarnThreshold float64        `toml:"warn_threshold"` // fraction of the daily limit
	PageSize      int            `toml:"page_size"`
	Costs         map[string]int `toml:"costs"`
}

// RetryConfig contains retry/backoff settings for remote calls.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	Multiplier   float64  `toml:"multiplier"`
}

// BreakerConfig contains circuit breaker settings for the remote dependency.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	OpenTimeout      Duration `toml:"open_timeout"`
}

// SyncConfig contains batch synchronization settings.
type SyncConfig struct {
	Concurrency        int      `toml:"concurrency"`
	RateLimit          float64  `toml:"rate_limit"`          // collections started per second
	BatchSize          int      `toml:"batch_size"`          // video ids per details request
	UnavailableRecheck Duration `toml:"unavailable_recheck"` // how long an unavailable video is skipped
}

// Duration wraps [time.Duration] so it can be written as "1s" or "250ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the numeric settings the sync engine depends on.
func (c *Config) Validate() error {
	switch {
	case c.Quota.DailyLimit <= 0:
		return fmt.Errorf("%w: quota.daily_limit must be positive", ErrInvalidConfig)
	case c.Quota.WarnThreshold < 0 || c.Quota.WarnThreshold >= 1:
		return fmt.Errorf("%w: quota.warn_threshold must be in [0, 1)", ErrInvalidConfig)
	case c.Quota.PageSize <= 0 || c.Quota.PageSize > 50:
		return fmt.Errorf("%w: quota.page_size must be in [1, 50]", ErrInvalidConfig)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidConfig)
	case c.Retry.InitialDelay.Duration <= 0 || c.Retry.MaxDelay.Duration < c.Retry.InitialDelay.Duration:
		return fmt.Errorf("%w: retry delays must satisfy 0 < initial_delay <= max_delay", ErrInvalidConfig)
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("%w: retry.multiplier must be >= 1", ErrInvalidConfig)
	case c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1:
		return fmt.Errorf("%w: breaker thresholds must be at least 1", ErrInvalidConfig)
	case c.Breaker.OpenTimeout.Duration <= 0:
		return fmt.Errorf("%w: breaker.open_timeout must be positive", ErrInvalidConfig)
	case c.Sync.Concurrency < 1:
		return fmt.Errorf("%w: sync.concurrency must be at least 1", ErrInvalidConfig)
	case c.Sync.BatchSize < 1 || c.Sync.BatchSize > 50:
		return fmt.Errorf("%w: sync.batch_size must be in [1, 50]", ErrInvalidConfig)
	case c.Sync.UnavailableRecheck.Duration < 0:
		return fmt.Errorf("%w: sync.unavailable_recheck must not be negative", ErrInvalidConfig)
	}
	return nil
}

// HasOAuthClient reports whether an OAuth client is configured.
func (c YouTubeConfig) HasOAuthClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Token returns the saved OAuth token, or nil when none has been stored.
func (c YouTubeConfig) Token() *oauth2.Token {
	if c.AccessToken == "" && c.RefreshToken == "" {
		return nil
	}

	token := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
	}
	if c.Expiry != "" {
		if expiry, err := time.Parse(time.RFC3339, c.Expiry); err == nil {
			token.Expiry = expiry
		}
	}
	return token
}

// Update stores token in the configuration.
func (c *YouTubeConfig) Update(token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("%w: nil token", ErrInvalidCredentials)
	}

	c.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.RefreshToken = token.RefreshToken
	}
	c.TokenType = token.TokenType
	if !token.Expiry.IsZero() {
		c.Expiry = token.Expiry.UTC().Format(time.RFC3339)
	}
	return nil
}
