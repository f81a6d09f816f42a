package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cartsync/backend/internal/domain"
)

// DefaultCredentialsFile is loaded into the environment when present.
const DefaultCredentialsFile = "credentials.env"

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	Browser     BrowserConfig    `mapstructure:"browser"`
	Matching    MatchingConfig   `mapstructure:"matching"`
	Monitor     MonitorConfig    `mapstructure:"monitor"`
	Resolution  ResolutionConfig `mapstructure:"resolution"`
	Staging     StagingConfig    `mapstructure:"staging"`
	Amazon      AmazonConfig     `mapstructure:"amazon"`
	Walmart     WalmartConfig    `mapstructure:"walmart"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Server      ServerConfig     `mapstructure:"server"`
	Log         LogConfig        `mapstructure:"log"`
}

// BrowserConfig holds Chrome settings
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RemoteURL     string        `mapstructure:"remote_url"`
	CookiesDir    string        `mapstructure:"cookies_dir"`
	ScreenshotDir string        `mapstructure:"screenshot_dir"`
}

// MatchingConfig holds name matching thresholds
type MatchingConfig struct {
	MinMatchScore     float64 `mapstructure:"min_match_score"`
	HistoryMatchScore float64 `mapstructure:"history_match_score"`
	EnableFuzzy       bool    `mapstructure:"enable_fuzzy"`
}

// MonitorConfig holds polling and refresh settings
type MonitorConfig struct {
	IntervalSeconds           int `mapstructure:"interval_seconds"`
	RefreshIntervalMinMinutes int `mapstructure:"refresh_interval_min_minutes"`
	RefreshIntervalMaxMinutes int `mapstructure:"refresh_interval_max_minutes"`
	MaxReauthAttempts         int `mapstructure:"max_reauth_attempts"`
}

// PollInterval is the idle sleep between polls.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// RefreshBounds returns the jittered refresh interval bounds.
func (m MonitorConfig) RefreshBounds() (time.Duration, time.Duration) {
	return time.Duration(m.RefreshIntervalMinMinutes) * time.Minute,
		time.Duration(m.RefreshIntervalMaxMinutes) * time.Minute
}

// ResolutionConfig holds fallback tier settings
type ResolutionConfig struct {
	SearchFallbackMaxItems int           `mapstructure:"search_fallback_max_items"`
	TransientRetries       int           `mapstructure:"transient_retries"`
	SearchDelay            time.Duration `mapstructure:"search_delay"`
	HistoryMaxPages        int           `mapstructure:"history_max_pages"`
	SearchCacheTTL         time.Duration `mapstructure:"search_cache_ttl"`
}

// StagingConfig holds the staging record location
type StagingConfig struct {
	Path string `mapstructure:"path"`
}

// AmazonConfig holds the shopping list site settings
type AmazonConfig struct {
	Email      string `mapstructure:"email"`
	Password   string `mapstructure:"password"`
	OTPCommand string `mapstructure:"otp_command"`
	BaseURL    string `mapstructure:"base_url"`
	ListURL    string `mapstructure:"list_url"`
	SigninURL  string `mapstructure:"signin_url"`
}

// WalmartConfig holds the storefront site settings
type WalmartConfig struct {
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	BaseURL   string `mapstructure:"base_url"`
	SigninURL string `mapstructure:"signin_url"`
}

// NotifyConfig holds notification settings
type NotifyConfig struct {
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
}

// HomeAssistantConfig holds the Home Assistant REST API settings
type HomeAssistantConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Entity  string        `mapstructure:"entity"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds status server configuration
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           string   `mapstructure:"port"`
	RateLimitPerIP int      `mapstructure:"rate_limit_per_ip"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Options are the command line inputs to Load.
type Options struct {
	// ConfigFile overrides the config file search.
	ConfigFile string
	// CredentialsFile is a dotenv file loaded before the environment is
	// read. Empty means DefaultCredentialsFile, which may be absent.
	CredentialsFile string
	// Headed forces a visible browser window.
	Headed bool
}

// secretEnv lists the plain variable names also accepted for secrets, so a
// credentials file can use AMAZON_EMAIL instead of CARTSYNC_AMAZON_EMAIL.
var secretEnv = map[string]string{
	"amazon.email":                "AMAZON_EMAIL",
	"amazon.password":             "AMAZON_PASSWORD",
	"amazon.otp_command":          "AMAZON_OTP_COMMAND",
	"walmart.email":               "WALMART_EMAIL",
	"walmart.password":            "WALMART_PASSWORD",
	"notify.home_assistant.url":   "HOME_ASSISTANT_URL",
	"notify.home_assistant.token": "HOME_ASSISTANT_TOKEN",
}

// Load loads configuration from the credentials file, environment variables
// and config files
func Load(opts Options) (*Config, error) {
	if err := loadCredentials(opts.CredentialsFile); err != nil {
		return nil, err
	}

	v := viper.New()

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cartsync/")
	}

	// Environment variable settings
	v.SetEnvPrefix("CARTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range secretEnv {
		envKey := "CARTSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if opts.Headed {
		v.Set("browser.headless", false)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadCredentials loads a dotenv file without overriding variables that are
// already set. Only an explicitly named file must exist.
func loadCredentials(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultCredentialsFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("credentials file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load credentials file: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Browser defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.cookies_dir", "credentials")
	v.SetDefault("browser.screenshot_dir", "screenshots")

	// Matching defaults
	v.SetDefault("matching.min_match_score", 30)
	v.SetDefault("matching.history_match_score", 60)
	v.SetDefault("matching.enable_fuzzy", true)

	// Monitor defaults
	v.SetDefault("monitor.interval_seconds", 5)
	v.SetDefault("monitor.refresh_interval_min_minutes", 10)
	v.SetDefault("monitor.refresh_interval_max_minutes", 15)
	v.SetDefault("monitor.max_reauth_attempts", 3)

	// Resolution defaults
	v.SetDefault("resolution.search_fallback_max_items", 10)
	v.SetDefault("resolution.transient_retries", 2)
	v.SetDefault("resolution.search_delay", "1s")
	v.SetDefault("resolution.history_max_pages", 10)
	v.SetDefault("resolution.search_cache_ttl", "30m")

	v.SetDefault("staging.path", "staging/shopping_list.json")

	// Site defaults; secrets default empty so the environment can fill them
	v.SetDefault("amazon.email", "")
	v.SetDefault("amazon.password", "")
	v.SetDefault("amazon.otp_command", "")
	v.SetDefault("amazon.base_url", "https://www.amazon.com")
	v.SetDefault("amazon.list_url", "https://www.amazon.com/gp/alexa-shopping-list")
	v.SetDefault("amazon.signin_url", "https://www.amazon.com/ap/signin")
	v.SetDefault("walmart.email", "")
	v.SetDefault("walmart.password", "")
	v.SetDefault("walmart.base_url", "https://www.walmart.com")
	v.SetDefault("walmart.signin_url", "https://www.walmart.com/account/login")

	// Notification defaults
	v.SetDefault("notify.home_assistant.url", "")
	v.SetDefault("notify.home_assistant.token", "")
	v.SetDefault("notify.home_assistant.entity", "")
	v.SetDefault("notify.home_assistant.timeout", "10s")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit_per_ip", 60)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// validate validates the configuration
func validate(config *Config) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	m := config.Matching
	if m.MinMatchScore < 0 || m.MinMatchScore > 100 {
		return invalid("matching.min_match_score must be within 0-100, got %v", m.MinMatchScore)
	}
	if m.HistoryMatchScore < 0 || m.HistoryMatchScore > 100 {
		return invalid("matching.history_match_score must be within 0-100, got %v", m.HistoryMatchScore)
	}

	mon := config.Monitor
	if mon.IntervalSeconds <= 0 {
		return invalid("monitor.interval_seconds must be positive, got %d", mon.IntervalSeconds)
	}
	if mon.RefreshIntervalMinMinutes <= 0 || mon.RefreshIntervalMinMinutes >= mon.RefreshIntervalMaxMinutes {
		return invalid("monitor refresh interval needs 0 < min < max, got %d/%d",
			mon.RefreshIntervalMinMinutes, mon.RefreshIntervalMaxMinutes)
	}
	if mon.MaxReauthAttempts < 1 {
		return invalid("monitor.max_reauth_attempts must be at least 1, got %d", mon.MaxReauthAttempts)
	}

	r := config.Resolution
	if r.SearchFallbackMaxItems < 1 {
		return invalid("resolution.search_fallback_max_items must be at least 1, got %d", r.SearchFallbackMaxItems)
	}
	if r.TransientRetries < 0 {
		return invalid("resolution.transient_retries must not be negative, got %d", r.TransientRetries)
	}
	if r.HistoryMaxPages < 1 {
		return invalid("resolution.history_max_pages must be at least 1, got %d", r.HistoryMaxPages)
	}
	if r.SearchDelay < 0 {
		return invalid("resolution.search_delay must not be negative, got %v", r.SearchDelay)
	}

	if config.Browser.Timeout <= 0 {
		return invalid("browser.timeout must be positive, got %v", config.Browser.Timeout)
	}
	if config.Staging.Path == "" {
		return invalid("staging.path is required")
	}

	if config.Log.Format != "console" && config.Log.Format != "json" {
		return invalid("log.format must be 'console' or 'json', got: %s", config.Log.Format)
	}

	if config.Server.Enabled && config.Server.Port == "" {
		return invalid("server.port is required when the status server is enabled")
	}

	return nil
}

// MissingCredentials lists the credential keys that are empty. Saved
// cookies may still carry a session, so these are not validation errors.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for key, val := range map[string]string{
		"amazon.email":     c.Amazon.Email,
		"amazon.password":  c.Amazon.Password,
		"walmart.email":    c.Walmart.Email,
		"walmart.password": c.Walmart.Password,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
