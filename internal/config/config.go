// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (runtime override)
//  2. Config file (~/.smartchat/config.yaml or ./config.yaml)
//  3. Default values
//
// Categories:
//   - Upstream: OpenAI completion endpoint, model, token/temperature bounds
//   - Chat: persona language, rate limiting, response cache
//   - Handoff: WhatsApp number, agent hours, webhook secret
//   - Notify: SMTP transcript delivery
//   - Server: listen address, anti-forgery secret, CORS, proxy trust
//
// Sensitive values (API key, secrets, SMTP password) are masked in
// MarshalJSON and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the upstream API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidLanguage indicates the persona language is not one of the
	// supported settings.
	ErrInvalidLanguage = errors.New("invalid language")

	// ErrInvalidRateLimit indicates the rate limit or window is not positive.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidCacheTTL indicates the response cache TTL is not positive.
	ErrInvalidCacheTTL = errors.New("invalid cache ttl")

	// ErrInvalidAgentHours indicates the agent hours string is malformed.
	ErrInvalidAgentHours = errors.New("invalid agent hours")

	// ErrMissingHMACSecret indicates the anti-forgery secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the anti-forgery secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

// Supported persona language settings. The persona template substitutes the
// matching instruction text; unknown values fail validation rather than
// silently falling back.
const (
	LanguageUKEnglish = "uk_english"
	LanguageUSEnglish = "us_english"
	LanguageSpanish   = "spanish"
	LanguageFrench    = "french"
	LanguageGerman    = "german"
)

// Defaults mirroring the shipped widget settings.
const (
	// DefaultRateLimit is the number of chat requests allowed per session
	// within DefaultRateWindowSeconds.
	DefaultRateLimit = 20

	// DefaultRateWindowSeconds is the sliding rate window.
	DefaultRateWindowSeconds = 3600

	// DefaultCacheTTLSeconds is how long cached responses stay servable.
	DefaultCacheTTLSeconds = 300

	// MinHMACSecretLength is the minimum anti-forgery secret length in bytes.
	MinHMACSecretLength = 32
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When adding
// new secrets, update MarshalJSON as well.
type Config struct {
	// Upstream completion provider
	APIKey         string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	BaseURL        string  `mapstructure:"base_url" json:"base_url"`
	ModelName      string  `mapstructure:"model_name" json:"model_name"`
	MaxTokens      int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" json:"temperature"`
	RequestTimeout int     `mapstructure:"request_timeout" json:"request_timeout"` // seconds; chat completion
	ProbeTimeout   int     `mapstructure:"probe_timeout" json:"probe_timeout"`     // seconds; connectivity probe

	// Conversation behaviour
	Language        string `mapstructure:"language" json:"language"`
	KnowledgePath   string `mapstructure:"knowledge_path" json:"knowledge_path"`
	PersonaTemplate string `mapstructure:"persona_template" json:"persona_template"` // empty = built-in persona
	RateLimit       int    `mapstructure:"rate_limit" json:"rate_limit"`
	RateWindow      int    `mapstructure:"rate_window" json:"rate_window"` // seconds
	CacheTTL        int    `mapstructure:"cache_ttl" json:"cache_ttl"`     // seconds
	CacheSize       int    `mapstructure:"cache_size" json:"cache_size"`

	// Contact notification
	EmailRecipient string `mapstructure:"email_recipient" json:"email_recipient"`
	SMTPHost       string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port" json:"smtp_port"`
	SMTPUser       string `mapstructure:"smtp_user" json:"smtp_user"`
	SMTPPassword   string `mapstructure:"smtp_password" json:"smtp_password"` // SENSITIVE: masked in MarshalJSON
	SMTPFrom       string `mapstructure:"smtp_from" json:"smtp_from"`

	// Human handoff
	WhatsAppNumber string `mapstructure:"whatsapp_number" json:"whatsapp_number"`
	AgentHours     string `mapstructure:"agent_hours" json:"agent_hours"`       // "start-end" in 24h local hours
	WebhookSecret  string `mapstructure:"webhook_secret" json:"webhook_secret"` // SENSITIVE: masked in MarshalJSON

	// Storage
	DBPath string `mapstructure:"db_path" json:"db_path"`

	// Server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"` // per-IP middleware burst
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".smartchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Upstream defaults
	viper.SetDefault("base_url", "https://api.openai.com")
	viper.SetDefault("model_name", "gpt-4-turbo")
	viper.SetDefault("max_tokens", 3500)
	viper.SetDefault("temperature", 0.3)
	viper.SetDefault("request_timeout", 200)
	viper.SetDefault("probe_timeout", 10)

	// Conversation defaults
	viper.SetDefault("language", LanguageUKEnglish)
	viper.SetDefault("knowledge_path", "chatbot-data.json")
	viper.SetDefault("rate_limit", DefaultRateLimit)
	viper.SetDefault("rate_window", DefaultRateWindowSeconds)
	viper.SetDefault("cache_ttl", DefaultCacheTTLSeconds)
	viper.SetDefault("cache_size", 256)

	// Notification defaults
	viper.SetDefault("smtp_port", 587)

	// Handoff defaults
	viper.SetDefault("agent_hours", "9-17")

	// Storage defaults
	viper.SetDefault("db_path", "smartchat.db")

	// Server defaults
	viper.SetDefault("listen_addr", ":8089")
	viper.SetDefault("cors_origins", []string{})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds secret-bearing environment variables explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "OPENAI_API_KEY")
	mustBind("hmac_secret", "HMAC_SECRET")
	mustBind("smtp_password", "SMTP_PASSWORD")
	mustBind("webhook_secret", "WEBHOOK_SECRET")
	mustBind("cors_origins", "SMARTCHAT_CORS_ORIGINS")
	mustBind("trust_proxy", "SMARTCHAT_TRUST_PROXY")
	mustBind("model_name", "SMARTCHAT_MODEL_NAME")
	mustBind("listen_addr", "SMARTCHAT_LISTEN_ADDR")
	mustBind("db_path", "SMARTCHAT_DB_PATH")
}

// maskedValue uses full-width blocks so masked output can never be a
// substring of the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 bytes or fewer are
// fully masked; longer secrets keep the first and last 2 characters for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.HMACSecret = maskSecret(a.HMACSecret)
	a.SMTPPassword = maskSecret(a.SMTPPassword)
	a.WebhookSecret = maskSecret(a.WebhookSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
