package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate performs fail-fast validation of the loaded configuration.
// Returns a sentinel error (wrapped with detail) on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.APIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return ErrInvalidModelName
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be 0-2)", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens <= 0 || c.MaxTokens > 128000 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	switch c.Language {
	case LanguageUKEnglish, LanguageUSEnglish, LanguageSpanish, LanguageFrench, LanguageGerman:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, c.Language)
	}

	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("%w: limit=%d window=%d", ErrInvalidRateLimit, c.RateLimit, c.RateWindow)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCacheTTL, c.CacheTTL)
	}

	if _, _, err := ParseAgentHours(c.AgentHours); err != nil {
		return err
	}

	if c.HMACSecret == "" {
		return fmt.Errorf("%w: set HMAC_SECRET", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < MinHMACSecretLength {
		return fmt.Errorf("%w: need at least %d bytes", ErrInvalidHMACSecret, MinHMACSecretLength)
	}

	return nil
}

// ParseAgentHours parses an "start-end" agent availability window into 24h
// local hours. Start must be strictly before end.
func ParseAgentHours(hours string) (start, end int, err error) {
	parts := strings.SplitN(hours, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAgentHours, hours)
	}

	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAgentHours, hours)
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAgentHours, hours)
	}

	if start < 0 || start > 23 || end < 1 || end > 24 || start >= end {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAgentHours, hours)
	}

	return start, end, nil
}
