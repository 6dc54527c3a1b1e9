package config

import (
	"encoding/json"
	"os"
	"strconv"

	"warelay/internal/constants"
	"warelay/internal/models"
)

var (
	ErrNoAdapterEnabled  = models.ConfigError{Message: "at least one adapter (socket or rest) must be enabled"}
	ErrMissingGatewayURL = models.ConfigError{Message: "socket adapter is enabled but gatewayUrl is empty"}
	ErrMissingAPIBaseURL = models.ConfigError{Message: "rest adapter is enabled but apiBaseUrl is empty"}
)

// LoadConfig reads the JSON config file, validates it, fills defaults, and
// applies environment overrides. Environment always wins over file values.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - config path comes from the operator's own flag
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if !c.Socket.Enabled && !c.Rest.Enabled {
		return ErrNoAdapterEnabled
	}
	if c.Socket.Enabled && c.Socket.GatewayURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Rest.Enabled && c.Rest.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultJournalRetentionDays
	}

	if c.Send.MaxAttempts <= 0 {
		c.Send.MaxAttempts = constants.DefaultSendMaxAttempts
	}
	if c.Send.BaseDelayMs <= 0 {
		c.Send.BaseDelayMs = constants.DefaultSendBaseDelayMs
	}
	if c.Send.MaxDelayMs <= 0 {
		c.Send.MaxDelayMs = constants.DefaultSendMaxDelayMs
	}
	if c.Send.JitterRatio <= 0 {
		c.Send.JitterRatio = constants.DefaultSendJitterRatio
	}
	if c.Send.MaxLidRetries <= 0 {
		c.Send.MaxLidRetries = constants.DefaultMaxLidRetries
	}
	if c.Send.LidRetryDelayMs <= 0 {
		c.Send.LidRetryDelayMs = constants.DefaultLidRetryDelayMs
	}
	if c.Send.ReadyWaitSec <= 0 {
		c.Send.ReadyWaitSec = constants.DefaultSendReadyWaitSec
	}
	if c.Send.LidErrorPattern == "" {
		c.Send.LidErrorPattern = constants.DefaultLidErrorSubstring
	}

	if c.Dedup.TTLMs <= 0 {
		c.Dedup.TTLMs = constants.DefaultDedupTTLMs
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if raw := os.Getenv("WARELAY_DEDUP_TTL_MS"); raw != "" {
		// Malformed values are ignored; the TTL floor downstream catches the
		// rest.
		if ttl, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Dedup.TTLMs = ttl
		}
	}
	if raw := os.Getenv("WARELAY_DEBUG"); raw != "" {
		if debug, err := strconv.ParseBool(raw); err == nil && debug {
			c.LogLevel = "debug"
		}
	}
	if raw := os.Getenv("WARELAY_CLEAR_AUTH"); raw != "" {
		if clear, err := strconv.ParseBool(raw); err == nil {
			c.ClearAuthOnStart = clear
		}
	}
	if dir := os.Getenv("WARELAY_AUTH_DIR"); dir != "" {
		c.AuthDir = dir
	}
	if path := os.Getenv("WARELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}
