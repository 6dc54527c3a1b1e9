package constants

// Message deduplication defaults
const (
	DefaultDedupTTLMs       = 24 * 60 * 60 * 1000
	MinDedupTTLMs           = 60 * 1000
	DefaultDedupSweepHours  = 1
	DedupHandlerWarnAfterMs = 5000
)

// Reliable send defaults
const (
	DefaultSendMaxAttempts  = 3
	DefaultSendBaseDelayMs  = 500
	DefaultSendMaxDelayMs   = 5000
	DefaultSendJitterRatio  = 0.25
	DefaultMaxLidRetries    = 2
	DefaultLidRetryDelayMs  = 250
	DefaultSendReadyWaitSec = 30
)

// Session-corruption recovery pattern (provider-version dependent, overridable via config)
const DefaultLidErrorSubstring = "lid is missing in chat table"

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Server defaults
const (
	DefaultServerPort           = 8082
	ServerErrorChannelSize      = 1
	DefaultJournalRetentionDays = 30
)
