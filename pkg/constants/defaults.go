package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec     = 30
	DefaultDialTimeoutSec     = 20
	DefaultSendAckTimeoutSec  = 30
	DefaultStatusPollSec      = 5
	DefaultReconnectAttempts  = 3
	DefaultReconnectDelaySec  = 5
	DefaultWriteTimeoutSec    = 10
	DefaultReadLimitBytes     = 10 * 1024 * 1024
	DefaultLogoutDrainWaitSec = 2
)

// Validation constants used by client packages
const (
	MaxMessageIDLength   = 256
	MaxSessionNameLength = 64
	MinPhoneNumberLength = 10
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)
