package models

// ConfigError represents a configuration validation failure
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}

// SocketClientConfig configures the multi-device gateway adapter
type SocketClientConfig struct {
	Enabled           bool   `json:"enabled"`
	GatewayURL        string `json:"gatewayUrl"`
	ReconnectAttempts int    `json:"reconnectAttempts,omitempty"`
	ReconnectDelaySec int    `json:"reconnectDelaySec,omitempty"`
}

// RestClientConfig configures the browser gateway adapter
type RestClientConfig struct {
	Enabled           bool   `json:"enabled"`
	APIBaseURL        string `json:"apiBaseUrl"`
	SessionName       string `json:"sessionName,omitempty"`
	TimeoutSec        int    `json:"timeoutSec,omitempty"`
	StatusPollSec     int    `json:"statusPollSec,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts,omitempty"`
	ReconnectDelaySec int    `json:"reconnectDelaySec,omitempty"`
}

// DedupConfig configures the message deduplication cache
type DedupConfig struct {
	TTLMs int64 `json:"ttlMs,omitempty"`
}

// SendConfig configures the reliable send layer
type SendConfig struct {
	MaxAttempts     int     `json:"maxAttempts,omitempty"`
	BaseDelayMs     int     `json:"baseDelayMs,omitempty"`
	MaxDelayMs      int     `json:"maxDelayMs,omitempty"`
	JitterRatio     float64 `json:"jitterRatio,omitempty"`
	MaxLidRetries   int     `json:"maxLidRetries,omitempty"`
	LidRetryDelayMs int     `json:"lidRetryDelayMs,omitempty"`
	ReadyWaitSec    int     `json:"readyWaitSec,omitempty"`
	LidErrorPattern string  `json:"lidErrorPattern,omitempty"`
}

// ServerConfig configures the diagnostics HTTP server
type ServerConfig struct {
	Port int `json:"port,omitempty"`
}

// DatabaseConfig configures the delivery journal
type DatabaseConfig struct {
	Path string `json:"path"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName,omitempty"`
	ServiceVersion string  `json:"serviceVersion,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	OTLPEndpoint   string  `json:"otlpEndpoint,omitempty"`
	SampleRate     float64 `json:"sampleRate,omitempty"`
	UseStdout      bool    `json:"useStdout,omitempty"`
}

// DeliveryRecord is one journaled outbound send outcome
type DeliveryRecord struct {
	ChatID     string `json:"chatId"`
	ClientName string `json:"clientName"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	ErrorClass string `json:"errorClass,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Config is the root application configuration
type Config struct {
	LogLevel         string             `json:"logLevel,omitempty"`
	AuthDir          string             `json:"authDir,omitempty"`
	ClearAuthOnStart bool               `json:"clearAuthOnStart,omitempty"`
	Socket           SocketClientConfig `json:"socket"`
	Rest             RestClientConfig   `json:"rest"`
	Dedup            DedupConfig        `json:"dedup"`
	Send             SendConfig         `json:"send"`
	Server           ServerConfig       `json:"server"`
	Database         DatabaseConfig     `json:"database"`
	Tracing          TracingConfig      `json:"tracing"`
	RetentionDays    int                `json:"retentionDays,omitempty"`
}
