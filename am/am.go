package am

import "time"

// Config represents the pact configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Judge         JudgeConfig         `mapstructure:"judge"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Certification CertificationConfig `mapstructure:"certification"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Receiver      ReceiverConfig      `mapstructure:"receiver"`
	Server        ServerConfig        `mapstructure:"server"`
	Jaeger        JaegerConfig        `mapstructure:"jaeger"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// DatabaseConfig configures the SQLite database backing the sqlite certificate store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JudgeConfig configures the language-model endpoint used for verification
type JudgeConfig struct {
	Provider          string   `mapstructure:"provider"`            // openai, openrouter, local
	BaseURL           string   `mapstructure:"base_url"`            // empty = provider default
	APIKey            string   `mapstructure:"api_key"`             // PACT_JUDGE_API_KEY, or OPENAI_API_KEY / OPENROUTER_API_KEY
	Model             string   `mapstructure:"model"`               // fallback when a phase has no model
	Temperature       *float64 `mapstructure:"temperature"`         // nil = provider default
	MaxTokens         *int     `mapstructure:"max_tokens"`          // nil = provider default
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`     // per HTTP request
	MaxAttempts       int      `mapstructure:"max_attempts"`        // transport attempts per call (default: 6)
	MinBackoffSeconds float64  `mapstructure:"min_backoff_seconds"` // default: 1
	MaxBackoffSeconds float64  `mapstructure:"max_backoff_seconds"` // default: 60
	RequestsPerSecond float64  `mapstructure:"requests_per_second"` // 0 = unlimited
	BlockPrivateIP    bool     `mapstructure:"block_private_ip"`
}

// ModelsConfig names the model used by each judge phase
type ModelsConfig struct {
	Init          string `mapstructure:"init"`
	Step          string `mapstructure:"step"`
	Verify        string `mapstructure:"verify"`
	Precondition  string `mapstructure:"precondition"`
	Pathcondition string `mapstructure:"pathcondition"`
	Postcondition string `mapstructure:"postcondition"`
}

// VerificationConfig configures requirement evaluation
type VerificationConfig struct {
	Models             ModelsConfig `mapstructure:"models"`
	EarlyTermination   bool         `mapstructure:"early_termination"`    // honor judge-requested early stop
	SchemaAttempts     int          `mapstructure:"schema_attempts"`      // shape retries per phase (default: 5)
	FoldTimeoutSeconds int          `mapstructure:"fold_timeout_seconds"` // 0 = unbounded
	MaxInfoLength      int          `mapstructure:"max_info_length"`      // compact path rendering (default: 50)
	Concurrency        int          `mapstructure:"concurrency"`          // requirements evaluated in parallel per contract
}

// CertificationConfig configures the streaming certification pipeline
type CertificationConfig struct {
	Specifications string `mapstructure:"specifications"` // path to the .json/.yaml specifications
	Source         string `mapstructure:"source"`         // kafka, otlp, file
	ReplayFile     string `mapstructure:"replay_file"`    // used when source = file
	KeyPrefix      string `mapstructure:"key_prefix"`
	TTLSeconds     int    `mapstructure:"ttl_seconds"`
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
	Store          string `mapstructure:"store"` // sqlite, redis, memory
	ServiceName    string `mapstructure:"service_name"`
}

// KafkaConfig configures the span queue consumer
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	GroupID          string   `mapstructure:"group_id"`
	Topic            string   `mapstructure:"topic"`
	AutoOffsetReset  string   `mapstructure:"auto_offset_reset"` // earliest, latest
	FetchWaitMaxMS   int      `mapstructure:"fetch_wait_max_ms"`
	SessionTimeoutMS int      `mapstructure:"session_timeout_ms"`
	AutoCommit       bool     `mapstructure:"auto_commit"`
}

// RedisConfig configures the redis certificate store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// ReceiverConfig configures the OTLP/gRPC span receiver
type ReceiverConfig struct {
	Address string `mapstructure:"address"`
}

// ServerConfig configures the certificate API server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = DefaultServerPort, 0 is invalid
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// JaegerConfig configures trace lookup for offline verification
type JaegerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TelemetryConfig configures pipeline metrics export
type TelemetryConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	OTLPEndpoint          string `mapstructure:"otlp_endpoint"` // host:port, OTLP/HTTP
	Insecure              bool   `mapstructure:"insecure"`
	ServiceName           string `mapstructure:"service_name"`
	ExportIntervalSeconds int    `mapstructure:"export_interval_seconds"`
}

// Server port constants
const (
	DefaultServerPort = 8770
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Ingestion sources
const (
	SourceKafka = "kafka"
	SourceOTLP  = "otlp"
	SourceFile  = "file"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// FoldTimeout returns the per-fold deadline, zero when unbounded.
func (c *Config) FoldTimeout() time.Duration {
	return time.Duration(c.Verification.FoldTimeoutSeconds) * time.Second
}

// CertificateTTL returns the certificate lifetime.
func (c *Config) CertificateTTL() time.Duration {
	return time.Duration(c.Certification.TTLSeconds) * time.Second
}
