package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "pact.db")

	// Judge transport
	v.SetDefault("judge.provider", "openai")
	v.SetDefault("judge.model", "gpt-4o-mini")
	v.SetDefault("judge.timeout_seconds", 120)
	v.SetDefault("judge.max_attempts", 6)
	v.SetDefault("judge.min_backoff_seconds", 1.0)
	v.SetDefault("judge.max_backoff_seconds", 60.0)
	v.SetDefault("judge.requests_per_second", 0.0)
	v.SetDefault("judge.block_private_ip", false)

	// Verification: reasoning models plan and verify, a small model steps
	v.SetDefault("verification.models.init", "o3-mini")
	v.SetDefault("verification.models.step", "gpt-4o-mini")
	v.SetDefault("verification.models.verify", "o3-mini")
	v.SetDefault("verification.models.precondition", "gpt-4o-mini")
	v.SetDefault("verification.models.pathcondition", "o3-mini")
	v.SetDefault("verification.models.postcondition", "gpt-4o-mini")
	v.SetDefault("verification.early_termination", true)
	v.SetDefault("verification.schema_attempts", 5)
	v.SetDefault("verification.fold_timeout_seconds", 600)
	v.SetDefault("verification.max_info_length", 50)
	v.SetDefault("verification.concurrency", 8)

	// Certification pipeline
	v.SetDefault("certification.specifications", "specifications.yaml")
	v.SetDefault("certification.source", SourceKafka)
	v.SetDefault("certification.key_prefix", "certificate")
	v.SetDefault("certification.ttl_seconds", 600)
	v.SetDefault("certification.workers", 4)
	v.SetDefault("certification.queue_size", 256)
	v.SetDefault("certification.store", StoreSQLite)
	v.SetDefault("certification.service_name", "relari-otel")

	// Kafka (Jaeger's span topic)
	v.SetDefault("kafka.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka.group_id", "jaeger-consumer-group")
	v.SetDefault("kafka.topic", "jaeger-spans")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.fetch_wait_max_ms", 50)
	v.SetDefault("kafka.session_timeout_ms", 6000)
	v.SetDefault("kafka.auto_commit", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("receiver.address", ":4317")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("jaeger.base_url", "http://localhost:16686")
	v.SetDefault("jaeger.timeout_seconds", 30)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "pact")
	v.SetDefault("telemetry.export_interval_seconds", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("judge.api_key", "PACT_JUDGE_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("redis.password", "PACT_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("database.path", "PACT_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "pact.db"
	}
	return c.Database.Path
}

// GetServerPort returns server.port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetServerAllowedOrigins returns the allowed websocket origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Judge: {Provider: %s}, Certification: {Source: %s, Store: %s, Workers: %d}}",
		c.Judge.Provider, c.Certification.Source, c.Certification.Store, c.Certification.Workers)
}
