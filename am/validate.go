package am

import (
	"slices"

	"github.com/teranos/pact/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) { errs = append(errs, err) }

	if c.Server.Port != nil && *c.Server.Port == 0 {
		add(errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort))
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		add(errors.Newf("server.port must be positive, got %d", *c.Server.Port))
	}

	if !slices.Contains([]string{"openai", "openrouter", "local"}, c.Judge.Provider) {
		add(errors.Newf("judge.provider must be openai, openrouter or local, got %q", c.Judge.Provider))
	}
	if c.Judge.TimeoutSeconds <= 0 {
		add(errors.Newf("judge.timeout_seconds must be > 0, got %d", c.Judge.TimeoutSeconds))
	}
	if c.Judge.MaxAttempts <= 0 {
		add(errors.Newf("judge.max_attempts must be > 0, got %d", c.Judge.MaxAttempts))
	}
	if c.Judge.MinBackoffSeconds < 0 || c.Judge.MaxBackoffSeconds < c.Judge.MinBackoffSeconds {
		add(errors.Newf("judge backoff must satisfy 0 <= min_backoff_seconds <= max_backoff_seconds, got %g/%g",
			c.Judge.MinBackoffSeconds, c.Judge.MaxBackoffSeconds))
	}
	if c.Judge.RequestsPerSecond < 0 {
		add(errors.Newf("judge.requests_per_second must be >= 0, got %g", c.Judge.RequestsPerSecond))
	}

	if c.Verification.SchemaAttempts <= 0 {
		add(errors.Newf("verification.schema_attempts must be > 0, got %d", c.Verification.SchemaAttempts))
	}
	if c.Verification.FoldTimeoutSeconds < 0 {
		add(errors.Newf("verification.fold_timeout_seconds must be >= 0, got %d", c.Verification.FoldTimeoutSeconds))
	}
	if c.Verification.Concurrency < 0 {
		add(errors.Newf("verification.concurrency must be >= 0, got %d", c.Verification.Concurrency))
	}

	if c.Certification.TTLSeconds <= 0 {
		add(errors.Newf("certification.ttl_seconds must be > 0, got %d", c.Certification.TTLSeconds))
	}
	if c.Certification.Workers < 0 {
		add(errors.Newf("certification.workers must be >= 0, got %d", c.Certification.Workers))
	}
	if c.Certification.KeyPrefix == "" {
		add(errors.New("certification.key_prefix cannot be empty"))
	}
	if !slices.Contains([]string{StoreSQLite, StoreRedis, StoreMemory}, c.Certification.Store) {
		add(errors.Newf("certification.store must be sqlite, redis or memory, got %q", c.Certification.Store))
	}
	switch c.Certification.Source {
	case SourceKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			add(errors.New("kafka.brokers and kafka.topic are required when certification.source = kafka"))
		}
		if !slices.Contains([]string{"earliest", "latest"}, c.Kafka.AutoOffsetReset) {
			add(errors.Newf("kafka.auto_offset_reset must be earliest or latest, got %q", c.Kafka.AutoOffsetReset))
		}
	case SourceOTLP:
		if c.Receiver.Address == "" {
			add(errors.New("receiver.address is required when certification.source = otlp"))
		}
	case SourceFile:
		if c.Certification.ReplayFile == "" {
			add(errors.New("certification.replay_file is required when certification.source = file"))
		}
	default:
		add(errors.Newf("certification.source must be kafka, otlp or file, got %q", c.Certification.Source))
	}
	if c.Certification.Store == StoreRedis && c.Redis.Addr == "" {
		add(errors.New("redis.addr is required when certification.store = redis"))
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		add(errors.New("telemetry.otlp_endpoint cannot be empty when enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}
	return errors.Mark(combined, errors.ErrConfiguration)
}
