package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/internal/util"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "pact.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.Equal(t, "o3-mini", cfg.Verification.Models.Init)
	assert.Equal(t, "gpt-4o-mini", cfg.Verification.Models.Step)
	assert.Equal(t, "o3-mini", cfg.Verification.Models.Verify)
	assert.Equal(t, 5, cfg.Verification.SchemaAttempts)
	assert.True(t, cfg.Verification.EarlyTermination)
	assert.Equal(t, "certificate", cfg.Certification.KeyPrefix)
	assert.Equal(t, 600, cfg.Certification.TTLSeconds)
	assert.Equal(t, "relari-otel", cfg.Certification.ServiceName)
	assert.Equal(t, []string{"localhost:9094"}, cfg.Kafka.Brokers)
	assert.Equal(t, "jaeger-consumer-group", cfg.Kafka.GroupID)
	assert.Equal(t, "jaeger-spans", cfg.Kafka.Topic)
	assert.Equal(t, 6, cfg.Judge.MaxAttempts)
	assert.Equal(t, 600.0, cfg.CertificateTTL().Seconds())

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero port", func(c *Config) { c.Server.Port = util.Ptr(0) }, "server.port cannot be 0"},
		{"unknown provider", func(c *Config) { c.Judge.Provider = "bard" }, "judge.provider"},
		{"no schema attempts", func(c *Config) { c.Verification.SchemaAttempts = 0 }, "schema_attempts"},
		{"negative fold timeout", func(c *Config) { c.Verification.FoldTimeoutSeconds = -1 }, "fold_timeout_seconds"},
		{"zero ttl", func(c *Config) { c.Certification.TTLSeconds = 0 }, "ttl_seconds"},
		{"unknown store", func(c *Config) { c.Certification.Store = "s3" }, "certification.store"},
		{"unknown source", func(c *Config) { c.Certification.Source = "nats" }, "certification.source"},
		{"file without replay", func(c *Config) { c.Certification.Source = SourceFile }, "replay_file"},
		{"bad offset reset", func(c *Config) { c.Kafka.AutoOffsetReset = "newest" }, "auto_offset_reset"},
		{"inverted backoff", func(c *Config) { c.Judge.MaxBackoffSeconds = 0.5 }, "backoff"},
		{"redis without addr", func(c *Config) {
			c.Certification.Store = StoreRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[judge]
provider = "local"
model = "qwen2.5:7b"

[verification]
schema_attempts = 3
early_termination = false

[certification]
store = "memory"
workers = 2
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Judge.Provider)
	assert.Equal(t, "qwen2.5:7b", cfg.Judge.Model)
	assert.Equal(t, 3, cfg.Verification.SchemaAttempts)
	assert.False(t, cfg.Verification.EarlyTermination)
	assert.Equal(t, StoreMemory, cfg.Certification.Store)
	assert.Equal(t, 2, cfg.Certification.Workers)
	// untouched keys keep their defaults
	assert.Equal(t, "o3-mini", cfg.Verification.Models.Init)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestInitFileAndBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")
	require.NoError(t, InitFile(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "relari-otel", cfg.Certification.ServiceName)
	require.NoError(t, cfg.Validate())

	for i := 0; i < 4; i++ {
		require.NoError(t, SetValue(path, "certification.workers", i+10))
	}
	for _, suffix := range []string{".back1", ".back2", ".back3"} {
		assert.FileExists(t, path+suffix)
	}
	assert.NoFileExists(t, path+".back4")

	cfg, err = LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 13, cfg.Certification.Workers)

	back1, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 12, back1.Certification.Workers)
}

func TestSetValueCreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, SetValue(path, "judge.models.extra", "x"))
	require.NoError(t, SetValue(path, "redis.addr", "cache:6379"))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestIntrospectSources(t *testing.T) {
	t.Setenv("PACT_JUDGE_MODEL", "gpt-4.1")
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	SetDefaults(v)
	v.Set("redis.password", "hunter2")

	settings := introspect(v, map[string]SourceInfo{
		"redis.password": {Source: SourceProject, Path: "/work/am.toml"},
	})
	byKey := make(map[string]SettingInfo, len(settings))
	for _, s := range settings {
		byKey[s.Key] = s
	}

	assert.Equal(t, SourceEnvironment, byKey["judge.model"].Source)
	assert.Equal(t, "PACT_JUDGE_MODEL", byKey["judge.model"].SourcePath)
	assert.Equal(t, SourceDefault, byKey["kafka.topic"].Source)
	assert.Equal(t, SourceProject, byKey["redis.password"].Source)
	assert.Equal(t, "********", byKey["redis.password"].Value)
}
