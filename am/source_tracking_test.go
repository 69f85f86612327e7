package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// layout creates a home directory with ~/.pact/am.toml (when user is set)
// and a project directory holding am.toml, then points HOME and the
// working directory at them.
func layout(t *testing.T, user, project string) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	home := t.TempDir()
	if user != "" {
		dir := filepath.Join(home, ".pact")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte(user), 0o644))
	}
	projectDir := t.TempDir()
	if project != "" {
		require.NoError(t, os.WriteFile(filepath.Join(projectDir, "am.toml"), []byte(project), 0o644))
	}
	t.Setenv("HOME", home)
	t.Chdir(projectDir)
}

func settingsByKey() map[string]SettingInfo {
	out := make(map[string]SettingInfo)
	for _, s := range Introspect() {
		out[s.Key] = s
	}
	return out
}

func TestSourceTracking(t *testing.T) {
	t.Run("project overrides user", func(t *testing.T) {
		layout(t, `
[judge]
model = "user-model"

[server]
port = 8080
`, `
[server]
port = 9090
`)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.GetServerPort())
		assert.Equal(t, "user-model", cfg.Judge.Model)

		settings := settingsByKey()
		assert.Equal(t, SourceProject, settings["server.port"].Source)
		assert.Contains(t, settings["server.port"].SourcePath, "am.toml")
		assert.Equal(t, SourceUser, settings["judge.model"].Source)
		assert.Contains(t, settings["judge.model"].SourcePath, ".pact")
	})

	t.Run("environment overrides files", func(t *testing.T) {
		layout(t, "", `
[certification]
workers = 2
service_name = "billing-agent"
`)
		t.Setenv("PACT_CERTIFICATION_WORKERS", "7")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Certification.Workers)
		assert.Equal(t, "billing-agent", cfg.Certification.ServiceName)

		settings := settingsByKey()
		assert.Equal(t, SourceEnvironment, settings["certification.workers"].Source)
		assert.Equal(t, "PACT_CERTIFICATION_WORKERS", settings["certification.workers"].SourcePath)
		assert.Equal(t, SourceProject, settings["certification.service_name"].Source)
	})

	t.Run("defaults without files", func(t *testing.T) {
		layout(t, "", "")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 600, cfg.Certification.TTLSeconds)

		ttl := settingsByKey()["certification.ttl_seconds"]
		assert.Equal(t, SourceDefault, ttl.Source)
		assert.Equal(t, "built-in default", ttl.SourcePath)
	})

	t.Run("secrets are masked", func(t *testing.T) {
		t.Setenv("PACT_JUDGE_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		layout(t, "", `
[judge]
api_key = "sk-project"
`)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-project", cfg.Judge.APIKey)

		key := settingsByKey()["judge.api_key"]
		assert.Equal(t, SourceProject, key.Source)
		assert.Equal(t, "********", key.Value)
	})
}

func TestLoadIsCached(t *testing.T) {
	layout(t, "", `
[redis]
addr = "cache:6379"
`)
	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	Reset()
	third, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, "cache:6379", third.Redis.Addr)
}
