package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/pact/errors"
)

// EnvPrefix prefixes every environment override (PACT_JUDGE_MODEL, ...).
const EnvPrefix = "PACT"

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file supplied each key during the last load.
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the pact configuration using Viper
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal config"), errors.ErrConfiguration)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path on top of the defaults
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read config file %s", configPath), errors.ErrConfiguration)
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

type configFile struct {
	path   string
	source ConfigSource
}

// configPaths lists the config files in precedence order (lowest first)
func configPaths() []configFile {
	out := []configFile{{"/etc/pact/am.toml", SourceSystem}}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, configFile{filepath.Join(home, ".pact", "am.toml"), SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		out = append(out, configFile{project, SourceProject})
	}
	return out
}

// findProjectConfig searches for am.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges configuration files in precedence order:
// system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	ConfigSources = map[string]SourceInfo{}
	for _, cp := range configPaths() {
		if _, err := os.Stat(cp.path); err != nil {
			continue
		}
		file := viper.New()
		file.SetConfigFile(cp.path)
		file.SetConfigType("toml")
		if err := file.ReadInConfig(); err != nil {
			continue
		}
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			continue
		}
		for _, key := range file.AllKeys() {
			ConfigSources[key] = SourceInfo{Source: cp.source, Path: cp.path}
		}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}
