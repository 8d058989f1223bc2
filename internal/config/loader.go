package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "EMERGENCE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "EMERGENCE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (EMERGENCE_*)
// 3. Project config (.emergence.yaml in current directory)
// 4. User config (~/.config/emergence/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".emergence")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "emergence"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8086)
	l.v.SetDefault("server.read_timeout", "15s")
	l.v.SetDefault("server.idle_timeout", "60s")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.cors_origins", []string{"*"})
	l.v.SetDefault("server.enable_cors", true)

	// Gemini defaults
	l.v.SetDefault("gemini.api_key", "")
	l.v.SetDefault("gemini.model", "gemini-2.5-flash")
	l.v.SetDefault("gemini.temperature", 0.7)
	l.v.SetDefault("gemini.max_output_tokens", 16000)
	l.v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1")
	l.v.SetDefault("gemini.request_timeout", "120s")
	l.v.SetDefault("gemini.connect_timeout", "30s")
	l.v.SetDefault("gemini.retry_base_delay", "3s")

	// Engine defaults
	l.v.SetDefault("engine.tick_interval", "2s")
	l.v.SetDefault("engine.warmup_delay", "30s")
	l.v.SetDefault("engine.warmup_timeout", "60s")
	l.v.SetDefault("engine.warmup_ratio", 0.75)
	l.v.SetDefault("engine.quiescence_first", "6s")
	l.v.SetDefault("engine.quiescence_steady", "5s")
	l.v.SetDefault("engine.ready_wait_timeout", "2m")
	l.v.SetDefault("engine.image_freshness", "60s")
	l.v.SetDefault("engine.image_lag_tolerance", "2s")
	l.v.SetDefault("engine.stale_short", "90s")
	l.v.SetDefault("engine.stale_long", "10m")
	l.v.SetDefault("engine.min_image_bytes", 1000)
	l.v.SetDefault("engine.bands.weak", 0.0)
	l.v.SetDefault("engine.bands.moderate", 6.0)
	l.v.SetDefault("engine.bands.strong", 11.0)
	l.v.SetDefault("engine.bands.exceptional", 16.0)

	// Store defaults
	l.v.SetDefault("store.initial_timeout", "60s")
	l.v.SetDefault("store.established_timeout", "8m")
	l.v.SetDefault("store.grace_period", "60s")

	// Publisher defaults (disabled unless a URL is set)
	l.v.SetDefault("publisher.url", "")
	l.v.SetDefault("publisher.buffer_size", 16)

	// Session defaults
	l.v.SetDefault("session.history_limit", 500)
	l.v.SetDefault("session.export_path", "session-export.json")

	// Templates defaults (embedded only)
	l.v.SetDefault("templates.dir", "")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
