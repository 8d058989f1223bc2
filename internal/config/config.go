// Package config loads and validates the engine configuration from
// defaults, a YAML file, EMERGENCE_* environment variables and CLI flags.
package config

import (
	"time"

	"github.com/canvaslab/emergence/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Session   SessionConfig   `mapstructure:"session"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP ingestion server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
}

// GeminiConfig configures the model backend used by both analysis stages.
type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	BaseURL         string        `mapstructure:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
}

// EngineConfig configures the analysis loop timing and thresholds.
type EngineConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	WarmupDelay       time.Duration `mapstructure:"warmup_delay"`
	WarmupTimeout     time.Duration `mapstructure:"warmup_timeout"`
	WarmupRatio       float64       `mapstructure:"warmup_ratio"`
	QuiescenceFirst   time.Duration `mapstructure:"quiescence_first"`
	QuiescenceSteady  time.Duration `mapstructure:"quiescence_steady"`
	ReadyWaitTimeout  time.Duration `mapstructure:"ready_wait_timeout"`
	ImageFreshness    time.Duration `mapstructure:"image_freshness"`
	ImageLagTolerance time.Duration `mapstructure:"image_lag_tolerance"`
	StaleShort        time.Duration `mapstructure:"stale_short"`
	StaleLong         time.Duration `mapstructure:"stale_long"`
	MinImageBytes     int           `mapstructure:"min_image_bytes"`
	Bands             core.UBands   `mapstructure:"bands"`
}

// StoreConfig configures the contribution store eviction timeouts.
type StoreConfig struct {
	InitialTimeout     time.Duration `mapstructure:"initial_timeout"`
	EstablishedTimeout time.Duration `mapstructure:"established_timeout"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
}

// PublisherConfig configures the optional outbound WebSocket publisher.
// An empty URL disables it.
type PublisherConfig struct {
	URL        string `mapstructure:"url"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// SessionConfig configures session recording.
type SessionConfig struct {
	HistoryLimit int    `mapstructure:"history_limit"`
	ExportPath   string `mapstructure:"export_path"`
}

// TemplatesConfig configures prompt template loading. An empty dir means
// embedded templates only, with no hot reload.
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}
