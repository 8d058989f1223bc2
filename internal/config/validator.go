package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateGemini(&cfg.Gemini)
	v.validateEngine(&cfg.Engine)
	v.validateStore(&cfg.Store)
	v.validatePublisher(&cfg.Publisher)
	v.validateSession(&cfg.Session)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.ShutdownTimeout <= 0 {
		v.addError("server.shutdown_timeout", cfg.ShutdownTimeout, "must be positive")
	}
}

func (v *Validator) validateGemini(cfg *GeminiConfig) {
	if cfg.APIKey == "" {
		v.addError("gemini.api_key", "", "required (set EMERGENCE_GEMINI_API_KEY)")
	}
	if cfg.Model == "" {
		v.addError("gemini.model", cfg.Model, "required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("gemini.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.MaxOutputTokens <= 0 {
		v.addError("gemini.max_output_tokens", cfg.MaxOutputTokens, "must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("gemini.request_timeout", cfg.RequestTimeout, "must be positive")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if cfg.TickInterval <= 0 {
		v.addError("engine.tick_interval", cfg.TickInterval, "must be positive")
	}
	if cfg.WarmupRatio <= 0 || cfg.WarmupRatio > 1 {
		v.addError("engine.warmup_ratio", cfg.WarmupRatio, "must be in (0, 1]")
	}
	if cfg.WarmupTimeout < cfg.WarmupDelay {
		v.addError("engine.warmup_timeout", cfg.WarmupTimeout, "must not be shorter than warmup_delay")
	}
	if cfg.MinImageBytes < 0 {
		v.addError("engine.min_image_bytes", cfg.MinImageBytes, "must not be negative")
	}
	if cfg.StaleLong < cfg.StaleShort {
		v.addError("engine.stale_long", cfg.StaleLong, "must not be shorter than stale_short")
	}
	b := cfg.Bands
	if !(b.Weak <= b.Moderate && b.Moderate <= b.Strong && b.Strong <= b.Exceptional) {
		v.addError("engine.bands", b, "cutoffs must be non-decreasing")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if cfg.InitialTimeout <= 0 {
		v.addError("store.initial_timeout", cfg.InitialTimeout, "must be positive")
	}
	if cfg.EstablishedTimeout < cfg.InitialTimeout {
		v.addError("store.established_timeout", cfg.EstablishedTimeout, "must not be shorter than initial_timeout")
	}
	if cfg.GracePeriod < 0 {
		v.addError("store.grace_period", cfg.GracePeriod, "must not be negative")
	}
}

func (v *Validator) validatePublisher(cfg *PublisherConfig) {
	if cfg.URL == "" {
		return // publisher disabled
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		v.addError("publisher.url", cfg.URL, "must be a ws:// or wss:// URL")
	}
	if cfg.BufferSize <= 0 {
		v.addError("publisher.buffer_size", cfg.BufferSize, "must be positive")
	}
}

func (v *Validator) validateSession(cfg *SessionConfig) {
	if cfg.HistoryLimit <= 0 {
		v.addError("session.history_limit", cfg.HistoryLimit, "must be positive")
	}
	if cfg.ExportPath == "" {
		v.addError("session.export_path", cfg.ExportPath, "required")
	}
}
