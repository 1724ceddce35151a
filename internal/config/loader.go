package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"routerd/internal/common/fsutil"
)

// Defaults applied when corresponding Config fields are unset or invalid.
const (
	DefaultAddr               = ":8090"
	DefaultBackendURL         = "http://127.0.0.1:11434"
	DefaultFallbackModel      = "remote:gpt-4o-mini"
	DefaultKeepAliveMinutes   = 10
	DefaultGPUThreshold       = 0.85
	DefaultHealthIntervalSecs = 30
)

// Config holds runtime parameters for the router daemon.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	BackendURL string `json:"backend_url" yaml:"backend_url" toml:"backend_url"`

	PrimaryModel  string `json:"primary_model" yaml:"primary_model" toml:"primary_model"`
	SidecarModel  string `json:"sidecar_model" yaml:"sidecar_model" toml:"sidecar_model"`
	FallbackModel string `json:"fallback_model" yaml:"fallback_model" toml:"fallback_model"`

	KeepAliveMinutes           int     `json:"keep_alive_minutes" yaml:"keep_alive_minutes" toml:"keep_alive_minutes"`
	GPUMemoryThreshold         float64 `json:"gpu_memory_threshold" yaml:"gpu_memory_threshold" toml:"gpu_memory_threshold"`
	HealthCheckIntervalSeconds int     `json:"health_check_interval_seconds" yaml:"health_check_interval_seconds" toml:"health_check_interval_seconds"`

	PreloadOnStart *bool `json:"preload_on_start" yaml:"preload_on_start" toml:"preload_on_start"`
	AutoRoute      *bool `json:"auto_route" yaml:"auto_route" toml:"auto_route"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	if !fsutil.PathExists(path) {
		return cfg, fmt.Errorf("config file not found: %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields and clamps invalid numeric values back to
// their defaults. A missing or out-of-range field is not an error.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.FallbackModel == "" {
		c.FallbackModel = DefaultFallbackModel
	}
	if c.KeepAliveMinutes <= 0 {
		c.KeepAliveMinutes = DefaultKeepAliveMinutes
	}
	if c.GPUMemoryThreshold <= 0 || c.GPUMemoryThreshold > 1 {
		c.GPUMemoryThreshold = DefaultGPUThreshold
	}
	if c.HealthCheckIntervalSeconds <= 0 {
		c.HealthCheckIntervalSeconds = DefaultHealthIntervalSecs
	}
	if c.PreloadOnStart == nil {
		t := true
		c.PreloadOnStart = &t
	}
	if c.AutoRoute == nil {
		t := true
		c.AutoRoute = &t
	}
}

// Validate reports configuration problems ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	if c.PrimaryModel == "" {
		return fmt.Errorf("primary_model is required")
	}
	if c.SidecarModel == "" {
		return fmt.Errorf("sidecar_model is required")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("backend_url must be an http(s) URL: %q", c.BackendURL)
	}
	return nil
}
