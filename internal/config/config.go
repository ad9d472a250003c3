package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr                = ":8080"
	DefaultBaseURL             = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel               = "gemini-2.5-flash"
	DefaultAPIKeyEnv           = "GEMINI_API_KEY"
	DefaultTemperature         = 0.7
	DefaultMaxRequestBodyBytes = 64 * 1024
	DefaultMaxResponseBytes    = 4 * 1024 * 1024
)

// Config holds postscore configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Events    EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"`       // HTTP listen address, e.g. ":8080"
	Production          bool          `yaml:"production"` // require HTTPS for caller-supplied keys
	TrustForwardedProto bool          `yaml:"trust_forwarded_proto"`
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"` // 0 keeps long streams open
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	BaseURL              string        `yaml:"base_url"`    // e.g. "https://generativelanguage.googleapis.com/v1beta"
	Name                 string        `yaml:"name"`        // e.g. "gemini-2.5-flash"
	APIKeyEnv            string        `yaml:"api_key_env"` // e.g. "GEMINI_API_KEY"
	Temperature          *float64      `yaml:"temperature"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxResponseBytes     int64         `yaml:"max_response_bytes"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

type LoggingConfig struct {
	EventLevel string `yaml:"event_level"` // metadata | redacted
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
}

type EventsConfig struct {
	Sinks     []EventSinkConfig `yaml:"sinks"`
	QueueSize int               `yaml:"queue_size"`
	Workers   int               `yaml:"workers"`
}

type EventSinkConfig struct {
	Type      string            `yaml:"type"` // stdout | file_jsonl | webhook
	Path      string            `yaml:"path"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMS int               `yaml:"timeout_ms"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides. If the file doesn't exist, the defaults are used.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, err
	}

	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// DefaultAPIKey returns the process-wide key named by model.api_key_env.
// It is read once at startup; an empty result is not an error.
func (c *Config) DefaultAPIKey() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Model.APIKeyEnv))
}

// ModelTemperature returns the configured sampling temperature.
func (c *Config) ModelTemperature() float64 {
	if c == nil || c.Model.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Model.Temperature
}

func defaultConfig() *Config {
	temp := DefaultTemperature
	return &Config{
		Server: ServerConfig{
			Addr:                DefaultAddr,
			MaxRequestBodyBytes: DefaultMaxRequestBodyBytes,
			ReadHeaderTimeout:   10 * time.Second,
			ReadTimeout:         30 * time.Second,
			IdleTimeout:         120 * time.Second,
			ShutdownTimeout:     15 * time.Second,
		},
		Model: ModelConfig{
			BaseURL:          DefaultBaseURL,
			Name:             DefaultModel,
			APIKeyEnv:        DefaultAPIKeyEnv,
			Temperature:      &temp,
			Timeout:          120 * time.Second,
			MaxResponseBytes: DefaultMaxResponseBytes,
		},
		Logging: LoggingConfig{
			EventLevel: "metadata",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
			Service:  "postscore",
		},
		Events: EventsConfig{
			QueueSize: 1000,
			Workers:   2,
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxRequestBodyBytes == 0 {
		cfg.Server.MaxRequestBodyBytes = def.Server.MaxRequestBodyBytes
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = def.Server.ReadHeaderTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = def.Model.BaseURL
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = def.Model.Name
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = def.Model.APIKeyEnv
	}
	if cfg.Model.Temperature == nil {
		cfg.Model.Temperature = def.Model.Temperature
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = def.Model.Timeout
	}
	if cfg.Model.MaxResponseBytes == 0 {
		cfg.Model.MaxResponseBytes = def.Model.MaxResponseBytes
	}

	if cfg.Logging.EventLevel == "" {
		cfg.Logging.EventLevel = def.Logging.EventLevel
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = def.Telemetry.Service
	}

	if cfg.Events.QueueSize == 0 {
		cfg.Events.QueueSize = def.Events.QueueSize
	}
	if cfg.Events.Workers == 0 {
		cfg.Events.Workers = def.Events.Workers
	}
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("POSTSCORE_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTSCORE_PRODUCTION")); v != "" {
		prod, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("POSTSCORE_PRODUCTION: %w", err)
		}
		cfg.Server.Production = prod
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.Model.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")); v != "" {
		cfg.Model.BaseURL = v
	}
	return nil
}
