package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexuswal/core"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	GRPCPort            int    `yaml:"grpc_port"`
	HealthCheckInterval string `yaml:"health_check_interval"`
}

// WALConfig holds Write-Ahead Log specific configurations. Every region gets
// its own WAL node built from these values.
type WALConfig struct {
	// BufferSizeBytes is the total buffer memory of one node, split into two
	// equally sized physical buffers.
	BufferSizeBytes        int64  `yaml:"buffer_size_bytes"`
	QueueCapacity          int    `yaml:"queue_capacity"`
	FsyncDelay             string `yaml:"fsync_delay"`
	FileSizeThresholdBytes int64  `yaml:"file_size_threshold_bytes"`
	Compression            string `yaml:"compression"`
	Preallocate            bool   `yaml:"preallocate"`
	ShutdownTimeout        string `yaml:"shutdown_timeout"`
	CheckMemory            bool   `yaml:"check_memory"`
}

// EngineConfig holds all engine-related configurations.
type EngineConfig struct {
	DataDir      string    `yaml:"data_dir"`
	Regions      []string  `yaml:"regions"`
	WriteTimeout string    `yaml:"write_timeout"`
	WAL          WALConfig `yaml:"wal"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ListenAddress     string `yaml:"listen_address"`
	PProfEnabled      bool   `yaml:"pprof_enabled"`
	MetricsEnabled    bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled  bool   `yaml:"monitor_ui_enabled"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
}

type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Debug          DebugConfig          `yaml:"debug"`
	Engine         EngineConfig         `yaml:"engine"`
	Logging        LoggingConfig        `yaml:"logging"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default WAL values, shared with callers that build wal.Options by hand.
const (
	DefaultWALBufferSize        = 32 * 1024 * 1024
	DefaultWALQueueCapacity     = 500
	DefaultWALFsyncDelay        = 3 * time.Millisecond
	DefaultWALFileSizeThreshold = 30 * 1024 * 1024
	DefaultWALShutdownTimeout   = 30 * time.Second
)

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Server: ServerConfig{
			GRPCPort:            50051,
			HealthCheckInterval: "5s",
		},
		Engine: EngineConfig{
			DataDir:      "./data",
			Regions:      []string{"default"},
			WriteTimeout: "10s",
			WAL: WALConfig{
				BufferSizeBytes:        DefaultWALBufferSize,
				QueueCapacity:          DefaultWALQueueCapacity,
				FsyncDelay:             "3ms",
				FileSizeThresholdBytes: DefaultWALFileSizeThreshold,
				Compression:            "none",
				Preallocate:            true,
				ShutdownTimeout:        "30s",
				CheckMemory:            true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexuswal.log",
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  true,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:           true,
			ListenAddress:     "0.0.0.0:6060",
			PProfEnabled:      true,
			MetricsEnabled:    true,
			MonitorUIEnabled:  true,
			PrometheusEnabled: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Engine.WAL.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine.wal config: %w", err)
	}
	if len(cfg.Engine.Regions) == 0 {
		return nil, errors.New("engine.regions must name at least one region")
	}

	return cfg, nil
}

// Validate checks the WAL values that cannot be defaulted at runtime.
func (c WALConfig) Validate() error {
	if c.BufferSizeBytes <= 0 {
		return fmt.Errorf("buffer_size_bytes must be positive, got %d", c.BufferSizeBytes)
	}
	if c.BufferSizeBytes/2 < core.EntryOverhead {
		return fmt.Errorf("buffer_size_bytes %d leaves no room for an entry in each half", c.BufferSizeBytes)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.FileSizeThresholdBytes <= 0 {
		return fmt.Errorf("file_size_threshold_bytes must be positive, got %d", c.FileSizeThresholdBytes)
	}
	if _, err := core.ParseCompressionType(c.Compression); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
