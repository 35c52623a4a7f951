package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Artifacts   ArtifactsConfig   `toml:"artifacts"`
	Worker      WorkerConfig      `toml:"worker"`
	Webhook     WebhookConfig     `toml:"webhook"`
	Logging     LoggingConfig     `toml:"logging"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	Office      OfficeConfig      `toml:"office"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// ArtifactsConfig controls where handlers write their outputs
type ArtifactsConfig struct {
	Dir string `toml:"dir"` // Root directory for per-job artifact directories and uploads
}

// WorkerConfig controls the job worker manager
type WorkerConfig struct {
	Active                    bool `toml:"active"`                       // Run the worker manager in this process
	MaxConcurrentWorkers      int  `toml:"max_concurrent_workers"`       // Concurrent job goroutines
	PollIntervalSeconds       int  `toml:"poll_interval_seconds"`        // Pending-job poll cadence
	StallCheckIntervalSeconds int  `toml:"stall_check_interval_seconds"` // Stalled-job sweep cadence
	MaxProcessingMinutes      int  `toml:"max_processing_minutes"`       // Processing age before a job counts as stalled
	ShutdownGraceSeconds      int  `toml:"shutdown_grace_seconds"`       // Drain budget on shutdown
}

// WebhookConfig controls outbound callback delivery
type WebhookConfig struct {
	ProgressTimeoutSeconds int     `toml:"progress_timeout_seconds"` // HTTP timeout for progress callbacks
	TerminalTimeoutSeconds int     `toml:"terminal_timeout_seconds"` // HTTP timeout for completed/error callbacks
	RatePerSecond          float64 `toml:"rate_per_second"`          // Outbound request rate limit
	Burst                  int     `toml:"burst"`                    // Rate limiter burst size
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// MaintenanceConfig controls background archival of finished work
type MaintenanceConfig struct {
	Enabled           bool   `toml:"enabled"`
	Schedule          string `toml:"schedule"`            // Cron schedule format
	ArchiveAfterHours int    `toml:"archive_after_hours"` // Age of completed batches before archival
}

// TranscriberConfig points at the external transcription binary
type TranscriberConfig struct {
	Command string `toml:"command"` // e.g. "whisper-cli"; empty disables the audio job type
}

// OfficeConfig points at the external document converter
type OfficeConfig struct {
	SofficePath string `toml:"soffice_path"` // LibreOffice binary; empty falls back to "soffice" on PATH
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in fabrica.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Artifacts: ArtifactsConfig{
			Dir: "./data/artifacts",
		},
		Worker: WorkerConfig{
			Active:                    true,
			MaxConcurrentWorkers:      3,  // Concurrent handler goroutines
			PollIntervalSeconds:       5,  // Pending-job poll cadence
			StallCheckIntervalSeconds: 60, // Stalled-job sweep cadence
			MaxProcessingMinutes:      10, // Processing age before a job counts as stalled
			ShutdownGraceSeconds:      30, // Drain budget on shutdown
		},
		Webhook: WebhookConfig{
			ProgressTimeoutSeconds: 15,
			TerminalTimeoutSeconds: 30,
			RatePerSecond:          10, // Outbound callbacks per second across all jobs
			Burst:                  20,
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Maintenance: MaintenanceConfig{
			Enabled:           false,     // Disabled by default - user must explicitly opt-in
			Schedule:          "@hourly", // Cron schedule for the archival sweep
			ArchiveAfterHours: 168,       // Archive completed batches after a week
		},
		Transcriber: TranscriberConfig{
			Command: "", // User must point this at a transcription binary
		},
		Office: OfficeConfig{
			SofficePath: "soffice",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: FABRICA_ENV, fallback: GO_ENV)
	if env := os.Getenv("FABRICA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("FABRICA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FABRICA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("FABRICA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("FABRICA_BADGER_RESET"); reset != "" {
		if b, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = b
		}
	}
	if artifactsDir := os.Getenv("FABRICA_ARTIFACTS_DIR"); artifactsDir != "" {
		config.Artifacts.Dir = artifactsDir
	}

	// Worker configuration
	if active := os.Getenv("FABRICA_WORKER_ACTIVE"); active != "" {
		if b, err := strconv.ParseBool(active); err == nil {
			config.Worker.Active = b
		}
	}
	if workers := os.Getenv("FABRICA_MAX_CONCURRENT_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			config.Worker.MaxConcurrentWorkers = w
		}
	}
	if poll := os.Getenv("FABRICA_POLL_INTERVAL_SECONDS"); poll != "" {
		if p, err := strconv.Atoi(poll); err == nil && p > 0 {
			config.Worker.PollIntervalSeconds = p
		}
	}
	if stall := os.Getenv("FABRICA_STALL_CHECK_INTERVAL_SECONDS"); stall != "" {
		if s, err := strconv.Atoi(stall); err == nil && s > 0 {
			config.Worker.StallCheckIntervalSeconds = s
		}
	}
	if maxProc := os.Getenv("FABRICA_MAX_PROCESSING_MINUTES"); maxProc != "" {
		if m, err := strconv.Atoi(maxProc); err == nil && m > 0 {
			config.Worker.MaxProcessingMinutes = m
		}
	}

	// Logging configuration
	if level := os.Getenv("FABRICA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FABRICA_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		parts := strings.Split(output, ",")
		outputs := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Collaborator binaries
	if cmd := os.Getenv("FABRICA_TRANSCRIBER_COMMAND"); cmd != "" {
		config.Transcriber.Command = cmd
	}
	if soffice := os.Getenv("FABRICA_SOFFICE_PATH"); soffice != "" {
		config.Office.SofficePath = soffice
	}
}

// Validate performs basic sanity checks on the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.Badger.Path == "" {
		return fmt.Errorf("storage.badger.path is required")
	}
	if c.Worker.MaxConcurrentWorkers < 1 {
		return fmt.Errorf("worker.max_concurrent_workers must be at least 1")
	}
	return nil
}
