package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultQueueName   = "default"
	defaultDBPath      = "jobagent.db"
	defaultBlobDir     = "blobs"
	defaultWorkDir     = "work"
	defaultCacheDir    = "cache"
	defaultListenAddr  = ":8080"
	defaultLease       = 5 * time.Minute
	defaultIdleBackoff = 5 * time.Second
	defaultDotnetBin   = "dotnet"
	defaultPythonBin   = "python3"

	envQueueName   = "JOBAGENT_QUEUE"
	envDBPath      = "JOBAGENT_DB_PATH"
	envBlobDir     = "JOBAGENT_BLOB_DIR"
	envWorkDir     = "JOBAGENT_WORK_DIR"
	envCacheDir    = "JOBAGENT_CACHE_DIR"
	envListenAddr  = "JOBAGENT_LISTEN_ADDR"
	envLease       = "JOBAGENT_LEASE"
	envIdleBackoff = "JOBAGENT_IDLE_BACKOFF"
	envLogLevel    = "JOBAGENT_LOG_LEVEL"
	envDotnetBin   = "JOBAGENT_DOTNET_BIN"
	envPythonBin   = "JOBAGENT_PYTHON_BIN"
)

// renewalFraction is the lease-renewal interval as a fraction of the lease
// duration, leaving margin for at least one retry before the lease expires.
const renewalFraction = 0.6

// Config holds worker configuration loaded from an optional YAML file with
// environment variable overrides.
type Config struct {
	QueueName   string
	DBPath      string
	BlobDir     string
	WorkDir     string
	CacheDir    string
	ListenAddr  string
	Lease       time.Duration
	IdleBackoff time.Duration
	LogLevel    slog.Level
	DotnetBin   string
	PythonBin   string

	// ConnectionStrings are the worker-local credential values that replace
	// the ConnectionStrings subtree of every packaged settings file. Secrets
	// come from the worker, never from the package.
	ConnectionStrings map[string]string
}

// RenewalInterval returns the lease-renewal period derived from the lease
// duration (e.g. a 5-minute lease renews every 3 minutes).
func (c Config) RenewalInterval() time.Duration {
	return time.Duration(float64(c.Lease) * renewalFraction)
}

// fileConfig is the YAML shape of the configuration file. Durations are
// strings in time.ParseDuration form.
type fileConfig struct {
	Queue             string            `yaml:"queue"`
	DBPath            string            `yaml:"db_path"`
	BlobDir           string            `yaml:"blob_dir"`
	WorkDir           string            `yaml:"work_dir"`
	CacheDir          string            `yaml:"cache_dir"`
	ListenAddr        string            `yaml:"listen_addr"`
	Lease             string            `yaml:"lease"`
	IdleBackoff       string            `yaml:"idle_backoff"`
	LogLevel          string            `yaml:"log_level"`
	DotnetBin         string            `yaml:"dotnet_bin"`
	PythonBin         string            `yaml:"python_bin"`
	ConnectionStrings map[string]string `yaml:"connection_strings"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then JOBAGENT_*
// environment variables.
func Load(path string) (Config, error) {
	cfg := Config{
		QueueName:   defaultQueueName,
		DBPath:      defaultDBPath,
		BlobDir:     defaultBlobDir,
		WorkDir:     defaultWorkDir,
		CacheDir:    defaultCacheDir,
		ListenAddr:  defaultListenAddr,
		Lease:       defaultLease,
		IdleBackoff: defaultIdleBackoff,
		LogLevel:    slog.LevelInfo,
		DotnetBin:   defaultDotnetBin,
		PythonBin:   defaultPythonBin,
	}

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.QueueName, fc.Queue)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.BlobDir, fc.BlobDir)
	setString(&cfg.WorkDir, fc.WorkDir)
	setString(&cfg.CacheDir, fc.CacheDir)
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.DotnetBin, fc.DotnetBin)
	setString(&cfg.PythonBin, fc.PythonBin)
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.Lease != "" {
		d, err := time.ParseDuration(fc.Lease)
		if err != nil {
			return fmt.Errorf("parse lease duration %q: %w", fc.Lease, err)
		}
		cfg.Lease = d
	}
	if fc.IdleBackoff != "" {
		d, err := time.ParseDuration(fc.IdleBackoff)
		if err != nil {
			return fmt.Errorf("parse idle backoff %q: %w", fc.IdleBackoff, err)
		}
		cfg.IdleBackoff = d
	}
	if fc.ConnectionStrings != nil {
		cfg.ConnectionStrings = fc.ConnectionStrings
	}

	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.QueueName, os.Getenv(envQueueName))
	setString(&cfg.DBPath, os.Getenv(envDBPath))
	setString(&cfg.BlobDir, os.Getenv(envBlobDir))
	setString(&cfg.WorkDir, os.Getenv(envWorkDir))
	setString(&cfg.CacheDir, os.Getenv(envCacheDir))
	setString(&cfg.ListenAddr, os.Getenv(envListenAddr))
	setString(&cfg.DotnetBin, os.Getenv(envDotnetBin))
	setString(&cfg.PythonBin, os.Getenv(envPythonBin))
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envLease); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", envLease, v, err)
		}
		cfg.Lease = d
	}
	if v := os.Getenv(envIdleBackoff); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", envIdleBackoff, v, err)
		}
		cfg.IdleBackoff = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
