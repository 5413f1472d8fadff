// Package config loads server configuration from defaults, an optional .env
// file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/joho/godotenv"
)

const (
	DefaultPageSize         = 100
	DefaultArchiveMaxSize   = 10 * int64(units.GiB)
	DefaultArchiveRetention = 24 * time.Hour
)

// Config holds all server configuration.
type Config struct {
	// Server
	RootDir    string
	ListenAddr string

	// Listing
	PageSize  int
	HashFiles bool
	Workers   int

	// Archives
	TempDir          string
	WorkDir          string
	StateDB          string
	ArchiveMaxSize   int64
	ArchiveRetention time.Duration
	SweepInterval    time.Duration

	// Access gate. Empty Password and PasswordHash disable it.
	Password      string
	PasswordHash  string
	SessionSecret string
	SessionTTL    time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	ShowVersion bool
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		RootDir:          ".",
		ListenAddr:       ":8080",
		PageSize:         DefaultPageSize,
		HashFiles:        true,
		TempDir:          "temp",
		StateDB:          "explorer.db",
		ArchiveMaxSize:   DefaultArchiveMaxSize,
		ArchiveRetention: DefaultArchiveRetention,
		SweepInterval:    time.Hour,
		SessionTTL:       24 * time.Hour,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load builds the configuration for the given command-line arguments.
// The .env file named by ENV_FILE (default ".env") is read when present;
// variables already set in the environment win over it.
func Load(args []string) (*Config, error) {
	envFile := envOr("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.RootDir = envOr("ROOT_DIR", c.RootDir)
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.PageSize = envInt("PAGE_SIZE", c.PageSize)
	c.HashFiles = envBool("HASH_FILES", c.HashFiles)
	c.Workers = envInt("WORKERS", c.Workers)
	c.TempDir = envOr("TEMP_DIR", c.TempDir)
	c.WorkDir = envOr("ARCHIVE_WORK_DIR", c.WorkDir)
	c.StateDB = envOr("STATE_DB", c.StateDB)
	c.Password = envOr("PASSWORD", c.Password)
	c.PasswordHash = envOr("PASSWORD_HASH", c.PasswordHash)
	c.SessionSecret = envOr("SESSION_SECRET", c.SessionSecret)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)

	var err error
	if v := os.Getenv("ARCHIVE_MAX_SIZE"); v != "" {
		if c.ArchiveMaxSize, err = ParseSize(v); err != nil {
			return fmt.Errorf("ARCHIVE_MAX_SIZE: %w", err)
		}
	}
	if c.ArchiveRetention, err = envDuration("ARCHIVE_RETENTION", c.ArchiveRetention); err != nil {
		return err
	}
	if c.SweepInterval, err = envDuration("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	if c.SessionTTL, err = envDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("file-explorer", flag.ContinueOnError)

	var port string
	fs.BoolVar(&c.ShowVersion, "version", false, "Show version information and exit")
	fs.StringVar(&c.RootDir, "path", c.RootDir, "Root path to serve files from")
	fs.StringVar(&port, "port", "", "Port to listen on (overrides LISTEN_ADDR)")
	fs.StringVar(&c.TempDir, "temp", c.TempDir, "Directory that holds generated archives")
	fs.StringVar(&c.StateDB, "state", c.StateDB, "Path of the archive bookkeeping database")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&c.HashFiles, "hash", c.HashFiles, "Include content hashes in listings by default")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if port != "" {
		c.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	return nil
}

func (c *Config) finalize() error {
	if c.PageSize <= 0 {
		return errors.New("page size must be positive")
	}
	if c.ArchiveMaxSize <= 0 {
		return errors.New("archive size ceiling must be positive")
	}
	if c.ArchiveRetention <= 0 {
		return errors.New("archive retention must be positive")
	}

	var err error
	if c.RootDir, err = filepath.Abs(c.RootDir); err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	if c.TempDir, err = filepath.Abs(c.TempDir); err != nil {
		return fmt.Errorf("invalid temp path: %w", err)
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(c.TempDir, ".work")
	}
	if c.WorkDir, err = filepath.Abs(c.WorkDir); err != nil {
		return fmt.Errorf("invalid work path: %w", err)
	}
	return nil
}

// ParseSize accepts a plain byte count or a unit suffix such as "10GiB" or "512MB".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	b, err := units.ParseBase2Bytes(s)
	if err != nil {
		return 0, err
	}
	return int64(b), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
