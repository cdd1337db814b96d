package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/indexpilot/logger"
)

// StorageType represents the type of archive storage to use
type StorageType string

const (
	// FileStorage represents file-based archive storage
	FileStorage StorageType = "file"
	// S3Storage represents S3-based archive storage
	S3Storage StorageType = "s3"
)

/*
Config holds the engine configuration including the target database, the
audit archive settings, logging settings, and the advisory parameters that
shape every evaluation cycle.
*/
type Config struct {
	// Target database settings
	DatabasePath string
	AuditPath    string

	// Advisory settings
	AdvisoryMode       bool
	MinQueryThreshold  int
	SafetyMargin       float64
	RateLimitPerWindow int
	BurstCapacity      int
	RequireApproval    bool
	BuildTimeout       time.Duration
	WindowSize         time.Duration
	LatenessTolerance  time.Duration
	MaxParallel        int

	// Archive settings
	StorageType StorageType
	StoragePath string

	// S3 archive settings
	S3Bucket        string
	S3Region        string
	S3Prefix        string
	S3RetentionDays int // Number of days to keep archived entries before auto-deletion

	// Status endpoint settings
	StatusAddr string

	// Logging settings
	LogLevel log.Level
}

/*
New creates a new configuration with default values.
It initializes configuration from environment variables or falls back to defaults.
*/
func New() *Config {
	// Set up default archive path in user's home directory
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultStoragePath := filepath.Join(home, ".indexpilot", "archive")

	return &Config{
		DatabasePath:       getEnvWithDefault("INDEXPILOT_DB", "indexpilot.db"),
		AuditPath:          getEnvWithDefault("INDEXPILOT_AUDIT_DB", "indexpilot-audit.db"),
		AdvisoryMode:       parseBool(getEnvWithDefault("ADVISORY_MODE", "false"), false),
		MinQueryThreshold:  parseInt(getEnvWithDefault("MIN_QUERY_THRESHOLD", "100"), 100),
		SafetyMargin:       parseFloat(getEnvWithDefault("SAFETY_MARGIN", "1.5"), 1.5),
		RateLimitPerWindow: parseInt(getEnvWithDefault("RATE_LIMIT_PER_WINDOW", "10"), 10),
		BurstCapacity:      parseInt(getEnvWithDefault("BURST_CAPACITY", "3"), 3),
		RequireApproval:    parseBool(getEnvWithDefault("REQUIRE_APPROVAL", "false"), false),
		BuildTimeout:       parseDuration(getEnvWithDefault("BUILD_TIMEOUT", "5m"), 5*time.Minute),
		WindowSize:         parseDuration(getEnvWithDefault("WINDOW_SIZE", "15m"), 15*time.Minute),
		LatenessTolerance:  parseDuration(getEnvWithDefault("LATENESS_TOLERANCE", "1m"), time.Minute),
		MaxParallel:        parseInt(getEnvWithDefault("MAX_PARALLEL", "4"), 4),
		StorageType:        StorageType(getEnvWithDefault("STORAGE_TYPE", string(FileStorage))),
		StoragePath:        getEnvWithDefault("STORAGE_PATH", defaultStoragePath),
		S3Bucket:           getEnvWithDefault("S3_BUCKET", ""),
		S3Region:           getEnvWithDefault("S3_REGION", "us-east-1"),
		S3Prefix:           getEnvWithDefault("S3_PREFIX", "mutation-log/"),
		S3RetentionDays:    parseInt(getEnvWithDefault("S3_RETENTION_DAYS", "90"), 90),
		StatusAddr:         getEnvWithDefault("STATUS_ADDR", ":8090"),
		LogLevel:           parseLogLevel(getEnvWithDefault("LOG_LEVEL", "info")),
	}
}

/*
Validate checks if the configuration is valid. Contradictory or out-of-range
advisory options are rejected here so the engine refuses to start rather than
run with undefined behavior.
*/
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("target database path is required (INDEXPILOT_DB)")
	}

	if c.AuditPath == "" {
		return fmt.Errorf("audit database path is required (INDEXPILOT_AUDIT_DB)")
	}

	if c.MinQueryThreshold < 0 {
		return fmt.Errorf("minimum query threshold must not be negative, got %d", c.MinQueryThreshold)
	}

	if c.SafetyMargin < 1.0 {
		return fmt.Errorf("safety margin must be at least 1.0, got %f", c.SafetyMargin)
	}

	if c.RateLimitPerWindow < 1 {
		return fmt.Errorf("rate limit per window must be at least 1, got %d", c.RateLimitPerWindow)
	}

	if c.BurstCapacity < 1 {
		return fmt.Errorf("burst capacity must be at least 1, got %d", c.BurstCapacity)
	}

	if c.BuildTimeout <= 0 {
		return fmt.Errorf("build timeout must be positive, got %s", c.BuildTimeout)
	}

	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %s", c.WindowSize)
	}

	if c.LatenessTolerance < 0 {
		return fmt.Errorf("lateness tolerance must not be negative, got %s", c.LatenessTolerance)
	}

	if c.LatenessTolerance >= c.WindowSize {
		return fmt.Errorf("lateness tolerance (%s) must be smaller than the window size (%s)",
			c.LatenessTolerance, c.WindowSize)
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("max parallel must be at least 1, got %d", c.MaxParallel)
	}

	if c.AdvisoryMode && c.RequireApproval {
		return fmt.Errorf("advisory mode and required approval are contradictory: nothing would ever be applied or approved")
	}

	// Validate storage-specific settings
	if c.StorageType == S3Storage {
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET environment variable is required when STORAGE_TYPE=s3")
		}
	} else if c.StorageType != FileStorage {
		return fmt.Errorf("invalid storage type: %s (valid values: file, s3)", c.StorageType)
	}

	return nil
}

/*
SetAdvisoryMode toggles advisory mode, in which decisions are computed and
logged but never applied.
*/
func (c *Config) SetAdvisoryMode(enabled bool) {
	c.AdvisoryMode = enabled
}

/*
SetDatabasePath sets the target database path in the configuration.
*/
func (c *Config) SetDatabasePath(path string) {
	if path != "" {
		c.DatabasePath = path
	}
}

/*
SetLogLevel sets the log level in the configuration.
*/
func (c *Config) SetLogLevel(level string) {
	if level != "" {
		c.LogLevel = parseLogLevel(level)
	}
}

/*
ApplyLogging configures the logger based on the current configuration.
*/
func (c *Config) ApplyLogging() {
	logger.SetLevel(c.LogLevel)
	logger.Info("Logging configured",
		"level", c.LogLevel.String(),
		"database", c.DatabasePath,
		"advisory", c.AdvisoryMode)
}

/*
getEnvWithDefault retrieves an environment variable or returns a default value if not set.
*/
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

/*
parseLogLevel converts a string log level to a log.Level value.
*/
func parseLogLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

/*
parseFloat converts a string to a float64 value.
*/
func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

/*
parseInt converts a string to an int value.
*/
func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

/*
parseBool converts a string to a boolean value.
*/
func parseBool(value string, fallback bool) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

/*
parseDuration converts a string to a time.Duration value.
*/
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
