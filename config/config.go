package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/luoyjx/lwwset/clock"
	"github.com/luoyjx/lwwset/lww"
	"github.com/luoyjx/lwwset/snapshot"
)

// ErrConfigDoesNotExist is returned if the config file is missing.
var ErrConfigDoesNotExist = errors.New("config file does not exist")

// Config represents the server configuration
type Config struct {
	// Server settings
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	ReplicaID  string `json:"replica_id" yaml:"replica_id"`

	// Replica settings
	ClockMode       string `json:"clock_mode" yaml:"clock_mode"`           // "hybrid", "logical"
	SnapshotFormat  string `json:"snapshot_format" yaml:"snapshot_format"` // "binary", "json"
	MaxSnapshotSize int    `json:"max_snapshot_size" yaml:"max_snapshot_size"`

	// Logging settings
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "json", "text"
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":6380",
		ReplicaID:  lww.NewReplicaID(),

		ClockMode:       "hybrid",
		SnapshotFormat:  "binary",
		MaxSnapshotSize: snapshot.DefaultMaxSize,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. An empty filename returns the defaults.
func LoadFromFile(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename == "" {
		return config, nil
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return config, errors.Wrap(ErrConfigDoesNotExist, filename)
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML config")
		}
	case ".json":
		if err := json.Unmarshal(content, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON config")
		}
	default:
		// Try to parse as JSON by default
		if err := json.Unmarshal(content, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file (unknown format)")
		}
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(config *Config) {
	if val := os.Getenv("LWW_LISTEN_ADDR"); val != "" {
		config.ListenAddr = val
	}

	if val := os.Getenv("LWW_REPLICA_ID"); val != "" {
		config.ReplicaID = val
	}

	if val := os.Getenv("LWW_CLOCK_MODE"); val != "" {
		config.ClockMode = val
	}

	if val := os.Getenv("LWW_SNAPSHOT_FORMAT"); val != "" {
		config.SnapshotFormat = val
	}

	if val := os.Getenv("LWW_MAX_SNAPSHOT_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.MaxSnapshotSize = size
		}
	}

	if val := os.Getenv("LWW_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	if val := os.Getenv("LWW_LOG_FORMAT"); val != "" {
		config.LogFormat = val
	}
}

// SaveToFile saves the configuration as JSON, or YAML for .yaml/.yml files.
func (c *Config) SaveToFile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	var (
		content []byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		content, err = yaml.Marshal(c)
	default:
		content, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, content, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}

	if c.ReplicaID == "" {
		return errors.New("replica ID cannot be empty")
	}

	if !oneOf(c.ClockMode, "hybrid", "logical") {
		return errors.Newf("invalid clock mode: %s (valid: hybrid, logical)", c.ClockMode)
	}

	if _, err := snapshot.ParseFormat(c.SnapshotFormat); err != nil {
		return err
	}

	if c.MaxSnapshotSize <= snapshot.HeaderSize {
		return errors.Newf("max snapshot size must exceed %d bytes", snapshot.HeaderSize)
	}

	if !oneOf(c.LogLevel, "debug", "info", "warn", "error") {
		return errors.Newf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	if !oneOf(c.LogFormat, "json", "text") {
		return errors.Newf("invalid log format: %s (valid: json, text)", c.LogFormat)
	}

	return nil
}

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// NewClock returns the clock selected by ClockMode.
func (c *Config) NewClock() clock.Clock {
	if c.ClockMode == "logical" {
		return clock.NewLogical()
	}
	return clock.NewHybrid()
}

// Format returns the parsed snapshot format, defaulting to binary.
func (c *Config) Format() snapshot.Format {
	f, err := snapshot.ParseFormat(c.SnapshotFormat)
	if err != nil {
		return snapshot.FormatBinary
	}
	return f
}

// NewLogger builds a zap logger honouring LogLevel and LogFormat.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse log level")
	}

	var zc zap.Config
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger, nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	content, _ := json.MarshalIndent(c, "", "  ")
	return string(content)
}
