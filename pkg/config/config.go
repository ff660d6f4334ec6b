// Package config provides configuration handling for arqlink endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/transport"
)

// Config represents the complete endpoint configuration.
type Config struct {
	// Engine tunes the protocol engine of every session.
	Engine core.EngineConfig `json:"engine" yaml:"engine"`

	// Transport contains the UDP socket configuration.
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the metrics reporter configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// TransportConfig contains configuration for the UDP transport.
type TransportConfig struct {
	// Listen is the local address (server) or source address (client).
	Listen string `json:"listen" yaml:"listen"`

	// Remote is the server address a client dials.
	Remote string `json:"remote" yaml:"remote"`

	// Conv is the conversation id a client uses.
	Conv uint32 `json:"conv" yaml:"conv"`

	// QueueCap bounds the outbound writer queue.
	QueueCap int `json:"queueCap" yaml:"queueCap"`

	// BatchSize is the number of datagrams per batched socket call.
	BatchSize int `json:"batchSize" yaml:"batchSize"`

	// DSCP marks outgoing datagrams (0-63).
	DSCP int `json:"dscp" yaml:"dscp"`

	// IdleTimeoutSec removes server sessions idle for this long.
	IdleTimeoutSec int `json:"idleTimeoutSec" yaml:"idleTimeoutSec"`

	// MaxSessions limits concurrent server sessions (0 = unlimited).
	MaxSessions int `json:"maxSessions" yaml:"maxSessions"`

	// PcapPath tees every datagram to a PCAP file when set.
	PcapPath string `json:"pcapPath" yaml:"pcapPath"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (trace, debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`

	// Quiet drops the stdout copy when File is set.
	Quiet bool `json:"quiet" yaml:"quiet"`
}

// MetricsConfig controls the health/metrics HTTP server and the periodic
// reporter.
type MetricsConfig struct {
	// Addr is the HTTP listen address; empty disables the server.
	Addr string `json:"addr" yaml:"addr"`

	// IntervalSec is the reporter period; 0 disables it.
	IntervalSec int `json:"intervalSec" yaml:"intervalSec"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: core.DefaultEngineConfig(),
		Transport: TransportConfig{
			Listen:         "0.0.0.0:4000",
			Remote:         "127.0.0.1:4000",
			Conv:           1,
			QueueCap:       1024,
			BatchSize:      16,
			IdleTimeoutSec: 60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{
			Addr:        "127.0.0.1:8080",
			IntervalSec: 0,
			Format:      "text",
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		} else {
			logging.Warnf("ignoring %s=%q: %v", name, val, err)
		}
	}
}

func envIntPtr(name string, dst **int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = &n
		} else {
			logging.Warnf("ignoring %s=%q: %v", name, val, err)
		}
	}
}

func envBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

// LoadFromEnv loads configuration from ARQ_* environment variables.
func LoadFromEnv(config *Config) {
	// Engine config
	envString("ARQ_MODE", &config.Engine.Mode)
	envInt("ARQ_MTU", &config.Engine.MTU)
	envInt("ARQ_SND_WND", &config.Engine.SndWnd)
	envInt("ARQ_RCV_WND", &config.Engine.RcvWnd)
	envIntPtr("ARQ_NODELAY", &config.Engine.NoDelay)
	envInt("ARQ_INTERVAL", &config.Engine.Interval)
	envIntPtr("ARQ_RESEND", &config.Engine.Resend)
	if val := os.Getenv("ARQ_NC"); val != "" {
		nc := envBool(val)
		config.Engine.NoCongestion = &nc
	}
	envInt("ARQ_MIN_RTO", &config.Engine.MinRTO)
	envInt("ARQ_DEAD_LINK", &config.Engine.DeadLink)
	if val := os.Getenv("ARQ_STREAM"); val != "" {
		config.Engine.Stream = envBool(val)
	}
	if val := os.Getenv("ARQ_LOG_MASK"); val != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(val), 0, 32); err == nil {
			config.Engine.LogMask = uint32(n)
		}
	}

	// Transport config
	envString("ARQ_LISTEN", &config.Transport.Listen)
	envString("ARQ_REMOTE", &config.Transport.Remote)
	if val := os.Getenv("ARQ_CONV"); val != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(val), 0, 32); err == nil {
			config.Transport.Conv = uint32(n)
		} else {
			logging.Warnf("ignoring ARQ_CONV=%q: %v", val, err)
		}
	}
	envInt("ARQ_QUEUE_CAP", &config.Transport.QueueCap)
	envInt("ARQ_BATCH", &config.Transport.BatchSize)
	envInt("ARQ_DSCP", &config.Transport.DSCP)
	envInt("ARQ_IDLE_TIMEOUT_SEC", &config.Transport.IdleTimeoutSec)
	envInt("ARQ_MAX_SESSIONS", &config.Transport.MaxSessions)
	envString("ARQ_PCAP", &config.Transport.PcapPath)

	// Logging config
	envString("ARQ_LOG_LEVEL", &config.Logging.Level)
	envString("ARQ_LOG_FILE", &config.Logging.File)
	envInt("ARQ_LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("ARQ_LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("ARQ_LOG_MAX_AGE", &config.Logging.MaxAge)
	if val := os.Getenv("ARQ_LOG_QUIET"); val != "" {
		config.Logging.Quiet = envBool(val)
	}

	// Metrics config
	envString("ARQ_METRICS_ADDR", &config.Metrics.Addr)
	envInt("ARQ_METRICS_INTERVAL_SEC", &config.Metrics.IntervalSec)
	envString("ARQ_METRICS_FORMAT", &config.Metrics.Format)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate Engine config
	if _, err := c.Engine.NoDelayParams(); err != nil {
		return err
	}
	if c.Engine.MTU != 0 && (c.Engine.MTU < 50 || c.Engine.MTU > 65507) {
		return fmt.Errorf("invalid engine MTU: %d", c.Engine.MTU)
	}
	if c.Engine.SndWnd < 0 || c.Engine.RcvWnd < 0 {
		return fmt.Errorf("invalid window sizes: snd=%d rcv=%d", c.Engine.SndWnd, c.Engine.RcvWnd)
	}
	if c.Engine.Interval < 0 {
		return fmt.Errorf("invalid engine interval: %d", c.Engine.Interval)
	}

	// Validate Transport config
	if c.Transport.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Transport.Listen); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", c.Transport.Listen, err)
		}
	}
	if c.Transport.Remote != "" {
		if _, _, err := net.SplitHostPort(c.Transport.Remote); err != nil {
			return fmt.Errorf("invalid remote address %q: %w", c.Transport.Remote, err)
		}
	}
	if c.Transport.DSCP < 0 || c.Transport.DSCP > 63 {
		return fmt.Errorf("invalid DSCP: %d", c.Transport.DSCP)
	}
	if c.Transport.QueueCap < 0 || c.Transport.BatchSize < 0 {
		return fmt.Errorf("invalid queue sizing: queueCap=%d batchSize=%d", c.Transport.QueueCap, c.Transport.BatchSize)
	}

	// Validate Logging config
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	// Validate Metrics config
	switch c.Metrics.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid metrics format: %s", c.Metrics.Format)
	}

	return nil
}

// TransportSettings converts the file-level configuration into the
// transport's runtime form.
func (c *Config) TransportSettings() transport.Config {
	return transport.Config{
		ListenAddr:  c.Transport.Listen,
		RemoteAddr:  c.Transport.Remote,
		Conv:        c.Transport.Conv,
		Engine:      c.Engine,
		QueueCap:    c.Transport.QueueCap,
		BatchSize:   c.Transport.BatchSize,
		DSCP:        c.Transport.DSCP,
		IdleTimeout: time.Duration(c.Transport.IdleTimeoutSec) * time.Second,
		MaxSessions: c.Transport.MaxSessions,
		PcapPath:    c.Transport.PcapPath,
	}
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	// Enable file logging if configured
	if c.Logging.File != "" {
		err := logging.EnableFileLogging(logging.RotateOptions{
			Dir:        filepath.Dir(c.Logging.File),
			File:       filepath.Base(c.Logging.File),
			MaxSizeMB:  c.Logging.MaxSize,
			MaxBackups: c.Logging.MaxBackups,
			MaxAgeDays: c.Logging.MaxAge,
			Quiet:      c.Logging.Quiet,
		})
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	// Create directory if it doesn't exist
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
