package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigSize caps the size of a configuration file
const MaxConfigSize = 1 << 20

// Transport types
const (
	TransportLoopback = "loopback"
	TransportMemory   = "memory"
	TransportRedis    = "redis"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Handler       HandlerConfig       `yaml:"handler"`
	Transport     TransportConfig     `yaml:"transport"`
	Observability ObservabilityConfig `yaml:"observability"`

	// RightsSweep is a cron spec for purging expired rights objects.
	// Empty disables the sweep.
	RightsSweep string `yaml:"rights_sweep"`
}

// ServerConfig locates the DRM server bootstrap document
type ServerConfig struct {
	InfoPath string `yaml:"info_path"`
}

// HandlerConfig holds communication handler tuning
type HandlerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
	SendRate      float64       `yaml:"send_rate"`
	SendBurst     int           `yaml:"send_burst"`
	DrainOnClose  bool          `yaml:"drain_on_close"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// TransportConfig selects where server responses go
type TransportConfig struct {
	Type       string      `yaml:"type"` // loopback, memory, redis
	BufferSize int         `yaml:"buffer_size"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection and list settings
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	OutboundKey string `yaml:"outbound_key"`
	InboundKey  string `yaml:"inbound_key"`
}

// ObservabilityConfig holds metrics, health and tracing settings
type ObservabilityConfig struct {
	HTTPAddr string        `yaml:"http_addr"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// TracingConfig mirrors the OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Exporter    string `yaml:"exporter"` // otlp, stdout, none
	Endpoint    string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{Handler: HandlerConfig{EnableMetrics: true}}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// DefaultServerInfoPath returns the platform location of the bootstrap document
func DefaultServerInfoPath() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "drmcomm", "omaDRMServerInfo.xml")
	case "darwin":
		return "/Library/Application Support/drmcomm/omaDRMServerInfo.xml"
	default:
		return "/etc/drmcomm/omaDRMServerInfo.xml"
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{Handler: HandlerConfig{EnableMetrics: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Handler.PollInterval == 0 {
		c.Handler.PollInterval = 100 * time.Millisecond
	}
	if c.Handler.LockTimeout == 0 {
		c.Handler.LockTimeout = time.Second
	}
	if c.Handler.StopTimeout == 0 {
		c.Handler.StopTimeout = 5 * time.Second
	}
	if c.Handler.SendBurst == 0 {
		c.Handler.SendBurst = 1
	}
	if c.Transport.Type == "" {
		c.Transport.Type = TransportLoopback
	}
	if c.Transport.BufferSize == 0 {
		c.Transport.BufferSize = 100
	}
	if c.Observability.HTTPAddr == "" {
		c.Observability.HTTPAddr = ":9090"
	}
}

// applyEnv fills settings left empty by the file from the environment.
func (c *Config) applyEnv() {
	if c.Server.InfoPath == "" {
		c.Server.InfoPath = os.Getenv("DRMCOMM_SERVER_INFO")
	}
	if c.Server.InfoPath == "" {
		c.Server.InfoPath = DefaultServerInfoPath()
	}
	if c.Transport.Redis.Addr == "" {
		c.Transport.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Transport.Redis.Password == "" {
		c.Transport.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Transport.Redis.DB == 0 {
		if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
			c.Transport.Redis.DB = db
		}
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.InfoPath) == "" {
		return fmt.Errorf("server.info_path is required")
	}

	if c.Handler.PollInterval < 0 || c.Handler.LockTimeout < 0 || c.Handler.StopTimeout < 0 {
		return fmt.Errorf("handler durations must not be negative")
	}
	if c.Handler.SendRate < 0 {
		return fmt.Errorf("handler.send_rate must not be negative")
	}

	switch c.Transport.Type {
	case TransportLoopback, TransportMemory:
	case TransportRedis:
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("transport.redis.addr is required for the redis transport")
		}
	default:
		return fmt.Errorf("unknown transport type: %s", c.Transport.Type)
	}

	switch c.Observability.Tracing.Exporter {
	case "", "none", "otlp", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter: %s", c.Observability.Tracing.Exporter)
	}

	return nil
}
