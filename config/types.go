// Package config provides configuration management for the zkernel runtime
package config

import (
	"net"
	"strconv"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete zkernel configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app" toml:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log" toml:"log"`

	// Kernel thread and slot configuration
	Kernel KernelConfig `yaml:"kernel" json:"kernel" toml:"kernel"`

	// Defaults applied to newly created sockets
	Socket SocketConfig `yaml:"socket" json:"socket" toml:"socket"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor" toml:"monitor"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name" toml:"name" envconfig:"NAME"`

	// Application version
	Version string `yaml:"version" json:"version" toml:"version" envconfig:"VERSION"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment" toml:"environment" envconfig:"ENVIRONMENT"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug" toml:"debug" envconfig:"DEBUG"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level" toml:"level" envconfig:"LEVEL"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format" toml:"format" envconfig:"FORMAT"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" toml:"output" envconfig:"OUTPUT"`
}

// KernelConfig sizes the thread slot table
type KernelConfig struct {
	// Number of worker goroutines
	IOThreads int `yaml:"io_threads" json:"io_threads" toml:"io_threads" envconfig:"IO_THREADS"`

	// Maximum number of simultaneously open sockets
	MaxSockets int `yaml:"max_sockets" json:"max_sockets" toml:"max_sockets" envconfig:"MAX_SOCKETS"`
}

// SocketConfig contains the options new sockets start with
type SocketConfig struct {
	// Outbound high watermark per pipe, 0 for unlimited
	SendHWM int `yaml:"send_hwm" json:"send_hwm" toml:"send_hwm" envconfig:"SEND_HWM"`

	// Inbound high watermark per pipe, 0 for unlimited
	RecvHWM int `yaml:"recv_hwm" json:"recv_hwm" toml:"recv_hwm" envconfig:"RECV_HWM"`

	// How long unsent messages are kept on close
	Linger Duration `yaml:"linger" json:"linger" toml:"linger" envconfig:"LINGER"`

	// Blocking send limit, negative for no limit
	SendTimeout Duration `yaml:"send_timeout" json:"send_timeout" toml:"send_timeout" envconfig:"SEND_TIMEOUT"`

	// Blocking receive limit, negative for no limit
	RecvTimeout Duration `yaml:"recv_timeout" json:"recv_timeout" toml:"recv_timeout" envconfig:"RECV_TIMEOUT"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable the HTTP monitoring server
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled" envconfig:"ENABLED"`

	// HTTP server address
	Address string `yaml:"address" json:"address" toml:"address" envconfig:"ADDRESS"`

	// HTTP server port, 0 for an ephemeral port
	Port int `yaml:"port" json:"port" toml:"port" envconfig:"PORT"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path" toml:"metrics_path"`

	// Health endpoint path
	HealthPath string `yaml:"health_path" json:"health_path" toml:"health_path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "zkernel",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       false,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "json",
			Output: "stdout",
		},
		Kernel: KernelConfig{
			IOThreads:  2,
			MaxSockets: 1023,
		},
		Socket: SocketConfig{
			SendHWM:     1000,
			RecvHWM:     1000,
			Linger:      0,
			SendTimeout: Infinite,
			RecvTimeout: Infinite,
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			Address:     "127.0.0.1",
			Port:        9090,
			MetricsPath: "/metrics",
			HealthPath:  "/health",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return ErrInvalidLogFormat
	}

	// Validate kernel config
	if c.Kernel.IOThreads < 0 {
		return ErrInvalidIOThreads
	}
	if c.Kernel.MaxSockets <= 0 {
		return ErrInvalidMaxSockets
	}

	// Validate socket defaults
	if c.Socket.SendHWM < 0 || c.Socket.RecvHWM < 0 {
		return ErrInvalidHWM
	}

	// Validate monitor config
	if c.Monitor.Enabled {
		if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
			return ErrInvalidPort
		}
		if c.Monitor.MetricsPath == "" || c.Monitor.HealthPath == "" {
			return ErrInvalidMonitorPath
		}
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Log.Level == LogLevelDebug
}

// MonitorAddr returns the host:port the monitor server listens on
func (c *Config) MonitorAddr() string {
	return net.JoinHostPort(c.Monitor.Address, strconv.Itoa(c.Monitor.Port))
}
