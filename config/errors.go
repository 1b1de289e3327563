// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName     = errors.New("invalid application name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidPort        = errors.New("invalid port number")
	ErrInvalidIOThreads   = errors.New("invalid io thread count")
	ErrInvalidMaxSockets  = errors.New("invalid max sockets")
	ErrInvalidHWM         = errors.New("invalid high watermark")
	ErrInvalidMonitorPath = errors.New("invalid monitor path")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)

// Configuration format errors
var (
	ErrFormatNotSupported = errors.New("configuration format not supported")
)
