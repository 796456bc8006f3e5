package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Broker
	BindAddr       string        `env:"MS_BIND_ADDR"` // empty: first non-loopback IPv4
	BindPort       int           `env:"MS_BIND_PORT" default:"0"`
	RequestTimeout time.Duration `env:"MS_REQUEST_TIMEOUT" default:"5s"`
	MaxRequestSize int64         `env:"MS_MAX_REQUEST_SIZE" default:"1048576"`
	StatusAddr     string        `env:"MS_STATUS_ADDR"` // empty: status endpoint disabled

	// Discovery
	DiscoveryPort      int           `env:"MS_DISCOVERY_PORT" default:"8686"`
	DiscoveryTimeout   time.Duration `env:"MS_DISCOVERY_TIMEOUT" default:"1s"`
	DiscoveryBroadcast string        `env:"MS_DISCOVERY_BROADCAST" default:"255.255.255.255"`
	DiscoveryRate      float64       `env:"MS_DISCOVERY_RATE" default:"50"`

	// Nodes
	RecoveryInterval time.Duration `env:"MS_RECOVERY_INTERVAL" default:"1s"`
	CycleFrequency   int           `env:"MS_CYCLE_FREQUENCY" default:"10"`

	// Logging
	LogLevel          string `env:"LOG_LEVEL" default:"info"`
	LogFormat         string `env:"LOG_FORMAT" default:"text"`
	LogFile           string `env:"LOG_FILE"`
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB" default:"100"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS" default:"3"`
	LogFileMaxAgeDays int    `env:"LOG_FILE_MAX_AGE_DAYS" default:"28"`
}

// LoadConfig loads .env from the working directory if present, then reads the
// environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		slog.Warn("env_file_unreadable", "error", err.Error())
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	config := &Config{}

	// Broker
	if err := loadEnvString(&config.BindAddr, "MS_BIND_ADDR", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BindPort, "MS_BIND_PORT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RequestTimeout, "MS_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt64(&config.MaxRequestSize, "MS_MAX_REQUEST_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.StatusAddr, "MS_STATUS_ADDR", ""); err != nil {
		return nil, err
	}

	// Discovery
	if err := loadEnvInt(&config.DiscoveryPort, "MS_DISCOVERY_PORT", 8686); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DiscoveryTimeout, "MS_DISCOVERY_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DiscoveryBroadcast, "MS_DISCOVERY_BROADCAST", "255.255.255.255"); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.DiscoveryRate, "MS_DISCOVERY_RATE", 50); err != nil {
		return nil, err
	}

	// Nodes
	if err := loadEnvDuration(&config.RecoveryInterval, "MS_RECOVERY_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.CycleFrequency, "MS_CYCLE_FREQUENCY", 10); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFile, "LOG_FILE", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.LogFileMaxSizeMB, "LOG_FILE_MAX_SIZE_MB", 100); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.LogFileMaxBackups, "LOG_FILE_MAX_BACKUPS", 3); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.LogFileMaxAgeDays, "LOG_FILE_MAX_AGE_DAYS", 28); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt64(target *int64, key string, defaultValue int64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// port 0 lets the OS pick the broker port
	if c.BindPort < 0 || c.BindPort > 65535 {
		errors = append(errors, "MS_BIND_PORT must be between 0 and 65535")
	}
	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		errors = append(errors, "MS_DISCOVERY_PORT must be between 1 and 65535")
	}
	if c.BindAddr != "" && !isIPv4(c.BindAddr) {
		errors = append(errors, "MS_BIND_ADDR must be an IPv4 address")
	}
	if !isIPv4(c.DiscoveryBroadcast) {
		errors = append(errors, "MS_DISCOVERY_BROADCAST must be an IPv4 address")
	}
	if c.DiscoveryTimeout <= 0 {
		errors = append(errors, "MS_DISCOVERY_TIMEOUT must be positive")
	}
	if c.DiscoveryRate < 0 {
		errors = append(errors, "MS_DISCOVERY_RATE must not be negative")
	}
	if c.RequestTimeout <= 0 {
		errors = append(errors, "MS_REQUEST_TIMEOUT must be positive")
	}
	if c.MaxRequestSize <= 0 {
		errors = append(errors, "MS_MAX_REQUEST_SIZE must be positive")
	}
	if c.RecoveryInterval < 0 {
		errors = append(errors, "MS_RECOVERY_INTERVAL must not be negative")
	}
	if c.CycleFrequency < 1 {
		errors = append(errors, "MS_CYCLE_FREQUENCY must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// DiscoveryBindAddr is the UDP address the discovery responder listens on.
func (c *Config) DiscoveryBindAddr() string {
	return fmt.Sprintf(":%d", c.DiscoveryPort)
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}
