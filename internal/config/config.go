package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	UploadModeSimulate = "simulate"
	UploadModeStorage  = "storage"
)

type Config struct {
	NodeID    string `yaml:"nodeID"`
	HTTPPort  int    `yaml:"httpPort"`
	Debug     bool   `yaml:"debug"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // "text" or "json"

	MaxConcurrent int `yaml:"maxConcurrent"`

	DataDir    string `yaml:"dataDir"`
	UploadMode string `yaml:"uploadMode"`
	SourceDir  string `yaml:"sourceDir"`

	FailureChance float64       `yaml:"failureChance"`
	MaxUploadTime time.Duration `yaml:"maxUploadTime"`

	// FinishedTTL enables forgetting finished uploads nobody read after this
	// long. Zero keeps them until they are read or removed.
	FinishedTTL   time.Duration `yaml:"finishedTTL"`
	SweepSchedule string        `yaml:"sweepSchedule"`
}

func Load() *Config {
	return &Config{
		NodeID:        getEnv("NODE_ID", "docserver-default"),
		HTTPPort:      getEnvInt("HTTP_PORT", 8000),
		Debug:         getEnvBool("DEBUG", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		MaxConcurrent: getEnvInt("MAX_CONCURRENT", 4),
		DataDir:       getEnv("DATA_DIR", "./data"),
		UploadMode:    getEnv("UPLOAD_MODE", UploadModeSimulate),
		SourceDir:     getEnv("SOURCE_DIR", "."),
		FailureChance: getEnvFloat("FAILURE_CHANCE", 0.05),
		MaxUploadTime: getEnvDuration("MAX_UPLOAD_TIME", 10*time.Second),
		FinishedTTL:   getEnvDuration("FINISHED_TTL", 0),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("maxConcurrent must be positive, got %d", c.MaxConcurrent)
	}
	switch c.UploadMode {
	case UploadModeSimulate, UploadModeStorage:
	default:
		return fmt.Errorf("unknown upload mode: %q", c.UploadMode)
	}
	if c.FailureChance < 0 || c.FailureChance > 1 {
		return fmt.Errorf("failureChance must be within [0, 1], got %v", c.FailureChance)
	}
	if c.MaxUploadTime < 0 {
		return fmt.Errorf("maxUploadTime must not be negative, got %s", c.MaxUploadTime)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
