// Package config provides configuration for the scenario orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Scenario catalog file; empty means the built-in catalog only.
	ScenariosPath string

	// Detection pipeline
	PipelineURL     string
	PipelineMode    string
	PipelineTimeout time.Duration

	// Playback
	PlaybackSpeed    float64
	SettleSeconds    float64
	VideoFPS         int
	RunTimeoutFactor float64
	RunTimeoutGrace  time.Duration

	// Scoring
	ScoringTolerance float64

	// Streaming
	SubscriberBuffer int

	// Retention of terminal runs in the registry; zero disables the sweeper.
	RunRetention time.Duration

	// Verdict policy file; empty means the built-in policy.
	VerdictPolicyPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:scenarios.db?cache=shared&mode=rwc"),
		ScenariosPath:     getEnv("SCENARIOS_PATH", ""),
		PipelineURL:       getEnv("PIPELINE_URL", ""),
		PipelineMode:      getEnv("GOGO_MODE", ""),
		PipelineTimeout:   time.Duration(getEnvInt("PIPELINE_TIMEOUT_MS", 5000)) * time.Millisecond,
		PlaybackSpeed:     getEnvFloat("PLAYBACK_SPEED", 1.0),
		SettleSeconds:     getEnvFloat("SETTLE_SECONDS", 1.0),
		VideoFPS:          getEnvInt("VIDEO_FPS", 5),
		RunTimeoutFactor:  getEnvFloat("RUN_TIMEOUT_FACTOR", 3.0),
		RunTimeoutGrace:   time.Duration(getEnvInt("RUN_TIMEOUT_GRACE_MS", 5000)) * time.Millisecond,
		ScoringTolerance:  getEnvFloat("SCORING_TOLERANCE", 2.0),
		SubscriberBuffer:  getEnvInt("SUBSCRIBER_BUFFER", 64),
		RunRetention:      time.Duration(getEnvInt("RUN_RETENTION_MS", 0)) * time.Millisecond,
		VerdictPolicyPath: getEnv("VERDICT_POLICY_PATH", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	cfg.normalize()
	return cfg
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	cfg := &Config{
		HTTPPort:         8080,
		DatabaseURL:      ":memory:",
		PipelineTimeout:  5 * time.Second,
		PlaybackSpeed:    1.0,
		SettleSeconds:    1.0,
		VideoFPS:         5,
		RunTimeoutFactor: 3.0,
		RunTimeoutGrace:  5 * time.Second,
		ScoringTolerance: 2.0,
		SubscriberBuffer: 64,
		LogLevel:         "info",
	}
	cfg.normalize()
	return cfg
}

// normalize replaces values that would stall or divide by zero.
func (c *Config) normalize() {
	if c.PlaybackSpeed <= 0 {
		c.PlaybackSpeed = 1.0
	}
	if c.SettleSeconds < 0 {
		c.SettleSeconds = 0
	}
	if c.VideoFPS <= 0 {
		c.VideoFPS = 5
	}
	if c.RunTimeoutFactor < 1 {
		c.RunTimeoutFactor = 1
	}
	if c.ScoringTolerance <= 0 {
		c.ScoringTolerance = 2.0
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
