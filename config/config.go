package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the session store and cleanup tooling.
// Tags use mapstructure for Viper unmarshalling; keys double as environment
// variable names.
type Config struct {
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	MaxUserSessions  int `mapstructure:"MAX_USER_SESSIONS"`
	SessionListLimit int `mapstructure:"SESSION_LIST_LIMIT"`

	SessionSliding         bool `mapstructure:"SESSION_SLIDING"`
	SessionSlidingSeconds  int  `mapstructure:"SESSION_SLIDING_SECONDS"`
	SessionAbsoluteSeconds int  `mapstructure:"SESSION_ABSOLUTE_SECONDS"`
	SessionMinSeconds      int  `mapstructure:"SESSION_MIN_SECONDS"`
	SessionTTLDefault      int  `mapstructure:"SESSION_TTL_DEFAULT"`

	StateTTLSeconds int `mapstructure:"STATE_TTL_SECONDS"`

	CleanupIncludeExpired bool `mapstructure:"CLEANUP_INCLUDE_EXPIRED"`
	CleanupMaxAgeDays     int  `mapstructure:"CLEANUP_MAX_AGE_DAYS"`
	CleanupScanCount      int  `mapstructure:"CLEANUP_SCAN_COUNT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads configuration from environment variables with defaults matching
// earlier deployments of the same key space.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "appauth")

	v.SetDefault("MAX_USER_SESSIONS", 5)
	v.SetDefault("SESSION_LIST_LIMIT", 20)

	v.SetDefault("SESSION_SLIDING", true)
	v.SetDefault("SESSION_SLIDING_SECONDS", 3600)
	v.SetDefault("SESSION_ABSOLUTE_SECONDS", 0)
	v.SetDefault("SESSION_MIN_SECONDS", 60)
	v.SetDefault("SESSION_TTL_DEFAULT", 3600)

	v.SetDefault("STATE_TTL_SECONDS", 600)

	v.SetDefault("CLEANUP_INCLUDE_EXPIRED", false)
	v.SetDefault("CLEANUP_MAX_AGE_DAYS", 30)
	v.SetDefault("CLEANUP_SCAN_COUNT", 100)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SlidingWindow() time.Duration {
	return time.Duration(c.SessionSlidingSeconds) * time.Second
}

func (c *Config) AbsoluteLifetime() time.Duration {
	return time.Duration(c.SessionAbsoluteSeconds) * time.Second
}

func (c *Config) MinTTL() time.Duration {
	return time.Duration(c.SessionMinSeconds) * time.Second
}

func (c *Config) DefaultSessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDefault) * time.Second
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.CleanupMaxAgeDays) * 24 * time.Hour
}
