package dashboard

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the panel settings.
type Config struct {
	// OverviewRefetch is the competitor refresh interval on the overview panel.
	OverviewRefetch time.Duration `yaml:"overview_refetch"`
	// TrendsRefetch is the latest-trends refresh interval.
	TrendsRefetch time.Duration `yaml:"trends_refetch"`
	SentimentDays int           `yaml:"sentiment_days"`
	TrendDays     int           `yaml:"trend_days"`
	PostsLimit    int           `yaml:"posts_limit"`
	// Timezone is the IANA zone used for calendar-day bucketing and date ranges.
	Timezone string `yaml:"timezone"`
	// ViewCacheSize bounds the derived views kept per panel view.
	ViewCacheSize int `yaml:"view_cache_size"`
}

// Env constants for overriding panel settings.
const (
	EnvOverviewRefetch = "DASHBOARD_OVERVIEW_REFETCH"
	EnvTrendsRefetch   = "DASHBOARD_TRENDS_REFETCH"
	EnvPostsLimit      = "DASHBOARD_POSTS_LIMIT"
	EnvTimezone        = "DASHBOARD_TIMEZONE"
)

// DefaultConfig returns the refresh cadence of the original dashboard.
func DefaultConfig() *Config {
	return &Config{
		OverviewRefetch: 5 * time.Minute,
		TrendsRefetch:   10 * time.Minute,
		SentimentDays:   30,
		TrendDays:       30,
		PostsLimit:      50,
		Timezone:        "UTC",
		ViewCacheSize:   defaultViewCacheSize,
	}
}

// LoadConfigWithEnv applies environment overrides on top of DefaultConfig.
func LoadConfigWithEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg from the environment. Unparseable values are ignored.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvOverviewRefetch); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OverviewRefetch = d
		}
	}
	if v := os.Getenv(EnvTrendsRefetch); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TrendsRefetch = d
		}
	}
	if v := os.Getenv(EnvPostsLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PostsLimit = n
		}
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		cfg.Timezone = v
	}
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
