// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the executor and the crawl engine.
type CrawlerConfig struct {
	// Engine selects the crawl engine implementation: "colly" or
	// "headless".
	Engine             string `mapstructure:"engine"`
	UserAgent          string `mapstructure:"user_agent"`
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks"`
	MaxTaskDurationSec int    `mapstructure:"max_task_duration_seconds"`
	BatchMaxURLs       int    `mapstructure:"batch_max_urls"`
}

// HeadlessConfig configures the chromedp engine when selected.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLTASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.engine", "colly")
	v.SetDefault("crawler.user_agent", "crawltask-bot/0.1")
	v.SetDefault("crawler.max_concurrent_tasks", 10)
	v.SetDefault("crawler.max_task_duration_seconds", 300)
	v.SetDefault("crawler.batch_max_urls", 10)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Crawler.Engine {
	case "colly", "headless":
	default:
		return fmt.Errorf("crawler.engine must be colly or headless, got %q", c.Crawler.Engine)
	}
	if c.Crawler.MaxConcurrentTasks < 0 {
		return fmt.Errorf("crawler.max_concurrent_tasks must be >= 0")
	}
	if c.Crawler.MaxTaskDurationSec < 0 {
		return fmt.Errorf("crawler.max_task_duration_seconds must be >= 0")
	}
	if c.Crawler.BatchMaxURLs <= 0 {
		return fmt.Errorf("crawler.batch_max_urls must be > 0")
	}
	if c.Crawler.Engine == "headless" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless engine is selected")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// MaxTaskDuration converts the configured bound into a duration; zero
// means unbounded.
func (c Config) MaxTaskDuration() time.Duration {
	return time.Duration(c.Crawler.MaxTaskDurationSec) * time.Second
}
