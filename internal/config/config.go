// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Feed describes upstream stream connectivity and reconnect tuning.
type Feed struct {
	Provider       string   `yaml:"provider"`
	Host           string   `yaml:"host"`
	Symbols        []string `yaml:"symbols"`
	ConnectTimeout int      `yaml:"connect_timeout_secs"`
	StallWarning   int      `yaml:"stall_warning_secs"`
	ReconnectBase  int      `yaml:"reconnect_base_secs"`
	ReconnectMax   int      `yaml:"reconnect_max_secs"`
}

// Tracker tunes the rolling history and the batch evaluation cadence.
type Tracker struct {
	WindowsMin     []int   `yaml:"windows_min"`
	HistoryMaxLen  int     `yaml:"history_maxlen"`
	MinCoverage    float64 `yaml:"min_coverage"`
	ReevalInterval int     `yaml:"reeval_interval_secs"`
	BatchSize      int     `yaml:"batch_size"`
	WorkerPoolSize int     `yaml:"worker_pool_size"`
	PeriodicTick   int     `yaml:"periodic_tick_secs"`
}

// Thresholds sets the momentum qualification bars per window.
type Thresholds struct {
	PercentPerMin map[int]float64 `yaml:"percent_per_min"`
	USDPerMin     float64         `yaml:"usd_per_min"`
}

// Alerts governs the coordinator queue and cooldown dedup.
type Alerts struct {
	CooldownMinutes int    `yaml:"cooldown_minutes"`
	QueueSize       int    `yaml:"queue_size"`
	RecorderPath    string `yaml:"recorder_path"`
}

// Telegram configures the notification transport. The bot token is not part of
// the file; it comes from the TELEGRAM_BOT_TOKEN environment variable.
type Telegram struct {
	Enabled      bool    `yaml:"enabled"`
	ChatIDs      []int64 `yaml:"chat_ids"`
	BaseURL      string  `yaml:"base_url"`
	Timeout      int     `yaml:"timeout_secs"`
	MaxPerMinute int     `yaml:"max_per_minute"`
	MaxRetries   int     `yaml:"max_retries"`
	SSLVerify    *bool   `yaml:"ssl_verify"`
	CABundlePath string  `yaml:"ca_bundle_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Feed       Feed       `yaml:"feed"`
	Tracker    Tracker    `yaml:"tracker"`
	Thresholds Thresholds `yaml:"thresholds"`
	Alerts     Alerts     `yaml:"alerts"`
	Telegram   Telegram   `yaml:"telegram"`
}

// Load reads a YAML file from disk, hydrates a Config struct, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.MetricsAddr == "" {
		c.App.MetricsAddr = ":9109"
	}
	if c.Feed.Host == "" {
		c.Feed.Host = "stream.binance.com:9443"
	}
	if c.Feed.ConnectTimeout <= 0 {
		c.Feed.ConnectTimeout = 30
	}
	if c.Feed.StallWarning <= 0 {
		c.Feed.StallWarning = 60
	}
	if c.Feed.ReconnectBase <= 0 {
		c.Feed.ReconnectBase = 1
	}
	if c.Feed.ReconnectMax <= 0 {
		c.Feed.ReconnectMax = 60
	}
	if len(c.Tracker.WindowsMin) == 0 {
		c.Tracker.WindowsMin = []int{5}
	}
	if c.Tracker.HistoryMaxLen <= 0 {
		c.Tracker.HistoryMaxLen = 100
	}
	if c.Tracker.MinCoverage <= 0 {
		c.Tracker.MinCoverage = 0.5
	}
	if c.Tracker.ReevalInterval <= 0 {
		c.Tracker.ReevalInterval = 60
	}
	if c.Tracker.BatchSize <= 0 {
		c.Tracker.BatchSize = 50
	}
	if c.Tracker.WorkerPoolSize <= 0 {
		c.Tracker.WorkerPoolSize = defaultPoolSize()
	}
	if c.Tracker.PeriodicTick <= 0 {
		c.Tracker.PeriodicTick = 5
	}
	if c.Thresholds.PercentPerMin == nil {
		c.Thresholds.PercentPerMin = map[int]float64{1: 0.1, 5: 0.05, 15: 0.03}
	}
	if c.Thresholds.USDPerMin <= 0 {
		c.Thresholds.USDPerMin = 50
	}
	if c.Alerts.CooldownMinutes <= 0 {
		c.Alerts.CooldownMinutes = 2
	}
	if c.Alerts.QueueSize <= 0 {
		c.Alerts.QueueSize = 256
	}
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout <= 0 {
		c.Telegram.Timeout = 15
	}
	if c.Telegram.MaxPerMinute <= 0 {
		// Telegram allows 20/min per chat; stay under it.
		c.Telegram.MaxPerMinute = 15
	}
	if c.Telegram.MaxRetries <= 0 {
		c.Telegram.MaxRetries = 3
	}

	normalized := make([]string, 0, len(c.Feed.Symbols))
	for _, sym := range c.Feed.Symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym != "" {
			normalized = append(normalized, sym)
		}
	}
	c.Feed.Symbols = normalized
}

func (c *Config) validate() error {
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("config: at least one feed symbol is required")
	}
	for _, w := range c.Tracker.WindowsMin {
		if w <= 0 {
			return fmt.Errorf("config: invalid window %d", w)
		}
	}
	if c.Tracker.MinCoverage > 1 {
		return fmt.Errorf("config: min_coverage must be in (0, 1], got %.2f", c.Tracker.MinCoverage)
	}
	if c.Telegram.Enabled && len(c.Telegram.ChatIDs) == 0 {
		return fmt.Errorf("config: telegram enabled but no chat_ids configured")
	}
	return nil
}

func defaultPoolSize() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// SSLVerifyEnabled reports whether TLS verification is on (default true).
func (t Telegram) SSLVerifyEnabled() bool {
	return t.SSLVerify == nil || *t.SSLVerify
}
