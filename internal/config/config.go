package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  SourcesConfig  `yaml:"sources"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Signals  SignalsConfig  `yaml:"signals"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the collection, analysis and signal intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	AnalyzeInterval string `yaml:"analyze_interval"`
	SignalInterval  string `yaml:"signal_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// ParseAnalyzeInterval returns the analysis interval as time.Duration.
func (s ScheduleConfig) ParseAnalyzeInterval() time.Duration {
	d, err := time.ParseDuration(s.AnalyzeInterval)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ParseSignalInterval returns the signal evaluation interval.
func (s ScheduleConfig) ParseSignalInterval() time.Duration {
	d, err := time.ParseDuration(s.SignalInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// SourcesConfig holds configuration for all pollers.
type SourcesConfig struct {
	Chat    ChatConfig    `yaml:"chat"`
	Tracker TrackerConfig `yaml:"tracker"`
	Feeds   FeedsConfig   `yaml:"feeds"`
}

// ChatConfig for the Slack-style chat poller.
type ChatConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	APIURL  string `yaml:"api_url"`
	Limit   int    `yaml:"limit"`
}

// TrackerConfig for the task-tracker poller.
type TrackerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"token"`
	FolderID string `yaml:"folder_id"`
	APIURL   string `yaml:"api_url"`
}

// FeedsConfig for the status/changelog feed poller.
type FeedsConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// FeedItem is a single feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AnalysisConfig configures the similarity and clustering engine.
type AnalysisConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	RelatedThreshold   float64 `yaml:"related_threshold"`
	MinTokenLen        int     `yaml:"min_token_len"`
	MaxItems           int     `yaml:"max_items"`
	MaxFeatures        int     `yaml:"max_features"`
}

// SignalsConfig configures stalled/unread evaluation and alert debounce.
type SignalsConfig struct {
	StalledAfterDays int    `yaml:"stalled_after_days"`
	SampleSize       int    `yaml:"sample_size"`
	MinAlertInterval string `yaml:"min_alert_interval"`
}

// ParseMinAlertInterval returns the debounce cool-down as time.Duration.
func (s SignalsConfig) ParseMinAlertInterval() time.Duration {
	d, err := time.ParseDuration(s.MinAlertInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig for Bot API alerts.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./teamradar.db"},
		Schedule: ScheduleConfig{
			CollectInterval: "15m",
			AnalyzeInterval: "10m",
			SignalInterval:  "5m",
		},
		Sources: SourcesConfig{
			Chat:    ChatConfig{Limit: 200},
			Tracker: TrackerConfig{},
			Feeds:   FeedsConfig{},
		},
		Analysis: AnalysisConfig{
			DuplicateThreshold: 0.78,
			RelatedThreshold:   0.52,
			MinTokenLen:        2,
			MaxItems:           5000,
			MaxFeatures:        50000,
		},
		Signals: SignalsConfig{
			StalledAfterDays: 14,
			SampleSize:       5,
			MinAlertInterval: "1h",
		},
		Alerts: AlertsConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEAMRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		cfg.Sources.Chat.Token = v
		cfg.Sources.Chat.Enabled = true
	}
	if v := os.Getenv("CLICKUP_API_TOKEN"); v != "" {
		cfg.Sources.Tracker.Token = v
		cfg.Sources.Tracker.Enabled = true
	}
	if v := os.Getenv("CLICKUP_FOLDER_ID"); v != "" {
		cfg.Sources.Tracker.FolderID = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Alerts.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); v != "" {
		cfg.Alerts.Telegram.ChatID = v
		cfg.Alerts.Telegram.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
}
