// Package config loads barsignal settings from a YAML file with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"barsignal/internal/strategy"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all application configuration.
type Config struct {
	Strategy    strategy.Config `yaml:"strategy"`
	Instruments []string        `yaml:"instruments"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Group    string `yaml:"group"`
		Consumer string `yaml:"consumer"`
	} `yaml:"redis"`

	SQLite struct {
		Path           string `yaml:"path"`
		JournalBatch   int    `yaml:"journal_batch"`
		CheckpointKeep int    `yaml:"checkpoint_keep"`
	} `yaml:"sqlite"`

	HTTP struct {
		MetricsAddr string `yaml:"metrics_addr"`
		WSAddr      string `yaml:"ws_addr"`
	} `yaml:"http"`

	CheckpointCron string        `yaml:"checkpoint_cron"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	LogLevel       string        `yaml:"log_level"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// Default returns the built-in configuration for a rule set.
func Default(rules string) *Config {
	cfg := &Config{Strategy: strategy.DefaultConfig(rules)}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Group = "barsignal"
	cfg.Redis.Consumer = hostname()
	cfg.SQLite.Path = "data/barsignal.db"
	cfg.SQLite.JournalBatch = 200
	cfg.SQLite.CheckpointKeep = 5
	cfg.HTTP.MetricsAddr = ":9090"
	cfg.HTTP.WSAddr = ":9091"
	cfg.CheckpointCron = "@every 30s"
	cfg.WebhookTimeout = 5 * time.Second
	cfg.LogLevel = "info"
	return cfg
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and applies environment overrides.
// Strategy defaults follow the selected rule set, so the rule set is read
// before the rest of the document.
func Parse(data []byte) (*Config, error) {
	var peek struct {
		Strategy struct {
			Rules string `yaml:"rules"`
		} `yaml:"strategy"`
	}
	if err := yaml.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	rules := getEnv("STRATEGY_RULES", peek.Strategy.Rules)

	cfg := Default(rules)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Strategy.Rules = strategy.DefaultConfig(rules).Rules

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.SQLite.Path = getEnv("SQLITE_PATH", cfg.SQLite.Path)
	cfg.HTTP.MetricsAddr = getEnv("METRICS_ADDR", cfg.HTTP.MetricsAddr)
	cfg.HTTP.WSAddr = getEnv("WS_ADDR", cfg.HTTP.WSAddr)
	cfg.CheckpointCron = getEnv("CHECKPOINT_CRON", cfg.CheckpointCron)
	cfg.WebhookURL = getEnv("WEBHOOK_URL", cfg.WebhookURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	if v := os.Getenv("INSTRUMENTS"); v != "" {
		cfg.Instruments = ParseList(v)
	}
	return cfg, nil
}

// Validate checks the strategy parameters and infrastructure settings.
func (c *Config) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: strategy: %w", ErrInvalid, err)
	}
	if c.SQLite.JournalBatch <= 0 {
		return fmt.Errorf("%w: sqlite.journal_batch must be positive", ErrInvalid)
	}
	if c.SQLite.CheckpointKeep <= 0 {
		return fmt.Errorf("%w: sqlite.checkpoint_keep must be positive", ErrInvalid)
	}
	if c.CheckpointCron != "" {
		if _, err := cron.ParseStandard(c.CheckpointCron); err != nil {
			return fmt.Errorf("%w: checkpoint_cron %q: %w", ErrInvalid, c.CheckpointCron, err)
		}
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("%w: telegram needs both bot_token and chat_id", ErrInvalid)
	}
	for _, inst := range c.Instruments {
		if strings.TrimSpace(inst) == "" {
			return fmt.Errorf("%w: empty instrument name", ErrInvalid)
		}
	}
	return nil
}

// ParseList splits a comma-separated list, dropping blanks.
func ParseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "barsignal"
	}
	return h
}
