// Package config handles application configuration from an optional YAML
// file and environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
)

const defaultConfigFile = "config.yaml"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	LogFile          string
	AllowedUsers     []int64

	SiteURL        string
	RSSURLs        []string
	SocialFeedURLs []string
	FetchLimit     int
	FetchTimeout   time.Duration

	PollInterval  time.Duration
	FirstRunDelay time.Duration

	SendTimeout     time.Duration
	SendRate        float64
	DispatchWorkers int

	FallbackChatID   int64
	FallbackThreadID int

	// CategoryIDs and CategoryNames extend the built-in category table.
	CategoryIDs   map[int]string
	CategoryNames map[string]string
}

var defaults = map[string]any{
	"database_path":    "./data/bot.db",
	"log_level":        "info",
	"site_url":         "https://www.davedotsport.com",
	"fetch_limit":      "5",
	"fetch_timeout":    "15s",
	"poll_interval":    "5m",
	"first_run_delay":  "30s",
	"send_timeout":     "10s",
	"send_rate":        "1",
	"dispatch_workers": "4",
}

// Load reads configuration from CONFIG_FILE (or ./config.yaml when it
// exists) and then from environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Empty variables are skipped so they never mask file values or defaults.
	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, val := range defaults {
		if k.String(key) == "" {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	p := parser{k: k}
	cfg := &Config{
		TelegramBotToken: k.String("telegram_bot_token"),
		DatabasePath:     k.String("database_path"),
		LogLevel:         strings.ToLower(k.String("log_level")),
		LogFile:          k.String("log_file"),
		AllowedUsers:     p.int64List("allowed_users"),
		SiteURL:          strings.TrimRight(k.String("site_url"), "/"),
		RSSURLs:          p.list("rss_urls"),
		SocialFeedURLs:   p.list("social_feed_urls"),
		FetchLimit:       p.positiveInt("fetch_limit"),
		FetchTimeout:     p.duration("fetch_timeout"),
		PollInterval:     p.duration("poll_interval"),
		FirstRunDelay:    p.duration("first_run_delay"),
		SendTimeout:      p.duration("send_timeout"),
		SendRate:         p.float("send_rate"),
		DispatchWorkers:  p.positiveInt("dispatch_workers"),
		FallbackChatID:   p.int64("fallback_chat_id"),
		FallbackThreadID: int(p.int64("fallback_thread_id")),
		CategoryIDs:      p.categoryIDs("categories.ids"),
		CategoryNames:    k.StringMap("categories.names"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.TelegramBotToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if len(cfg.RSSURLs) == 0 {
		cfg.RSSURLs = []string{cfg.SiteURL + "/feed/", cfg.SiteURL + "/rss/"}
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || lo.Contains(c.AllowedUsers, userID)
}

// parser reads typed values and keeps the first error.
type parser struct {
	k   *koanf.Koanf
	err error
}

func (p *parser) fail(key, value, what string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q in %s: %w", what, value, strings.ToUpper(key), err)
	}
}

// list splits a comma separated string. YAML lists are accepted as is.
func (p *parser) list(key string) []string {
	var items []string
	switch v := p.k.Get(key).(type) {
	case nil:
		return nil
	case []any:
		items = lo.Map(v, func(item any, _ int) string { return fmt.Sprint(item) })
	default:
		items = strings.Split(fmt.Sprint(v), ",")
	}
	return lo.Compact(lo.Map(items, func(s string, _ int) string { return strings.TrimSpace(s) }))
}

func (p *parser) int64List(key string) []int64 {
	var out []int64
	for _, s := range p.list(key) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			p.fail(key, s, "user ID", err)
			continue
		}
		out = append(out, id)
	}
	return out
}

func (p *parser) int64(key string) int64 {
	s := p.k.String(key)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.fail(key, s, "integer", err)
	}
	return n
}

func (p *parser) positiveInt(key string) int {
	n := p.int64(key)
	if n <= 0 && p.err == nil {
		p.fail(key, p.k.String(key), "value", errors.New("must be positive"))
	}
	return int(n)
}

func (p *parser) float(key string) float64 {
	s := p.k.String(key)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s, "number", err)
	}
	return f
}

func (p *parser) duration(key string) time.Duration {
	s := p.k.String(key)
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s, "duration", err)
	}
	return d
}

func (p *parser) categoryIDs(key string) map[int]string {
	raw := p.k.StringMap(key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[int]string, len(raw))
	for s, cat := range raw {
		id, err := strconv.Atoi(s)
		if err != nil {
			p.fail(key, s, "category ID", err)
			continue
		}
		out[id] = cat
	}
	return out
}
