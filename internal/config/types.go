package config

import (
	"strings"
	"time"
)

// Config is the root document. Durations are Go duration strings ("15s", "5m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Provider  ProviderConfig  `json:"provider"`
	Cache     CacheConfig     `json:"cache"`
	Tracker   TrackerConfig   `json:"tracker"`
	Notifier  NotifierConfig  `json:"notifier"`
	Health    HealthConfig    `json:"health"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via TELEGRAM_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout" validate:"omitempty,duration"`
	// Workers is the command handler pool size (0 = NumCPU).
	Workers int `json:"workers" validate:"gte=0,lte=64"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneofci=trace debug info warn warning error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneofci=debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout" validate:"omitempty,duration"`
}

type ProviderConfig struct {
	BaseURL    string  `json:"base_url" validate:"omitempty,url"`
	Timeout    string  `json:"timeout" validate:"omitempty,duration"`
	RatePerSec float64 `json:"rate_per_sec" validate:"gte=0"`
	Burst      int     `json:"burst" validate:"gte=0"`
	UserAgent  string  `json:"user_agent"`
}

type CacheConfig struct {
	ShortTTL    string `json:"short_ttl" validate:"omitempty,duration"`
	LongTTL     string `json:"long_ttl" validate:"omitempty,duration"`
	CooldownTTL string `json:"cooldown_ttl" validate:"omitempty,duration"`
	MaxEntries  int    `json:"max_entries" validate:"gte=0"`
	// SnapshotMaxEntries bounds the city snapshot tier on its own.
	SnapshotMaxEntries int `json:"snapshot_max_entries" validate:"gte=0"`
}

type TrackerConfig struct {
	PollIntervalMinutes int `json:"poll_interval_minutes" validate:"gte=0"`
	// Schedule overrides PollIntervalMinutes: "cron:0 */30 * * * *", "every:10m", "08:00".
	Schedule            string `json:"schedule"`
	MinRatingDiff       int    `json:"min_rating_diff" validate:"gte=0"`
	LongGoneHorizonDays int    `json:"long_gone_horizon_days" validate:"gte=0"`
	Workers             int    `json:"workers" validate:"gte=0,lte=32"`
	ChatTimeout         string `json:"chat_timeout" validate:"omitempty,duration"`
}

type NotifierConfig struct {
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax   int    `json:"retry_max" validate:"gte=0,lte=10"`
	RetryBase  string `json:"retry_base" validate:"omitempty,duration"`
}

type HealthConfig struct {
	StartupDelay string `json:"startup_delay" validate:"omitempty,duration"`
	// ReportChatID receives the startup self-check summary (0 = log only).
	ReportChatID int64 `json:"report_chat_id"`
	Watchdog     bool  `json:"watchdog"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone"`
}

const (
	DefaultPollIntervalMinutes = 30
	DefaultMinRatingDiff       = 20
	DefaultLongGoneHorizonDays = 14
	DefaultStorePath           = "./chgkbot.db"
	DefaultProviderBaseURL     = "https://rating.chgk.info"
)

func (c TrackerConfig) PollInterval() time.Duration {
	if c.PollIntervalMinutes <= 0 {
		return DefaultPollIntervalMinutes * time.Minute
	}
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

func (c TrackerConfig) RatingThreshold() int {
	if c.MinRatingDiff <= 0 {
		return DefaultMinRatingDiff
	}
	return c.MinRatingDiff
}

func (c TrackerConfig) LongGoneHorizon() time.Duration {
	days := c.LongGoneHorizonDays
	if days <= 0 {
		days = DefaultLongGoneHorizonDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c TrackerConfig) ChatTimeoutOrDefault() time.Duration {
	return mustDuration(c.ChatTimeout, 5*time.Minute)
}

func (c StorageConfig) PathOrDefault() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	return DefaultStorePath
}

func (c ProviderConfig) BaseURLOrDefault() string {
	if u := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); u != "" {
		return u
	}
	return DefaultProviderBaseURL
}

func (c ProviderConfig) TimeoutOrDefault() time.Duration {
	return mustDuration(c.Timeout, 15*time.Second)
}

func (c CacheConfig) ShortTTLOrDefault() time.Duration {
	return mustDuration(c.ShortTTL, 5*time.Minute)
}

func (c CacheConfig) LongTTLOrDefault() time.Duration {
	return mustDuration(c.LongTTL, 24*time.Hour)
}

func (c CacheConfig) CooldownTTLOrDefault() time.Duration {
	return mustDuration(c.CooldownTTL, 24*time.Hour)
}

func (c HealthConfig) StartupDelayOrDefault() time.Duration {
	return mustDuration(c.StartupDelay, 30*time.Second)
}

// mustDuration is used on validated configs; a bad value falls back to def.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
