package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/cache"
	"chgkbot/internal/config"
	"chgkbot/internal/health"
	"chgkbot/internal/notifier"
	"chgkbot/internal/poller"
	"chgkbot/internal/provider"
	"chgkbot/internal/storage"
	"chgkbot/internal/task/scheduler"
	"chgkbot/internal/tracker"
	telegram "chgkbot/internal/transport/telegram/adapter"
	logx "chgkbot/pkg/logx"
)

const pollScheduleName = "tracker.poll"

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: cfg.Storage.PathOrDefault(), BusyTimeout: busy}, nil
}

func mapLayerConfig(cfg *config.Config) cache.LayerConfig {
	return cache.LayerConfig{
		ShortTTL:    cfg.Cache.ShortTTLOrDefault(),
		LongTTL:     cfg.Cache.LongTTLOrDefault(),
		CooldownTTL: cfg.Cache.CooldownTTLOrDefault(),
		MaxEntries:  cfg.Cache.MaxEntries,

		SnapshotMaxEntries: cfg.Cache.SnapshotMaxEntries,
	}
}

func mapProviderConfig(cfg *config.Config, log logx.Logger) provider.ClientConfig {
	p := cfg.Provider
	rps := p.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return provider.ClientConfig{
		BaseURL:    p.BaseURLOrDefault(),
		Timeout:    p.TimeoutOrDefault(),
		RatePerSec: rps,
		Burst:      p.Burst,
		MaxRetries: 2,
		UserAgent:  p.UserAgent,
		Logger:     log,
	}
}

func mapTrackerSettings(cfg *config.Config) tracker.Settings {
	return tracker.Settings{
		MinRatingDiff:   cfg.Tracker.RatingThreshold(),
		LongGoneHorizon: cfg.Tracker.LongGoneHorizon(),
	}
}

func mapPollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		Workers:     cfg.Tracker.Workers,
		ChatTimeout: cfg.Tracker.ChatTimeoutOrDefault(),
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	base, err := config.ParseDurationOrDefault("notifier.retry_base", cfg.Notifier.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retries := cfg.Notifier.RetryMax
	if retries == 0 {
		retries = 3
	}
	return notifier.Config{
		RatePerSec: cfg.Notifier.RatePerSec,
		RetryMax:   retries,
		RetryBase:  base,
	}, nil
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{ReportChatID: cfg.Health.ReportChatID}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

// pollSchedule is tracker.schedule, or an interval built from
// tracker.poll_interval_minutes.
func pollSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Tracker.Schedule); s != "" {
		return s
	}
	return "every:" + cfg.Tracker.PollInterval().String()
}

// validateRuntime rejects configs that pass struct validation but cannot be
// applied. It runs on load and on every hot reload.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.Newf("telegram.token is empty and %s is not set", config.EnvToken)
	}
	if _, err := scheduler.ParseSchedule(pollSchedule(cfg)); err != nil {
		return errors.Wrap(err, "tracker.schedule")
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
