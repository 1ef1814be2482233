package config

import (
	"strings"

	logx "chgkbot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe log fields
// describing them. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.Workers != newCfg.Telegram.Workers {
		changed = append(changed, "telegram")
		fields = append(fields, logx.Bool("telegram.restart_required", true))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.Bool("storage.restart_required", true))
	}
	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		fields = append(fields,
			logx.String("provider.base_url", newCfg.Provider.BaseURLOrDefault()),
			logx.Duration("provider.timeout", newCfg.Provider.TimeoutOrDefault()),
		)
	}
	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		fields = append(fields, logx.Bool("cache.restart_required", true))
	}
	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		fields = append(fields,
			logx.Duration("tracker.poll_interval", newCfg.Tracker.PollInterval()),
			logx.String("tracker.schedule", newCfg.Tracker.Schedule),
			logx.Int("tracker.min_rating_diff", newCfg.Tracker.RatingThreshold()),
			logx.Duration("tracker.long_gone_horizon", newCfg.Tracker.LongGoneHorizon()),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	return changed, fields
}
