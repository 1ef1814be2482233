// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/bot"
	"chgkbot/internal/cache"
	"chgkbot/internal/config"
	"chgkbot/internal/eventbus"
	"chgkbot/internal/health"
	"chgkbot/internal/notifier"
	"chgkbot/internal/poller"
	"chgkbot/internal/provider"
	rtsup "chgkbot/internal/runtime/supervisor"
	"chgkbot/internal/storage"
	"chgkbot/internal/task/scheduler"
	"chgkbot/internal/tracker"
	kit "chgkbot/internal/transport"
	telegram "chgkbot/internal/transport/telegram/adapter"
	"chgkbot/internal/transport/telegram/router"
	logx "chgkbot/pkg/logx"
	"chgkbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    *storage.SQLite
	layer    *cache.Layer
	settings *tracker.SettingsBox

	adapter kit.Adapter
	notif   *notifier.Service
	poll    *poller.Poller
	sched   *scheduler.Service
	health  *health.Checker

	cmdm     *router.CommandManager
	handlers *bot.Handlers

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	bus := eventbus.New()

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	layer := cache.NewLayer(mapLayerConfig(cfg))
	client := provider.NewClient(mapProviderConfig(cfg, log.With(logx.String("comp", "provider"))))
	src := provider.NewCached(client, layer)

	settings := tracker.NewSettingsBox(mapTrackerSettings(cfg))
	ratings := tracker.NewRatingTracker(src, store, settings, log.With(logx.String("comp", "tracker.rating")))
	tournaments := tracker.NewTournamentTracker(src, store, settings, log.With(logx.String("comp", "tracker.tournament")))
	cities := tracker.NewCityTracker(src, layer.Snapshots, log.With(logx.String("comp", "tracker.city")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, bus, log.With(logx.String("comp", "notifier")))

	poll := poller.New(mapPollerConfig(cfg), poller.Deps{
		Store:       store,
		Ratings:     ratings,
		Tournaments: tournaments,
		Cities:      cities,
		Layer:       layer,
		Sender:      notif,
		Bus:         bus,
		Log:         log.With(logx.String("comp", "poller")),
	})

	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))

	checker := health.New(mapHealthConfig(cfg), health.Deps{
		Store:     store,
		Provider:  client,
		Sender:    notif,
		Schedules: sched,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "health")),
	})

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.Workers)
	handlers := bot.New(bot.Deps{
		Store:     store,
		Provider:  src,
		Runner:    poll,
		Cities:    cities,
		Cooldowns: layer,
		Log:       log.With(logx.String("comp", "bot")),
	})

	return &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		layer:    layer,
		settings: settings,
		adapter:  ad,
		notif:    notif,
		poll:     poll,
		sched:    sched,
		health:   checker,
		cmdm:     cmdm,
		handlers: handlers,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	cfg := a.cfgm.Get()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cmdm.SetCommands(a.sup.Context(), a.handlers.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.sched.Start(a.sup.Context())
	if err := a.schedulePoll(cfg); err != nil {
		return err
	}
	if err := a.sched.AddOnce("health.startup", cfg.Health.StartupDelayOrDefault(), time.Minute, func(c context.Context) error {
		a.health.Run(c)
		return nil
	}); err != nil {
		return err
	}

	a.sup.Go0("health.watch", a.health.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if cfg.Health.Watchdog {
		interval, err := systemd.WatchdogInterval()
		if err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		} else if interval > 0 {
			a.sup.Go("systemd.watchdog", func(c context.Context) error {
				return systemd.RunWatchdog(c, interval, a.health.Healthy)
			})
			a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
		}
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd ready notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.String("poll_schedule", pollSchedule(cfg)),
		logx.Int("min_rating_diff", cfg.Tracker.RatingThreshold()),
	)
	return nil
}

// schedulePoll registers (or replaces) the poll job.
func (a *App) schedulePoll(cfg *config.Config) error {
	// A tick gets at most one interval; the next trigger is skipped while it runs.
	timeout := cfg.Tracker.PollInterval()
	return a.sched.AddSchedule(pollScheduleName, pollSchedule(cfg), timeout, func(c context.Context) error {
		_, err := a.poll.Tick(c)
		if errors.Is(err, poller.ErrTickInProgress) {
			a.log.Debug("poll tick skipped, previous tick still running")
			return nil
		}
		return err
	})
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config into the running components.
// Sections that need a restart are only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "cache", "provider":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.settings.Store(mapTrackerSettings(newCfg))
	a.poll.Apply(mapPollerConfig(newCfg))
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.health.Apply(mapHealthConfig(newCfg))
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if pollSchedule(oldCfg) != pollSchedule(newCfg) || oldCfg.Tracker.PollInterval() != newCfg.Tracker.PollInterval() {
		if err := a.schedulePoll(newCfg); err != nil {
			a.log.Warn("poll schedule not replaced", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd stopping notify failed", logx.Err(err))
	}
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
