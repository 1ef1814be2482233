// Package health runs the startup self-check, follows poll events and feeds
// the systemd watchdog.
package health

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chgkbot/internal/eventbus"
	"chgkbot/internal/storage"
	"chgkbot/internal/task/scheduler"
	logx "chgkbot/pkg/logx"
	"chgkbot/pkg/systemd"
)

type Store interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (storage.Counts, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type ScheduleLister interface {
	Schedules() []scheduler.ScheduleInfo
}

type Config struct {
	// ReportChatID receives the report text; 0 keeps it in the log.
	ReportChatID int64
}

type Deps struct {
	Store     Store
	Provider  Pinger
	Sender    Sender
	Schedules ScheduleLister
	Bus       eventbus.Bus
	Log       logx.Logger
}

type Check struct {
	Name   string
	OK     bool
	Detail string
	Took   time.Duration
}

type Report struct {
	At       time.Time
	Checks   []Check
	Counts   storage.Counts
	NextPoll time.Time
	Activity Activity
}

// Activity is what the bus has shown since start.
type Activity struct {
	LastTick     time.Time
	TickChats    int
	TickFailed   int
	TickMessages int
	Delivered    int
	Undelivered  int
}

func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Text renders the report for the operator chat.
func (r Report) Text() string {
	var b strings.Builder
	if r.OK() {
		b.WriteString("Бот запущен, проверки пройдены")
	} else {
		b.WriteString("Бот запущен с ошибками")
	}
	for _, c := range r.Checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		b.WriteString("\n" + c.Name + ": " + mark)
		if c.Detail != "" {
			b.WriteString(" (" + c.Detail + ")")
		}
	}
	b.WriteString("\nчатов: " + strconv.Itoa(r.Counts.Chats) +
		", команд: " + strconv.Itoa(r.Counts.Teams) +
		", городов: " + strconv.Itoa(r.Counts.Cities))
	if a := r.Activity; !a.LastTick.IsZero() {
		b.WriteString("\nпоследний опрос: " + a.LastTick.Format("2006-01-02 15:04") +
			", чатов: " + strconv.Itoa(a.TickChats) +
			", с ошибками: " + strconv.Itoa(a.TickFailed) +
			", сообщений: " + strconv.Itoa(a.TickMessages))
	}
	if a := r.Activity; a.Delivered+a.Undelivered > 0 {
		b.WriteString("\nдоставлено: " + strconv.Itoa(a.Delivered) + ", не доставлено: " + strconv.Itoa(a.Undelivered))
	}
	if !r.NextPoll.IsZero() {
		b.WriteString("\nследующий опрос: " + r.NextPoll.Format("2006-01-02 15:04"))
	}
	return b.String()
}

type Checker struct {
	store     Store
	provider  Pinger
	sender    Sender
	schedules ScheduleLister
	bus       eventbus.Bus
	log       logx.Logger

	mu      sync.Mutex
	cfg     Config
	act     Activity
	failing bool
	healthy atomic.Bool
}

func New(cfg Config, d Deps) *Checker {
	c := &Checker{
		store:     d.Store,
		provider:  d.Provider,
		sender:    d.Sender,
		schedules: d.Schedules,
		bus:       d.Bus,
		log:       d.Log,
		cfg:       cfg,
	}
	c.healthy.Store(true)
	return c
}

func (c *Checker) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Healthy reports whether the store answered on the last Run; true before
// the first one. An unreachable rating site does not make the bot unhealthy.
func (c *Checker) Healthy() bool { return c.healthy.Load() }

// Run checks the store and the rating site, then logs, publishes and
// optionally sends the report.
func (c *Checker) Run(ctx context.Context) Report {
	rep := Report{At: time.Now()}
	storageCheck := timed("storage", func() error { return c.store.Ping(ctx) })
	rep.Checks = append(rep.Checks, storageCheck)
	if c.provider != nil {
		rep.Checks = append(rep.Checks, timed("rating site", func() error { return c.provider.Ping(ctx) }))
	}
	if counts, err := c.store.Counts(ctx); err != nil {
		c.log.Warn("health: counts failed", logx.Err(err))
	} else {
		rep.Counts = counts
	}
	if c.schedules != nil {
		for _, s := range c.schedules.Schedules() {
			if !s.Next.IsZero() && (rep.NextPoll.IsZero() || s.Next.Before(rep.NextPoll)) {
				rep.NextPoll = s.Next
			}
		}
	}

	rep.Activity = c.Activity()

	c.healthy.Store(storageCheck.OK)
	fields := []logx.Field{
		logx.Bool("ok", rep.OK()),
		logx.Int("chats", rep.Counts.Chats),
		logx.Int("teams", rep.Counts.Teams),
		logx.Int("cities", rep.Counts.Cities),
	}
	for _, ch := range rep.Checks {
		fields = append(fields, logx.Bool("check."+strings.ReplaceAll(ch.Name, " ", "_"), ch.OK))
	}
	if rep.OK() {
		c.log.Info("health check passed", fields...)
	} else {
		c.log.Warn("health check failed", fields...)
	}
	eventbus.Publish(c.bus, eventbus.TypeHealthReport, rep)
	if _, err := systemd.Status(statusLine(rep)); err != nil {
		c.log.Debug("systemd status failed", logx.Err(err))
	}

	c.report(ctx, rep.Text())
	return rep
}

func (c *Checker) Activity() Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.act
}

// Watch follows poll and delivery events until ctx is done. The report chat
// is told when ticks start failing and again when they recover.
func (c *Checker) Watch(ctx context.Context) {
	if c.bus == nil {
		return
	}
	events, unsub := c.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.observe(ctx, e)
		}
	}
}

func (c *Checker) observe(ctx context.Context, e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.TickData:
		c.mu.Lock()
		c.act.LastTick = e.Time
		c.act.TickChats, c.act.TickFailed, c.act.TickMessages = d.Chats, d.Failed, d.Messages
		wasFailing := c.failing
		c.failing = d.Failed > 0
		c.mu.Unlock()

		if _, err := systemd.Status("last poll: chats=" + strconv.Itoa(d.Chats) + " failed=" + strconv.Itoa(d.Failed)); err != nil {
			c.log.Debug("systemd status failed", logx.Err(err))
		}
		switch {
		case d.Failed > 0 && !wasFailing:
			c.log.Warn("poll ticks started failing", logx.Int("failed", d.Failed), logx.Int("chats", d.Chats))
			c.report(ctx, "Опрос завершён с ошибками: "+strconv.Itoa(d.Failed)+" из "+strconv.Itoa(d.Chats)+" чатов")
		case d.Failed == 0 && wasFailing:
			c.log.Info("poll ticks recovered", logx.Int("chats", d.Chats))
			c.report(ctx, "Опрос снова проходит без ошибок")
		}
	case eventbus.DeliveryData:
		c.mu.Lock()
		switch e.Type {
		case eventbus.TypeNotifySent:
			c.act.Delivered++
		case eventbus.TypeNotifyFailed:
			c.act.Undelivered++
		}
		c.mu.Unlock()
	}
}

// report sends text to the configured report chat, if any.
func (c *Checker) report(ctx context.Context, text string) {
	c.mu.Lock()
	chatID := c.cfg.ReportChatID
	c.mu.Unlock()
	if chatID == 0 || c.sender == nil {
		return
	}
	if err := c.sender.Send(ctx, chatID, text); err != nil {
		c.log.Warn("health report not delivered", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func timed(name string, fn func() error) Check {
	started := time.Now()
	err := fn()
	ch := Check{Name: name, OK: err == nil, Took: time.Since(started)}
	if err != nil {
		ch.Detail = err.Error()
	}
	return ch
}

func statusLine(r Report) string {
	if r.OK() {
		return "ok, chats=" + strconv.Itoa(r.Counts.Chats)
	}
	return "degraded"
}
