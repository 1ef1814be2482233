package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	logx "chgkbot/pkg/logx"
)

type Config struct {
	// Timezone is an IANA name used for cron specs; empty means local time.
	Timezone string
}

type Job func(ctx context.Context) error

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc

	defs   []*scheduleDef
	timers map[string]*time.Timer
	onceWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional accepts both 5- and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: map[string]*time.Timer{},
	}
}

// Apply restarts triggering when the timezone changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	old := s.c
	s.startCronLocked()
	old.Stop()
	s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop ends triggering, cancels running jobs and waits for them until ctx
// is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}
	onceDone := make(chan struct{})
	go func() {
		s.onceWG.Wait()
		close(onceDone)
	}()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	select {
	case <-onceDone:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddSchedule registers or replaces the named schedule. See ParseSchedule for
// the accepted formats.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return errors.New("schedule job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return errors.Wrapf(err, "schedule %q", schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Info("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.String("next", s.previewNextRunsLocked(spec, 3)))
	return nil
}

// Remove drops the named schedule or pending one-shot task.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
		removed = true
	}
	kept := s.defs[:0]
	for _, d := range s.defs {
		if d.name != name {
			kept = append(kept, d)
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		removed = true
	}
	s.defs = kept
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job := d.name, d.timeout, d.job
	id, err := s.c.AddFunc(d.spec, func() { s.run(name, timeout, job) })
	if err != nil {
		return errors.Wrapf(err, "schedule %s", name)
	}
	d.entryID = id
	return nil
}

// AddOnce runs job once after delay. A pending task with the same name is
// replaced. The task is dropped if the service stops first.
func (s *Service) AddOnce(name string, delay time.Duration, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("task name required")
	}
	if job == nil {
		return errors.New("task job required")
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	s.removeLocked(name)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[name]
		if !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.onceWG.Add(1)
		s.mu.Unlock()

		defer s.onceWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("one-shot task panicked", logx.String("name", name), logx.Any("panic", r))
			}
		}()
		s.run(name, timeout, job)
	})
	s.timers[name] = timer
	s.log.Debug("one-shot task registered", logx.String("name", name), logx.Duration("delay", delay))
	return nil
}

func (s *Service) run(name string, timeout time.Duration, job Job) {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return
	}
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	started := time.Now()
	err := job(ctx)
	took := time.Since(started)
	if err != nil {
		s.log.Warn("scheduled task failed", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled task done", logx.String("name", name), logx.Duration("took", took))
}

// Schedules lists the registered schedules with their next and previous
// trigger times, ordered by name.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) previewNextRunsLocked(spec string, n int) string {
	sch, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sch.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
