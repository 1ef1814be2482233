// Package poller runs the trackers for every subscribed chat on each tick and
// for on-demand /update requests.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/panics"

	"chgkbot/internal/cache"
	"chgkbot/internal/domain"
	"chgkbot/internal/eventbus"
	"chgkbot/internal/tracker"
	logx "chgkbot/pkg/logx"
)

// ErrTickInProgress is returned by Tick while another tick is running.
var ErrTickInProgress = errors.New("poll tick already in progress")

// Store lists what each chat follows.
type Store interface {
	ListChatIDsWithSubscriptions(ctx context.Context) ([]int64, error)
	ListTeamSubscriptions(ctx context.Context, chatID int64) ([]domain.TeamSubscription, error)
	ListCitySubscriptions(ctx context.Context, chatID int64) ([]domain.CitySubscription, error)
}

// Sender delivers one message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	// Workers is the number of chats processed concurrently (1 = sequential).
	Workers int
	// ChatTimeout bounds the processing of one chat.
	ChatTimeout time.Duration
}

type Deps struct {
	Store       Store
	Ratings     *tracker.RatingTracker
	Tournaments *tracker.TournamentTracker
	Cities      *tracker.CityTracker
	Layer       *cache.Layer
	Sender      Sender
	Bus         eventbus.Bus
	Log         logx.Logger
}

type Poller struct {
	store       Store
	ratings     *tracker.RatingTracker
	tournaments *tracker.TournamentTracker
	cities      *tracker.CityTracker
	layer       *cache.Layer
	sender      Sender
	bus         eventbus.Bus
	log         logx.Logger

	cfg     atomic.Pointer[Config]
	ticking atomic.Bool
	locks   sync.Map // int64 -> *sync.Mutex
}

func New(cfg Config, d Deps) *Poller {
	p := &Poller{
		store:       d.Store,
		ratings:     d.Ratings,
		tournaments: d.Tournaments,
		cities:      d.Cities,
		layer:       d.Layer,
		sender:      d.Sender,
		bus:         d.Bus,
		log:         d.Log,
	}
	p.Apply(cfg)
	return p
}

// Apply replaces the worker count and chat timeout; it takes effect on the
// next tick.
func (p *Poller) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	p.cfg.Store(&cfg)
}

func (p *Poller) config() Config { return *p.cfg.Load() }

func (p *Poller) chatLock(chatID int64) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(chatID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Tick services every chat that has subscriptions. Failures of one chat are
// recorded in its ChatResult and do not stop the others.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	if !p.ticking.CompareAndSwap(false, true) {
		return TickResult{}, ErrTickInProgress
	}
	defer p.ticking.Store(false)

	started := time.Now()
	purged := p.layer.Purge()

	chatIDs, err := p.store.ListChatIDsWithSubscriptions(ctx)
	if err != nil {
		return TickResult{}, errors.Wrap(err, "list chats")
	}
	cfg := p.config()
	p.log.Info("poll tick started", logx.Int("chats", len(chatIDs)), logx.Int("workers", cfg.Workers), logx.Int("cache_purged", purged))

	results := make([]ChatResult, len(chatIDs))
	if err := p.fanOut(ctx, cfg.Workers, chatIDs, results); err != nil {
		return TickResult{}, err
	}

	tick := TickResult{Chats: results, Duration: time.Since(started)}
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		p.log.Error("chat poll failed", logx.Int64("chat_id", r.ChatID), logx.Err(r.Err))
		eventbus.Publish(p.bus, eventbus.TypeChatFailed, eventbus.ChatFailedData{ChatID: r.ChatID, Error: r.Err.Error()})
	}
	eventbus.Publish(p.bus, eventbus.TypePollTick, eventbus.TickData{
		Chats:    len(results),
		Failed:   tick.Failed(),
		Messages: tick.Messages(),
		Duration: tick.Duration,
	})
	p.log.Info("poll tick finished",
		logx.Int("chats", len(results)),
		logx.Int("failed", tick.Failed()),
		logx.Int("messages", tick.Messages()),
		logx.Duration("dur", tick.Duration),
	)
	return tick, nil
}

func (p *Poller) fanOut(ctx context.Context, workers int, chatIDs []int64, results []ChatResult) error {
	if workers <= 1 || len(chatIDs) <= 1 {
		for i, id := range chatIDs {
			results[i] = p.RunChat(ctx, id, false)
		}
		return nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return errors.Wrap(err, "create chat pool")
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, id := range chatIDs {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = p.RunChat(ctx, id, false)
		}); err != nil {
			wg.Done()
			results[i] = ChatResult{ChatID: id, Err: errors.Mark(errors.Wrap(err, "submit chat"), domain.ErrPoisonedChat)}
		}
	}
	wg.Wait()
	return nil
}

// RunChat runs all three trackers for one chat. Forced runs bypass the
// cooldown and always report the rating listing. Anything escaping the chat,
// panics included, is returned in ChatResult.Err marked ErrPoisonedChat.
func (p *Poller) RunChat(ctx context.Context, chatID int64, force bool) (res ChatResult) {
	mu := p.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	started := time.Now()
	res = ChatResult{ChatID: chatID, Forced: force}
	ctx, cancel := context.WithTimeout(ctx, p.config().ChatTimeout)
	defer cancel()

	var pc panics.Catcher
	var err error
	pc.Try(func() { err = p.runChat(ctx, &res) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		res.Err = errors.Mark(errors.Wrapf(err, "chat %d", chatID), domain.ErrPoisonedChat)
	}
	res.Duration = time.Since(started)
	return res
}

func (p *Poller) runChat(ctx context.Context, res *ChatResult) error {
	chatID := res.ChatID
	log := p.log.With(logx.Int64("chat_id", chatID), logx.Bool("forced", res.Forced))

	teams, err := p.store.ListTeamSubscriptions(ctx, chatID)
	if err != nil {
		return errors.Wrap(err, "list teams")
	}
	cities, err := p.store.ListCitySubscriptions(ctx, chatID)
	if err != nil {
		return errors.Wrap(err, "list cities")
	}
	res.Teams, res.Cities = len(teams), len(cities)

	for _, city := range cities {
		rep, err := p.cities.Check(ctx, chatID, city, res.Forced)
		if err != nil {
			log.Warn("city check failed", logx.Int64("city_id", city.CityID), logx.Err(err))
			res.Soft = append(res.Soft, err)
			continue
		}
		if err := p.send(ctx, res, rep.Text); err != nil {
			return err
		}
	}

	tournamentIDs := p.tournaments.CollectTournaments(ctx, teams)
	res.Tournaments = len(tournamentIDs)
	updates := make([]tracker.TournamentUpdate, 0, len(tournamentIDs))
	for _, tid := range tournamentIDs {
		u, err := p.tournaments.Check(ctx, chatID, tid, res.Forced)
		if err != nil {
			log.Warn("tournament check failed", logx.Int64("tournament_id", tid), logx.Err(err))
			res.Soft = append(res.Soft, err)
			continue
		}
		updates = append(updates, u)
	}
	if err := p.send(ctx, res, tracker.FormatTournamentUpdates(updates)); err != nil {
		return err
	}

	if len(teams) == 0 {
		return nil
	}
	if !res.Forced && p.layer.InCooldown(chatID) {
		res.CooldownSkipped = true
		log.Debug("rating check skipped, chat in cooldown")
		return nil
	}
	report := p.evaluateRatings(ctx, chatID, teams, tracker.RatingOptions{ForceReport: res.Forced})
	for _, f := range report.Failures {
		log.Warn("rating check failed", logx.Int64("team_id", f.Team.TeamID), logx.Err(f.Err))
		res.Soft = append(res.Soft, f.Err)
	}
	res.RatingChanged = report.Significant()
	if !res.RatingChanged && !res.Forced {
		return nil
	}
	if err := p.send(ctx, res, report.Text()); err != nil {
		return err
	}
	if res.RatingChanged {
		p.layer.StartCooldown(chatID)
	}
	return nil
}

// RefreshRatings evaluates every team of the chat with opts and returns the
// listing without sending it. The chat's cooldown is left untouched.
func (p *Poller) RefreshRatings(ctx context.Context, chatID int64, opts tracker.RatingOptions) (RatingReport, error) {
	mu := p.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	teams, err := p.store.ListTeamSubscriptions(ctx, chatID)
	if err != nil {
		return RatingReport{}, errors.Wrap(err, "list teams")
	}
	return p.evaluateRatings(ctx, chatID, teams, opts), nil
}

func (p *Poller) evaluateRatings(ctx context.Context, chatID int64, teams []domain.TeamSubscription, opts tracker.RatingOptions) RatingReport {
	rep := RatingReport{Forced: opts.ForceReport}
	for _, team := range teams {
		ch, err := p.ratings.Evaluate(ctx, chatID, team, opts)
		if err != nil {
			rep.Failures = append(rep.Failures, TeamFailure{Team: team, Err: err})
			continue
		}
		rep.Changes = append(rep.Changes, ch)
	}
	return rep
}

func (p *Poller) send(ctx context.Context, res *ChatResult, text string) error {
	if text == "" {
		return nil
	}
	if err := p.sender.Send(ctx, res.ChatID, text); err != nil {
		return err
	}
	res.Messages++
	return nil
}
