package poller

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"chgkbot/internal/cache"
	"chgkbot/internal/domain"
	"chgkbot/internal/eventbus"
	"chgkbot/internal/notifier"
	"chgkbot/internal/provider/providertest"
	"chgkbot/internal/storage"
	"chgkbot/internal/tracker"
	kit "chgkbot/internal/transport"
	"chgkbot/internal/transport/transporttest"
	logx "chgkbot/pkg/logx"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	p     *Poller
	store *storage.SQLite
	src   *providertest.Fake
	rec   *transporttest.Recorder
	layer *cache.Layer
	clock *clock
	bus   eventbus.Bus
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	layer := cache.NewLayer(cache.LayerConfig{ShortTTL: time.Nanosecond, CooldownTTL: 24 * time.Hour}, cache.WithClock(clk.Now))
	src := providertest.New()
	rec := transporttest.NewRecorder()
	bus := eventbus.New()
	settings := tracker.NewSettingsBox(tracker.DefaultSettings())
	sender := notifier.New(notifier.Config{RatePerSec: 1000}, rec, bus, logx.Nop())

	p := New(Config{Workers: workers}, Deps{
		Store:       store,
		Ratings:     tracker.NewRatingTracker(src, store, settings, logx.Nop()),
		Tournaments: tracker.NewTournamentTracker(src, store, settings, logx.Nop()),
		Cities:      tracker.NewCityTracker(src, layer.Snapshots, logx.Nop()),
		Layer:       layer,
		Sender:      sender,
		Bus:         bus,
		Log:         logx.Nop(),
	})
	return &fixture{p: p, store: store, src: src, rec: rec, layer: layer, clock: clk, bus: bus}
}

func (f *fixture) follow(t *testing.T, chatID int64, team domain.Team, r domain.Rating) {
	t.Helper()
	f.src.SetTeam(team, r)
	require.NoError(t, f.store.AddTeamSubscription(context.Background(), domain.TeamSubscription{ChatID: chatID, TeamID: team.ID, TeamName: team.Name}))
}

func TestRunChat_CooldownSuppressionAndExpiry(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.follow(t, 1, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})

	res := f.p.RunChat(ctx, 1, false)
	require.NoError(t, res.Err)
	require.True(t, res.RatingChanged, "first sight of a release is significant")
	require.Len(t, f.rec.SentTo(1), 1)
	require.True(t, f.layer.InCooldown(1))

	f.src.SetRating(42, domain.Rating{Value: 1600, Position: 2, Release: 6})
	res = f.p.RunChat(ctx, 1, false)
	require.NoError(t, res.Err)
	require.True(t, res.CooldownSkipped)
	require.Len(t, f.rec.SentTo(1), 1)

	f.clock.Advance(25 * time.Hour)
	res = f.p.RunChat(ctx, 1, false)
	require.NoError(t, res.Err)
	require.True(t, res.RatingChanged)
	sent := f.rec.SentTo(1)
	require.Len(t, sent, 2)
	require.Equal(t, "Рейтинг обновлён:\nСборная: 1600 (+100), место 2 (▲8)", sent[1])
}

func TestRunChat_ForcedBypassesCooldown(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.follow(t, 1, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})
	f.layer.StartCooldown(1)

	res := f.p.RunChat(ctx, 1, true)
	require.NoError(t, res.Err)
	require.False(t, res.CooldownSkipped)
	require.Equal(t, []string{"Рейтинг обновлён:\nСборная: 1500, место 10"}, f.rec.SentTo(1))
}

func TestRunChat_ListingSortedAndFailuresListed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.follow(t, 1, domain.Team{ID: 1, Name: "Низ"}, domain.Rating{Value: 1000, Position: 50, Release: 5})
	f.follow(t, 1, domain.Team{ID: 2, Name: "Верх"}, domain.Rating{Value: 2000, Position: 1, Release: 5})
	f.follow(t, 1, domain.Team{ID: 3, Name: "Сбой"}, domain.Rating{Value: 1500, Position: 9, Release: 5})
	f.src.Fail("rating:3", errors.Mark(errors.New("timeout"), domain.ErrProviderFetch))

	res := f.p.RunChat(ctx, 1, false)
	require.NoError(t, res.Err)
	require.Len(t, res.Soft, 1)
	sent := f.rec.SentTo(1)
	require.Len(t, sent, 1)
	lines := strings.Split(sent[0], "\n")
	require.Equal(t, "Рейтинг обновлён:", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "Верх: 2000"))
	require.True(t, strings.HasPrefix(lines[2], "Низ: 1000"))
	require.Equal(t, "Сбой: Ошибка: рейтинг временно недоступен", lines[3])
}

func TestRunChat_OrderCityTournamentsRating(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.follow(t, 1, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})
	f.src.SetTournaments(42, 9)
	f.src.SetTournament(domain.TournamentInfo{ID: 9, Name: "Кубок", Status: domain.StatusResultsOpen, SinceEnd: 24 * time.Hour})
	f.src.SetCity(domain.CitySnapshot{CityID: 3, CityName: "Казань", Applications: map[int64][]domain.SyncApplication{
		20: {{TournamentID: 20, TournamentName: "Синхрон", Leader: "Иванов", Delegate: "Петров"}},
	}})
	require.NoError(t, f.store.AddCitySubscription(ctx, domain.CitySubscription{ChatID: 1, CityID: 3, CityName: "Казань"}))

	res := f.p.RunChat(ctx, 1, true)
	require.NoError(t, res.Err)
	sent := f.rec.SentTo(1)
	require.Len(t, sent, 3)
	require.True(t, strings.HasPrefix(sent[0], "Казань:\nСинхрон"))
	require.Equal(t, "Кубок: результаты открыты (https://rating.example/tournament/9)", sent[1])
	require.True(t, strings.HasPrefix(sent[2], "Рейтинг обновлён:"))
}

func TestTick_PoisonedChatDoesNotStopOthers(t *testing.T) {
	for _, workers := range []int{1, 4} {
		f := newFixture(t, workers)
		ctx := context.Background()
		for _, chat := range []int64{1, 2, 3} {
			f.follow(t, chat, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})
		}
		f.rec.FailChats[2] = errors.Mark(errors.New("bot was blocked"), kit.ErrChatUnavailable)
		events, unsub := f.bus.Subscribe(16)

		tick, err := f.p.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, tick.Chats, 3)
		require.Equal(t, 1, tick.Failed())
		for _, r := range tick.Chats {
			if r.ChatID == 2 {
				require.True(t, errors.Is(r.Err, domain.ErrPoisonedChat))
				require.True(t, errors.Is(r.Err, kit.ErrChatUnavailable))
				continue
			}
			require.NoError(t, r.Err)
			require.Len(t, f.rec.SentTo(r.ChatID), 1)
		}

		var sawTick, sawFailure bool
		for done := false; !done; {
			select {
			case e := <-events:
				sawTick = sawTick || e.Type == eventbus.TypePollTick
				sawFailure = sawFailure || e.Type == eventbus.TypeChatFailed
			default:
				done = true
			}
		}
		unsub()
		require.True(t, sawTick)
		require.True(t, sawFailure)
	}
}

type panickyStore struct {
	*storage.SQLite
	chatID int64
}

func (s panickyStore) ListCitySubscriptions(ctx context.Context, chatID int64) ([]domain.CitySubscription, error) {
	if chatID == s.chatID {
		panic("corrupt row")
	}
	return s.SQLite.ListCitySubscriptions(ctx, chatID)
}

func TestRunChat_PanicBecomesPoisonedChat(t *testing.T) {
	f := newFixture(t, 1)
	f.follow(t, 1, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})
	f.p.store = panickyStore{SQLite: f.store, chatID: 1}

	res := f.p.RunChat(context.Background(), 1, false)
	require.Error(t, res.Err)
	require.True(t, errors.Is(res.Err, domain.ErrPoisonedChat))
	require.Contains(t, res.Err.Error(), "corrupt row")
}

func TestTick_SkipsOverlap(t *testing.T) {
	f := newFixture(t, 1)
	f.p.ticking.Store(true)
	_, err := f.p.Tick(context.Background())
	require.True(t, errors.Is(err, ErrTickInProgress))
}

func TestEndToEnd_FollowThenDoubleUpdate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.follow(t, 1, domain.Team{ID: 42, Name: "Сборная"}, domain.Rating{Value: 1500, Position: 10, Release: 5})

	rep, err := f.p.RefreshRatings(ctx, 1, tracker.RatingOptions{ForceReport: true, ForcePersist: true})
	require.NoError(t, err)
	require.Equal(t, "Рейтинг обновлён:\nСборная: 1500, место 10", rep.Text())

	for i := 0; i < 2; i++ {
		res := f.p.RunChat(ctx, 1, true)
		require.NoError(t, res.Err)
		require.False(t, res.RatingChanged)
	}
	sent := f.rec.SentTo(1)
	require.Equal(t, []string{
		"Рейтинг не изменился:\nСборная: 1500, место 10",
		"Рейтинг не изменился:\nСборная: 1500, место 10",
	}, sent)

	base, ok, err := f.store.GetRatingBaseline(ctx, 1, 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.Rating{Value: 1500, Position: 10, Release: 5}, base)
}

func TestFailureText_HidesInternalErrors(t *testing.T) {
	require.Equal(t, "Команда #7 не найдена", failureText(domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", 7)))
	require.Equal(t, "рейтинг временно недоступен", failureText(errors.Mark(errors.New("timeout"), domain.ErrProviderFetch)))
	require.Equal(t, "внутренняя ошибка", failureText(errors.New("save baseline chat=1 team=7: database is locked")))
}
