package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"chgkbot/internal/cache"
	"chgkbot/internal/domain"
)

type fakeSite struct {
	routes map[string]string
	status map[string]int
	hits   atomic.Int64
}

func (f *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	if code, ok := f.status[r.URL.Path]; ok {
		w.WriteHeader(code)
		return
	}
	body, ok := f.routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, site *fakeSite, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Now:     func() time.Time { return now },
	})
}

func TestFetchTeamRating_PicksLatestRelease(t *testing.T) {
	site := &fakeSite{routes: map[string]string{
		"/api/teams/42/rating.json": `[
			{"idrelease":"10","rating":"1500","rating_position":"12"},
			{"idrelease":"12","rating":"1521","rating_position":"10.5"},
			{"idrelease":11,"rating":1510,"rating_position":11}
		]`,
	}}
	c := newTestClient(t, site, time.Now())

	r, err := c.FetchTeamRating(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.Rating{Value: 1521, Position: 10.5, Release: 12}, r)
}

func TestFetchTeamRating_Empty(t *testing.T) {
	site := &fakeSite{routes: map[string]string{"/api/teams/7/rating.json": `[]`}}
	c := newTestClient(t, site, time.Now())

	_, err := c.FetchTeamRating(context.Background(), 7)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrRatingNotFound))
	require.True(t, errors.Is(err, domain.ErrNotFound))
	require.False(t, errors.Is(err, domain.ErrNotSubscribed))
	require.Equal(t, "Рейтинг для команды #7 не найден", err.Error())
}

func TestFetchTeamInfo_NotFound(t *testing.T) {
	c := newTestClient(t, &fakeSite{}, time.Now())

	_, err := c.FetchTeamInfo(context.Background(), 5)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrNotFound))
	require.False(t, errors.Is(err, domain.ErrRatingNotFound))
	require.True(t, domain.IsUserFacing(err))
}

func TestFetchTeamInfo_ServerErrorIsProviderFetch(t *testing.T) {
	site := &fakeSite{status: map[string]int{"/api/teams/5.json": http.StatusInternalServerError}}
	c := newTestClient(t, site, time.Now())

	_, err := c.FetchTeamInfo(context.Background(), 5)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrProviderFetch))
	require.False(t, domain.IsUserFacing(err))
}

func TestFetchTournamentsForTeam_Dedupes(t *testing.T) {
	site := &fakeSite{routes: map[string]string{
		"/api/teams/1/tournaments/last.json": `{"tournaments":["5","6","5",0,7]}`,
	}}
	c := newTestClient(t, site, time.Now())

	ids, err := c.FetchTournamentsForTeam(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6, 7}, ids)
}

func TestFetchTournamentInfo_Statuses(t *testing.T) {
	card := `[{"idtournament":"9","name":"Кубок","type_name":"Синхрон","date_start":"2024-03-01 19:00:00","date_end":"2024-03-03 23:00:00"}]`
	open := `[{"position":"1"},{"position":"2"},{"position":"9999"}]`
	closed := `[{"position":"9999"},{"position":"0"},{"position":"1"}]`
	at := func(s string) time.Time {
		tm, err := parseSiteTime(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return tm
	}

	cases := []struct {
		name    string
		now     time.Time
		results string
		contro  string
		appeals string
		want    domain.TournamentStatus
	}{
		{name: "before start", now: at("2024-02-28 10:00:00"), want: domain.StatusNotStarted},
		{name: "running", now: at("2024-03-02 10:00:00"), want: domain.StatusRunning},
		{name: "ended without results", now: at("2024-03-05 10:00:00"), results: closed, want: domain.StatusRunning},
		{name: "results open", now: at("2024-03-05 10:00:00"), results: open, contro: `[{"status":"N"}]`, want: domain.StatusResultsOpen},
		{name: "controversials done", now: at("2024-03-05 10:00:00"), results: open, contro: `[{"status":"A"}]`, appeals: `[{"status":"new"}]`, want: domain.StatusControversialsDone},
		{name: "appeals done", now: at("2024-03-05 10:00:00"), results: open, contro: `[{"status":"A"}]`, appeals: `[{"status":"D"}]`, want: domain.StatusAppealsDone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			routes := map[string]string{"/api/tournaments/9.json": card}
			if tc.results != "" {
				routes["/api/tournaments/9/list.json"] = tc.results
			}
			if tc.contro != "" {
				routes["/api/tournaments/9/controversials.json"] = tc.contro
			}
			if tc.appeals != "" {
				routes["/api/tournaments/9/appeals.json"] = tc.appeals
			}
			c := newTestClient(t, &fakeSite{routes: routes}, tc.now)

			info, err := c.FetchTournamentInfo(context.Background(), 9)
			require.NoError(t, err)
			require.Equal(t, tc.want, info.Status)
			require.Equal(t, "Кубок", info.Name)
			require.Equal(t, domain.TournamentRemote, info.Kind)
			require.Equal(t, tc.now.Sub(at("2024-03-03 23:00:00")), info.SinceEnd)
		})
	}
}

func TestTournamentKind(t *testing.T) {
	if tournamentKind("Обычный") != domain.TournamentOnSite {
		t.Fatalf("Обычный must be on-site")
	}
	if tournamentKind("Очный") != domain.TournamentOnSite {
		t.Fatalf("Очный must be on-site")
	}
	if tournamentKind("Синхрон") != domain.TournamentRemote {
		t.Fatalf("Синхрон must be remote")
	}
}

func TestFetchCitySnapshot_GroupsAndSorts(t *testing.T) {
	site := &fakeSite{routes: map[string]string{
		"/api/towns/3.json": `[{"name":"Казань"}]`,
		"/api/towns/3/synch_requests.json": `[
			{"idtournament":"20","tournament_name":"Синхрон А","representative":"Петров","narrator":"Иванов","issued_at":"2024-03-02 12:00:00"},
			{"idtournament":"20","tournament_name":"Синхрон А","representative":"Сидоров","narrator":"Смирнов","issued_at":"2024-03-01 12:00:00"},
			{"idtournament":21,"tournament_name":"Синхрон Б","representative":"Орлов","narrator":"Волков","issued_at":"2024-03-01 09:30:00"}
		]`,
	}}
	c := newTestClient(t, site, time.Now())

	snap, err := c.FetchCitySnapshot(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "Казань", snap.CityName)
	require.Equal(t, 2, snap.Count(20))
	require.Equal(t, 1, snap.Count(21))
	require.Equal(t, "Смирнов", snap.Applications[20][0].Leader)
	require.Equal(t, "Сидоров", snap.Applications[20][0].Delegate)
}

func TestFetchEditors(t *testing.T) {
	site := &fakeSite{routes: map[string]string{
		"/api/tournaments/4/editors.json": `[{"name":"Анна","patronymic":"И.","surname":"Петрова"},{"name":"","surname":""}]`,
	}}
	c := newTestClient(t, site, time.Now())

	eds, err := c.FetchEditors(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []string{"Анна Петрова"}, eds)
}

func TestStatusURL(t *testing.T) {
	base := "https://rating.example/"
	require.Equal(t, "https://rating.example/tournament/5", StatusURL(base, 5, domain.StatusResultsOpen))
	require.Equal(t, "https://rating.example/tournament/5/controversials", StatusURL(base, 5, domain.StatusControversialsDone))
	require.Equal(t, "https://rating.example/tournament/5/appeals", StatusURL(base, 5, domain.StatusAppealsDone))
	require.Empty(t, StatusURL(base, 5, domain.StatusRunning))
}

func TestReviewFromStatuses(t *testing.T) {
	require.Equal(t, ReviewNone, ReviewFromStatuses(nil))
	require.Equal(t, ReviewPending, ReviewFromStatuses([]string{"A", "N"}))
	require.Equal(t, ReviewResolved, ReviewFromStatuses([]string{"A", "D"}))
}

func TestCached_MemoizesShortTier(t *testing.T) {
	site := &fakeSite{routes: map[string]string{
		"/api/teams/42/rating.json": `[{"idrelease":"1","rating":"1500","rating_position":"3"}]`,
	}}
	c := newTestClient(t, site, time.Now())
	layer := cache.NewLayer(cache.LayerConfig{})
	cached := NewCached(c, layer)

	for i := 0; i < 3; i++ {
		r, err := cached.FetchTeamRating(context.Background(), 42)
		require.NoError(t, err)
		require.Equal(t, 1500, r.Value)
	}
	require.EqualValues(t, 1, site.hits.Load())

	layer.Short.Delete("provider:rating:42")
	_, err := cached.FetchTeamRating(context.Background(), 42)
	require.NoError(t, err)
	require.EqualValues(t, 2, site.hits.Load())
}

func TestPing(t *testing.T) {
	c := newTestClient(t, &fakeSite{routes: map[string]string{"/": `{}`}}, time.Now())
	require.NoError(t, c.Ping(context.Background()))

	down := newTestClient(t, &fakeSite{status: map[string]int{"/": http.StatusBadGateway}}, time.Now())
	err := down.Ping(context.Background())
	require.True(t, errors.Is(err, domain.ErrProviderFetch))
}

func TestAbbreviate_CutsOnRuneBoundary(t *testing.T) {
	body := "a" + strings.Repeat("я", 150)
	got := abbreviate([]byte(body))
	require.True(t, utf8.ValidString(got), "%q", got)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, body[:199]+"...", got)

	require.Equal(t, "короткий ответ", abbreviate([]byte("  короткий ответ \n")))
}
