package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTeamSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.AddTeamSubscription(ctx, domain.TeamSubscription{ChatID: 1, TeamID: 100, TeamName: "Команда"}))
	require.NoError(t, s.AddTeamSubscription(ctx, domain.TeamSubscription{ChatID: 1, TeamID: 50, TeamName: "Другая"}))

	err := s.AddTeamSubscription(ctx, domain.TeamSubscription{ChatID: 1, TeamID: 100, TeamName: "Команда"})
	require.True(t, errors.Is(err, domain.ErrAlreadySubscribed), "got %v", err)
	require.False(t, errors.Is(err, domain.ErrNotSubscribed), "got %v", err)
	require.True(t, domain.IsUserFacing(err))

	subs, err := s.ListTeamSubscriptions(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []domain.TeamSubscription{
		{ChatID: 1, TeamID: 50, TeamName: "Другая"},
		{ChatID: 1, TeamID: 100, TeamName: "Команда"},
	}, subs)

	require.NoError(t, s.SetRatingBaseline(ctx, 1, 100, domain.Rating{Value: 1500, Position: 3, Release: 7}))
	require.NoError(t, s.RemoveTeamSubscription(ctx, 1, 100))
	_, ok, err := s.GetRatingBaseline(ctx, 1, 100)
	require.NoError(t, err)
	require.False(t, ok, "baseline must be dropped with the subscription")

	err = s.RemoveTeamSubscription(ctx, 1, 100)
	require.True(t, errors.Is(err, domain.ErrNotSubscribed), "got %v", err)
	require.False(t, errors.Is(err, domain.ErrAlreadySubscribed), "got %v", err)
}

func TestCitySubscriptionsAndChatList(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.AddCitySubscription(ctx, domain.CitySubscription{ChatID: 3, CityID: 205, CityName: "Город"}))
	require.NoError(t, s.AddTeamSubscription(ctx, domain.TeamSubscription{ChatID: 2, TeamID: 1, TeamName: "A"}))
	require.NoError(t, s.AddTeamSubscription(ctx, domain.TeamSubscription{ChatID: 3, TeamID: 1, TeamName: "A"}))

	err := s.AddCitySubscription(ctx, domain.CitySubscription{ChatID: 3, CityID: 205, CityName: "Город"})
	require.True(t, errors.Is(err, domain.ErrAlreadySubscribed))
	require.False(t, errors.Is(err, domain.ErrNotSubscribed))

	ids, err := s.ListChatIDsWithSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, ids)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Chats: 2, Teams: 2, Cities: 1}, counts)

	require.NoError(t, s.RemoveCitySubscription(ctx, 3, 205))
	err = s.RemoveCitySubscription(ctx, 3, 205)
	require.True(t, errors.Is(err, domain.ErrNotSubscribed))
	require.False(t, errors.Is(err, domain.ErrAlreadySubscribed))

	cities, err := s.ListCitySubscriptions(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, cities)
}

func TestRatingBaselineUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, ok, err := s.GetRatingBaseline(ctx, 1, 100)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetRatingBaseline(ctx, 1, 100, domain.Rating{Value: 1500, Position: 10.5, Release: 1}))
	require.NoError(t, s.SetRatingBaseline(ctx, 1, 100, domain.Rating{Value: 1521, Position: 9, Release: 2}))

	got, ok, err := s.GetRatingBaseline(ctx, 1, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.Rating{Value: 1521, Position: 9, Release: 2}, got)
}

func TestTournamentStatusNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	changed, err := s.SetTournamentStatus(ctx, 1, 900, domain.StatusResultsOpen)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.SetTournamentStatus(ctx, 1, 900, domain.StatusRunning)
	require.NoError(t, err)
	require.False(t, changed)

	st, ok, err := s.GetTournamentStatus(ctx, 1, 900)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StatusResultsOpen, st)

	changed, err = s.SetTournamentStatus(ctx, 1, 900, domain.StatusLongGone)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = s.SetTournamentStatus(ctx, 1, 900, domain.StatusUnknown)
	require.Error(t, err)

	st, ok, err = s.GetTournamentStatus(ctx, 2, 900)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.StatusUnknown, st)
}
