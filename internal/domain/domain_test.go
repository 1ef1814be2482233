package domain

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusOrderAndTransitions(t *testing.T) {
	order := []TournamentStatus{
		StatusNotStarted, StatusRunning, StatusResultsOpen,
		StatusControversialsDone, StatusAppealsDone, StatusLongGone,
	}
	for i, from := range order {
		for j, to := range order {
			require.Equal(t, j >= i, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	require.True(t, CanTransition(StatusUnknown, StatusRunning))

	err := CheckTransition(StatusAppealsDone, StatusRunning)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStatusRegression))
	require.NoError(t, CheckTransition(StatusRunning, StatusLongGone))
	require.Error(t, CheckTransition(StatusRunning, StatusUnknown))
}

func TestStatusImportant(t *testing.T) {
	want := map[TournamentStatus]bool{
		StatusNotStarted:         false,
		StatusRunning:            false,
		StatusResultsOpen:        true,
		StatusControversialsDone: true,
		StatusAppealsDone:        true,
		StatusLongGone:           false,
	}
	for s, imp := range want {
		require.Equal(t, imp, s.Important(), s.String())
	}
}

func TestRatingSubAndString(t *testing.T) {
	old := Rating{Value: 1500, Position: 14, Release: 10}
	cur := Rating{Value: 1521, Position: 12.5, Release: 11}

	d := cur.Sub(old)
	require.Equal(t, 21, *d.ValueDelta)
	require.Equal(t, 1.5, *d.PositionDelta)
	require.Equal(t, "1521 (+21), место 12.5 (▲1.5)", d.String())

	down := old.Sub(cur)
	require.Equal(t, "1500 (-21), место 14 (▼1.5)", down.String())

	same := cur.Sub(cur)
	require.Equal(t, "1521, место 12.5", same.String())
	require.Equal(t, "1521, место 12.5", cur.String())
}

func TestErrorKinds(t *testing.T) {
	err := errors.Wrap(UserError(ErrAlreadySubscribed, "Вы уже подписаны"), "add team 100")
	require.True(t, errors.Is(err, ErrAlreadySubscribed))
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, IsUserFacing(err))
	require.Equal(t, "add team 100: Вы уже подписаны", err.Error())

	ue := UserError(ErrUserInput, "bad %s", "arg")
	require.Equal(t, "bad arg", ue.Error())
	require.True(t, IsUserFacing(ue))

	require.False(t, IsUserFacing(errors.Mark(errors.New("timeout"), ErrProviderFetch)))
}

func TestErrorKinds_SubKindsStayDistinct(t *testing.T) {
	notSubscribed := UserError(ErrNotSubscribed, "Вы не подписаны")
	require.True(t, errors.Is(notSubscribed, ErrNotSubscribed))
	require.True(t, errors.Is(notSubscribed, ErrNotFound))
	require.False(t, errors.Is(notSubscribed, ErrAlreadySubscribed))
	require.False(t, errors.Is(notSubscribed, ErrRatingNotFound))

	plain := UserError(ErrNotFound, "Турнир #1 не найден")
	require.True(t, errors.Is(plain, ErrNotFound))
	require.False(t, errors.Is(plain, ErrRatingNotFound))
	require.False(t, errors.Is(plain, ErrNotSubscribed))

	fetch := MarkKind(errors.New("timeout"), ErrProviderFetch)
	require.True(t, errors.Is(fetch, ErrProviderFetch))
	require.False(t, errors.Is(fetch, ErrNotFound))

	require.False(t, errors.Is(ErrAlreadySubscribed, ErrNotFound))
	require.Nil(t, MarkKind(nil, ErrNotFound))
}
