package tracker

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

var team42 = domain.TeamSubscription{ChatID: 1, TeamID: 42, TeamName: "Сборная"}

func newRatingFixture() (*RatingTracker, *fakeProvider, *memStore) {
	p := newFakeProvider()
	s := newMemStore()
	return NewRatingTracker(p, s, NewSettingsBox(DefaultSettings()), logx.Nop()), p, s
}

func TestRating_SignificanceThreshold(t *testing.T) {
	cases := []struct {
		name        string
		fresh       int
		significant bool
	}{
		{name: "above threshold", fresh: 1521, significant: true},
		{name: "below threshold", fresh: 1519, significant: false},
		{name: "exactly threshold", fresh: 1520, significant: false},
		{name: "drop above threshold", fresh: 1479, significant: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, p, s := newRatingFixture()
			s.baselines[chatKey{1, 42}] = domain.Rating{Value: 1500, Position: 10, Release: 5}
			p.ratings[42] = domain.Rating{Value: tc.fresh, Position: 9, Release: 5}

			ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if ch.Significant != tc.significant {
				t.Fatalf("significant=%v, want %v", ch.Significant, tc.significant)
			}
			stored := s.baselines[chatKey{1, 42}]
			wantStored := 1500
			if tc.significant {
				wantStored = tc.fresh
			}
			if stored.Value != wantStored {
				t.Fatalf("stored baseline %d, want %d", stored.Value, wantStored)
			}
			if ch.New.ValueDelta == nil || *ch.New.ValueDelta != tc.fresh-1500 {
				t.Fatalf("value delta %v", ch.New.ValueDelta)
			}
		})
	}
}

func TestRating_ReleaseChangeIsSignificant(t *testing.T) {
	tr, p, s := newRatingFixture()
	s.baselines[chatKey{1, 42}] = domain.Rating{Value: 1500, Position: 10, Release: 5}
	p.ratings[42] = domain.Rating{Value: 1501, Position: 10, Release: 6}

	ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ch.Significant || !ch.Persisted {
		t.Fatalf("release change must be significant and persisted: %+v", ch)
	}
}

func TestRating_StalenessMasking(t *testing.T) {
	tr, p, s := newRatingFixture()
	base := domain.Rating{Value: 1500, Position: 10, Release: 7}
	s.baselines[chatKey{1, 42}] = base

	p.ratings[42] = domain.Rating{Value: 1700, Position: 1, Release: 6}
	ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ch.New.Bare() != base || ch.Significant {
		t.Fatalf("older release must fall back to baseline, got %+v", ch)
	}

	p.ratings[42] = domain.Rating{Value: 0, Position: 0, Release: 7}
	ch, err = tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ch.New.Value != 1500 || ch.New.Position != 10 {
		t.Fatalf("zero fields must inherit baseline, got %+v", ch.New)
	}
	if s.writes != 0 {
		t.Fatalf("unexpected baseline writes: %d", s.writes)
	}
}

func TestRating_FirstEvaluationPersists(t *testing.T) {
	tr, p, s := newRatingFixture()
	p.ratings[42] = domain.Rating{Value: 1500, Position: 10, Release: 0}

	ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ch.HadBaseline || !ch.Persisted {
		t.Fatalf("absent baseline must be stored: %+v", ch)
	}
	if got := s.baselines[chatKey{1, 42}]; got.Value != 1500 {
		t.Fatalf("stored %+v", got)
	}
}

func TestRating_ForceReportDoesNotPersist(t *testing.T) {
	tr, p, s := newRatingFixture()
	s.baselines[chatKey{1, 42}] = domain.Rating{Value: 1500, Position: 10, Release: 5}
	p.ratings[42] = domain.Rating{Value: 1505, Position: 10, Release: 5}

	ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{ForceReport: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ch.Reportable() || ch.Persisted {
		t.Fatalf("forced report must be reportable without persisting: %+v", ch)
	}

	ch, err = tr.Evaluate(context.Background(), 1, team42, RatingOptions{ForceReport: true, ForcePersist: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ch.Persisted || s.baselines[chatKey{1, 42}].Value != 1505 {
		t.Fatalf("ForcePersist must store: %+v", ch)
	}
}

func TestRating_ProviderFailure(t *testing.T) {
	tr, p, _ := newRatingFixture()
	p.ratingErr[42] = errors.Mark(errors.New("timeout"), domain.ErrProviderFetch)

	_, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if !errors.Is(err, domain.ErrProviderFetch) {
		t.Fatalf("want provider-fetch mark, got %v", err)
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrRatingNotFound) {
		t.Fatalf("fetch failure must not count as not found: %v", err)
	}
}

func TestRating_MissingTeamIsRatingNotFound(t *testing.T) {
	tr, p, _ := newRatingFixture()
	p.ratingErr[42] = domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", 42)

	_, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if !errors.Is(err, domain.ErrRatingNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want rating-not-found and not-found marks, got %v", err)
	}
	if errors.Is(err, domain.ErrProviderFetch) {
		t.Fatalf("not-found must not count as fetch failure: %v", err)
	}
	if err.Error() != "Команда #42 не найдена" {
		t.Fatalf("message changed: %q", err.Error())
	}
}

func TestRating_ThresholdFollowsSettings(t *testing.T) {
	tr, p, s := newRatingFixture()
	tr.settings.Store(Settings{MinRatingDiff: 50})
	s.baselines[chatKey{1, 42}] = domain.Rating{Value: 1500, Position: 10, Release: 5}
	p.ratings[42] = domain.Rating{Value: 1540, Position: 10, Release: 5}

	ch, err := tr.Evaluate(context.Background(), 1, team42, RatingOptions{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ch.Significant {
		t.Fatalf("40 points must be below a threshold of 50")
	}
}
