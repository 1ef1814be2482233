package tracker

import (
	"context"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

type RatingOptions struct {
	// ForceReport asks the caller to report even an insignificant change.
	ForceReport bool
	// ForcePersist stores the fetched rating as the new baseline.
	ForcePersist bool
}

// RatingChange is the outcome of one evaluation. New carries the deltas
// against Old when there was a baseline.
type RatingChange struct {
	Team        domain.TeamSubscription
	Old         domain.Rating
	New         domain.Rating
	HadBaseline bool
	Significant bool
	Persisted   bool
	Forced      bool
}

// Reportable reports whether the change should reach the chat.
func (c RatingChange) Reportable() bool { return c.Significant || c.Forced }

type RatingTracker struct {
	provider Provider
	store    Store
	settings *SettingsBox
	log      logx.Logger
}

func NewRatingTracker(p Provider, s Store, settings *SettingsBox, log logx.Logger) *RatingTracker {
	if settings == nil {
		settings = NewSettingsBox(DefaultSettings())
	}
	return &RatingTracker{provider: p, store: s, settings: settings, log: log}
}

// Evaluate compares the team's latest rating with the chat's baseline and
// stores the new one when the change is significant, forced, or there was
// no baseline yet.
func (t *RatingTracker) Evaluate(ctx context.Context, chatID int64, team domain.TeamSubscription, opts RatingOptions) (RatingChange, error) {
	out := RatingChange{Team: team, Forced: opts.ForceReport}

	old, found, err := t.store.GetRatingBaseline(ctx, chatID, team.TeamID)
	if err != nil {
		return out, errors.Wrapf(err, "load baseline chat=%d team=%d", chatID, team.TeamID)
	}
	out.Old, out.HadBaseline = old, found

	fetched, err := t.provider.FetchTeamRating(ctx, team.TeamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return out, domain.MarkKind(err, domain.ErrRatingNotFound)
		}
		return out, errors.Wrapf(err, "team rating not found: team %d", team.TeamID)
	}
	fresh := sanitizeRating(old, fetched)

	out.Significant = t.significant(old, fresh)
	out.New = fresh
	if found {
		out.New = fresh.Sub(old)
	}

	if out.Significant || opts.ForcePersist || !found {
		if err := t.store.SetRatingBaseline(ctx, chatID, team.TeamID, fresh); err != nil {
			return out, errors.Wrapf(err, "save baseline chat=%d team=%d", chatID, team.TeamID)
		}
		out.Persisted = true
	}

	t.log.Debug("rating evaluated",
		logx.Int64("chat_id", chatID),
		logx.Int64("team_id", team.TeamID),
		logx.Int("old", old.Value),
		logx.Int("new", fresh.Value),
		logx.Bool("significant", out.Significant),
		logx.Bool("persisted", out.Persisted),
	)
	return out, nil
}

func (t *RatingTracker) significant(old, fresh domain.Rating) bool {
	diff := fresh.Value - old.Value
	if diff < 0 {
		diff = -diff
	}
	return diff > t.settings.Load().MinRatingDiff || old.Release != fresh.Release
}

// sanitizeRating masks glitches in the published data: an older release
// falls back to the baseline, zero fields inherit the baseline's values.
func sanitizeRating(old, fresh domain.Rating) domain.Rating {
	fresh = fresh.Bare()
	if fresh.Release < old.Release {
		return old.Bare()
	}
	if fresh.Value == 0 && old.Value != 0 {
		fresh.Value = old.Value
	}
	if fresh.Position == 0 && old.Position != 0 {
		fresh.Position = old.Position
	}
	return fresh
}
