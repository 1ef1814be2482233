package tracker

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

// TournamentUpdate is the outcome of checking one tournament for a chat.
type TournamentUpdate struct {
	TournamentID int64
	Name         string
	Status       domain.TournamentStatus
	URL          string
	// Changed is set when the stored status was inserted or advanced.
	Changed bool
	// Skipped is set for retired tournaments that were not fetched.
	Skipped    bool
	Reportable bool
}

// Line renders "name: label (url)"; the URL part is omitted when unknown.
func (u TournamentUpdate) Line() string {
	s := u.Name + ": " + u.Status.Label()
	if u.URL != "" {
		s += " (" + u.URL + ")"
	}
	return s
}

type TournamentTracker struct {
	provider Provider
	store    Store
	settings *SettingsBox
	log      logx.Logger
}

func NewTournamentTracker(p Provider, s Store, settings *SettingsBox, log logx.Logger) *TournamentTracker {
	if settings == nil {
		settings = NewSettingsBox(DefaultSettings())
	}
	return &TournamentTracker{provider: p, store: s, settings: settings, log: log}
}

// Check advances the chat's stored stage for one tournament. Stages only move
// forward; unless forced, only an advance to an important stage is reportable.
func (t *TournamentTracker) Check(ctx context.Context, chatID, tournamentID int64, force bool) (TournamentUpdate, error) {
	out := TournamentUpdate{TournamentID: tournamentID}

	saved, found, err := t.store.GetTournamentStatus(ctx, chatID, tournamentID)
	if err != nil {
		return out, errors.Wrapf(err, "load status chat=%d tournament=%d", chatID, tournamentID)
	}
	if found && saved == domain.StatusLongGone && !force {
		out.Status, out.Skipped = saved, true
		return out, nil
	}

	info, err := t.provider.FetchTournamentInfo(ctx, tournamentID)
	if err != nil {
		return out, errors.Wrapf(err, "tournament %d", tournamentID)
	}
	out.Name = info.Name

	computed := t.retire(info, saved, found)
	status := domain.MaxStatus(saved, computed)
	if err := domain.CheckTransition(saved, status); err != nil {
		return out, err
	}
	out.Status = status

	switch {
	case !found || computed > saved:
		if _, err := t.store.SetTournamentStatus(ctx, chatID, tournamentID, status); err != nil {
			return out, errors.Wrapf(err, "save status chat=%d tournament=%d", chatID, tournamentID)
		}
		out.Changed = true
	case !force:
		return out, nil
	}

	out.Reportable = status.Important() || force
	if out.Reportable {
		out.URL = t.provider.StatusURL(tournamentID, status)
	}
	t.log.Debug("tournament checked",
		logx.Int64("chat_id", chatID),
		logx.Int64("tournament_id", tournamentID),
		logx.String("saved", saved.String()),
		logx.String("status", status.String()),
		logx.Bool("changed", out.Changed),
	)
	return out, nil
}

// retire replaces the computed stage with LONG_GONE once the tournament is
// past the horizon and has reached its final reportable stage. A tournament
// first seen past the horizon is retired right away.
func (t *TournamentTracker) retire(info domain.TournamentInfo, saved domain.TournamentStatus, found bool) domain.TournamentStatus {
	computed := info.Status
	if info.SinceEnd <= t.settings.Load().LongGoneHorizon {
		return computed
	}
	if !found {
		return domain.StatusLongGone
	}
	final := domain.StatusAppealsDone
	if info.Kind == domain.TournamentOnSite {
		final = domain.StatusResultsOpen
	}
	if domain.MaxStatus(saved, computed) >= final {
		return domain.StatusLongGone
	}
	return computed
}

// CollectTournaments returns the union of recent tournaments of the given
// teams, ascending. A failed team is logged and skipped.
func (t *TournamentTracker) CollectTournaments(ctx context.Context, teams []domain.TeamSubscription) []int64 {
	seen := map[int64]struct{}{}
	for _, team := range teams {
		ids, err := t.provider.FetchTournamentsForTeam(ctx, team.TeamID)
		if err != nil {
			t.log.Warn("tournament list failed", logx.Int64("team_id", team.TeamID), logx.Err(err))
			continue
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatTournamentUpdates joins the reportable lines; empty when none.
func FormatTournamentUpdates(updates []TournamentUpdate) string {
	lines := make([]string, 0, len(updates))
	for _, u := range updates {
		if u.Reportable {
			lines = append(lines, u.Line())
		}
	}
	return strings.Join(lines, "\n")
}
