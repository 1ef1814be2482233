// Package tracker decides, per chat, what changed since the last poll and
// whether it is worth reporting: team ratings, tournament stages and city
// sign-ups.
package tracker

import (
	"context"
	"sync/atomic"
	"time"

	"chgkbot/internal/domain"
)

const (
	DefaultMinRatingDiff   = 20
	DefaultLongGoneHorizon = 14 * 24 * time.Hour
)

// Provider is the read side of the rating site.
type Provider interface {
	FetchTeamRating(ctx context.Context, teamID int64) (domain.Rating, error)
	FetchTournamentsForTeam(ctx context.Context, teamID int64) ([]int64, error)
	FetchTournamentInfo(ctx context.Context, tournamentID int64) (domain.TournamentInfo, error)
	FetchCitySnapshot(ctx context.Context, cityID int64) (domain.CitySnapshot, error)
	FetchEditors(ctx context.Context, tournamentID int64) ([]string, error)
	StatusURL(tournamentID int64, status domain.TournamentStatus) string
}

// Store persists the per-chat baselines the trackers compare against.
type Store interface {
	GetRatingBaseline(ctx context.Context, chatID, teamID int64) (domain.Rating, bool, error)
	SetRatingBaseline(ctx context.Context, chatID, teamID int64, r domain.Rating) error
	GetTournamentStatus(ctx context.Context, chatID, tournamentID int64) (domain.TournamentStatus, bool, error)
	SetTournamentStatus(ctx context.Context, chatID, tournamentID int64, status domain.TournamentStatus) (bool, error)
}

// Settings are the tunables that may change on config reload.
type Settings struct {
	MinRatingDiff   int
	LongGoneHorizon time.Duration
}

func DefaultSettings() Settings {
	return Settings{MinRatingDiff: DefaultMinRatingDiff, LongGoneHorizon: DefaultLongGoneHorizon}
}

// SettingsBox shares Settings between trackers and swaps them atomically.
type SettingsBox struct {
	p atomic.Pointer[Settings]
}

func NewSettingsBox(s Settings) *SettingsBox {
	b := &SettingsBox{}
	b.Store(s)
	return b
}

func (b *SettingsBox) Load() Settings {
	if s := b.p.Load(); s != nil {
		return *s
	}
	return DefaultSettings()
}

func (b *SettingsBox) Store(s Settings) {
	if s.MinRatingDiff < 0 {
		s.MinRatingDiff = 0
	}
	if s.LongGoneHorizon <= 0 {
		s.LongGoneHorizon = DefaultLongGoneHorizon
	}
	b.p.Store(&s)
}
