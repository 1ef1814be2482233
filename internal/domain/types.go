package domain

import "time"

type TeamSubscription struct {
	ChatID   int64  `db:"chat_id"`
	TeamID   int64  `db:"team_id"`
	TeamName string `db:"team_name"`
}

type CitySubscription struct {
	ChatID   int64  `db:"chat_id"`
	CityID   int64  `db:"city_id"`
	CityName string `db:"city_name"`
}

// Team is what the provider knows about a team.
type Team struct {
	ID   int64
	Name string
	Town string
}

// Rating is one published rating record, optionally carrying the difference
// against an earlier baseline.
type Rating struct {
	Value    int
	Position float64
	Release  int

	ValueDelta    *int
	PositionDelta *float64
}

// IsZero reports whether r is the implicit baseline of a never-rated team.
func (r Rating) IsZero() bool {
	return r.Value == 0 && r.Position == 0 && r.Release == 0
}

// Sub returns r annotated with its difference from old. The position delta
// is old-new, so a positive value means the team climbed.
func (r Rating) Sub(old Rating) Rating {
	dv := r.Value - old.Value
	dp := old.Position - r.Position
	out := r
	out.ValueDelta = &dv
	out.PositionDelta = &dp
	return out
}

// Bare strips the delta fields.
func (r Rating) Bare() Rating {
	return Rating{Value: r.Value, Position: r.Position, Release: r.Release}
}

type TournamentKind int

const (
	TournamentRemote TournamentKind = iota
	TournamentOnSite
)

func (k TournamentKind) String() string {
	if k == TournamentOnSite {
		return "on-site"
	}
	return "remote"
}

type TournamentInfo struct {
	ID     int64
	Name   string
	Kind   TournamentKind
	Status TournamentStatus
	// SinceEnd is the time elapsed since the scheduled end; negative before it.
	SinceEnd time.Duration
}

type SyncApplication struct {
	TournamentID   int64
	TournamentName string
	Delegate       string
	Leader         string
	SubmittedAt    time.Time
}

// CitySnapshot groups a city's current sign-ups by tournament.
type CitySnapshot struct {
	CityID       int64
	CityName     string
	Applications map[int64][]SyncApplication
}

// Count returns the number of sign-ups recorded for tournamentID.
func (s CitySnapshot) Count(tournamentID int64) int {
	return len(s.Applications[tournamentID])
}
