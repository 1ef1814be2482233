package provider

import (
	"context"
	"fmt"

	"chgkbot/internal/cache"
	"chgkbot/internal/domain"
)

// Source is the set of calls the trackers need from the rating site.
type Source interface {
	FetchTeamInfo(ctx context.Context, teamID int64) (domain.Team, error)
	FetchTeamRating(ctx context.Context, teamID int64) (domain.Rating, error)
	FetchTournamentsForTeam(ctx context.Context, teamID int64) ([]int64, error)
	FetchTournamentInfo(ctx context.Context, tournamentID int64) (domain.TournamentInfo, error)
	FetchCitySnapshot(ctx context.Context, cityID int64) (domain.CitySnapshot, error)
	FetchEditors(ctx context.Context, tournamentID int64) ([]string, error)
	StatusURL(tournamentID int64, status domain.TournamentStatus) string
}

// Cached memoizes a Source through the cache layer: per-cycle data in the
// short tier, editor lists in the long tier.
type Cached struct {
	src   Source
	layer *cache.Layer
}

func NewCached(src Source, layer *cache.Layer) *Cached {
	return &Cached{src: src, layer: layer}
}

func key(kind string, id int64) string { return fmt.Sprintf("provider:%s:%d", kind, id) }

func (c *Cached) FetchTeamInfo(ctx context.Context, teamID int64) (domain.Team, error) {
	return cache.Load(ctx, c.layer.Short, key("team", teamID), func(ctx context.Context) (domain.Team, error) {
		return c.src.FetchTeamInfo(ctx, teamID)
	})
}

func (c *Cached) FetchTeamRating(ctx context.Context, teamID int64) (domain.Rating, error) {
	return cache.Load(ctx, c.layer.Short, key("rating", teamID), func(ctx context.Context) (domain.Rating, error) {
		return c.src.FetchTeamRating(ctx, teamID)
	})
}

func (c *Cached) FetchTournamentsForTeam(ctx context.Context, teamID int64) ([]int64, error) {
	return cache.Load(ctx, c.layer.Short, key("tournaments", teamID), func(ctx context.Context) ([]int64, error) {
		return c.src.FetchTournamentsForTeam(ctx, teamID)
	})
}

func (c *Cached) FetchTournamentInfo(ctx context.Context, tournamentID int64) (domain.TournamentInfo, error) {
	return cache.Load(ctx, c.layer.Short, key("tournament", tournamentID), func(ctx context.Context) (domain.TournamentInfo, error) {
		return c.src.FetchTournamentInfo(ctx, tournamentID)
	})
}

func (c *Cached) FetchCitySnapshot(ctx context.Context, cityID int64) (domain.CitySnapshot, error) {
	return cache.Load(ctx, c.layer.Short, key("city", cityID), func(ctx context.Context) (domain.CitySnapshot, error) {
		return c.src.FetchCitySnapshot(ctx, cityID)
	})
}

func (c *Cached) FetchEditors(ctx context.Context, tournamentID int64) ([]string, error) {
	return cache.Load(ctx, c.layer.Long, key("editors", tournamentID), func(ctx context.Context) ([]string, error) {
		return c.src.FetchEditors(ctx, tournamentID)
	})
}

func (c *Cached) StatusURL(tournamentID int64, status domain.TournamentStatus) string {
	return c.src.StatusURL(tournamentID, status)
}

var (
	_ Source = (*Client)(nil)
	_ Source = (*Cached)(nil)
)
