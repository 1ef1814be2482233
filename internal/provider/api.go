package provider

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

const (
	pathTeam            = "/api/teams/{id}.json"
	pathTeamRating      = "/api/teams/{id}/rating.json"
	pathTeamTournaments = "/api/teams/{id}/tournaments/last.json"
	pathTournament      = "/api/tournaments/{id}.json"
	pathResults         = "/api/tournaments/{id}/list.json"
	pathControversials  = "/api/tournaments/{id}/controversials.json"
	pathAppeals         = "/api/tournaments/{id}/appeals.json"
	pathEditors         = "/api/tournaments/{id}/editors.json"
	pathTown            = "/api/towns/{id}.json"
	pathSyncRequests    = "/api/towns/{id}/synch_requests.json"
)

func (c *Client) FetchTeamInfo(ctx context.Context, teamID int64) (domain.Team, error) {
	var rows []teamDTO
	if err := c.getJSON(ctx, idPath(pathTeam, teamID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return domain.Team{}, domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", teamID)
		}
		return domain.Team{}, err
	}
	if len(rows) == 0 {
		return domain.Team{}, domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", teamID)
	}
	t := rows[0]
	id := int64(t.ID)
	if id == 0 {
		id = teamID
	}
	return domain.Team{ID: id, Name: strings.TrimSpace(t.Name), Town: strings.TrimSpace(t.Town)}, nil
}

// FetchTeamRating returns the record of the latest release.
func (c *Client) FetchTeamRating(ctx context.Context, teamID int64) (domain.Rating, error) {
	var rows []ratingDTO
	if err := c.getJSON(ctx, idPath(pathTeamRating, teamID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return domain.Rating{}, domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", teamID)
		}
		return domain.Rating{}, err
	}
	if len(rows) == 0 {
		return domain.Rating{}, domain.UserError(domain.ErrRatingNotFound, "Рейтинг для команды #%d не найден", teamID)
	}
	last := rows[0]
	for _, r := range rows[1:] {
		if r.Release > last.Release {
			last = r
		}
	}
	return domain.Rating{
		Value:    int(last.Rating),
		Position: float64(last.Position),
		Release:  int(last.Release),
	}, nil
}

// FetchTournamentsForTeam returns the ids of the team's recent tournaments,
// de-duplicated, in the order the site lists them.
func (c *Client) FetchTournamentsForTeam(ctx context.Context, teamID int64) ([]int64, error) {
	var dto lastTournamentsDTO
	if err := c.getJSON(ctx, idPath(pathTeamTournaments, teamID), &dto); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[int64]struct{}, len(dto.Tournaments))
	out := make([]int64, 0, len(dto.Tournaments))
	for _, id := range dto.Tournaments {
		if id <= 0 {
			continue
		}
		if _, ok := seen[int64(id)]; ok {
			continue
		}
		seen[int64(id)] = struct{}{}
		out = append(out, int64(id))
	}
	return out, nil
}

// FetchTournamentInfo loads the tournament card and, once it has ended, the
// result and review signals that drive its status.
func (c *Client) FetchTournamentInfo(ctx context.Context, tournamentID int64) (domain.TournamentInfo, error) {
	var rows []tournamentDTO
	if err := c.getJSON(ctx, idPath(pathTournament, tournamentID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return domain.TournamentInfo{}, domain.UserError(domain.ErrNotFound, "Турнир #%d не найден", tournamentID)
		}
		return domain.TournamentInfo{}, err
	}
	if len(rows) == 0 {
		return domain.TournamentInfo{}, domain.UserError(domain.ErrNotFound, "Турнир #%d не найден", tournamentID)
	}
	t := rows[0]
	start, err := parseSiteTime(t.DateStart)
	if err != nil {
		return domain.TournamentInfo{}, errors.Mark(errors.Wrapf(err, "tournament %d start", tournamentID), domain.ErrProviderFetch)
	}
	end, err := parseSiteTime(t.DateEnd)
	if err != nil {
		return domain.TournamentInfo{}, errors.Mark(errors.Wrapf(err, "tournament %d end", tournamentID), domain.ErrProviderFetch)
	}

	sig := Signals{Now: c.now(), Start: start, End: end}
	if !sig.Now.Before(end) {
		if sig.ResultsOpen, err = c.resultsOpen(ctx, tournamentID); err != nil {
			return domain.TournamentInfo{}, err
		}
		if sig.ResultsOpen {
			if sig.Controversials, err = c.reviewSignal(ctx, pathControversials, tournamentID); err != nil {
				return domain.TournamentInfo{}, err
			}
			if sig.Appeals, err = c.reviewSignal(ctx, pathAppeals, tournamentID); err != nil {
				return domain.TournamentInfo{}, err
			}
		}
	}

	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = "Турнир #" + strconv.FormatInt(tournamentID, 10)
	}
	return domain.TournamentInfo{
		ID:       tournamentID,
		Name:     name,
		Kind:     tournamentKind(t.TypeName),
		Status:   ComputeStatus(sig),
		SinceEnd: sig.Now.Sub(end),
	}, nil
}

func (c *Client) resultsOpen(ctx context.Context, tournamentID int64) (bool, error) {
	var rows []resultDTO
	if err := c.getJSON(ctx, idPath(pathResults, tournamentID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return false, nil
		}
		return false, err
	}
	positions := make([]string, len(rows))
	for i, r := range rows {
		positions[i] = r.Position
	}
	return ResultsPublished(positions), nil
}

func (c *Client) reviewSignal(ctx context.Context, path string, tournamentID int64) (ReviewSignal, error) {
	var rows []reviewDTO
	if err := c.getJSON(ctx, idPath(path, tournamentID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return ReviewNone, nil
		}
		return ReviewNone, err
	}
	statuses := make([]string, len(rows))
	for i, r := range rows {
		statuses[i] = r.Status
	}
	return ReviewFromStatuses(statuses), nil
}

// FetchEditors returns editor names as "Name Surname".
func (c *Client) FetchEditors(ctx context.Context, tournamentID int64) ([]string, error) {
	var rows []editorDTO
	if err := c.getJSON(ctx, idPath(pathEditors, tournamentID), &rows); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, e := range rows {
		name := strings.Join(strings.Fields(e.Name+" "+e.Surname), " ")
		if name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// FetchCitySnapshot returns the city's name and its current sign-ups grouped
// by tournament, each group ordered by submission time.
func (c *Client) FetchCitySnapshot(ctx context.Context, cityID int64) (domain.CitySnapshot, error) {
	var towns []townDTO
	if err := c.getJSON(ctx, idPath(pathTown, cityID), &towns); err != nil {
		if errors.Is(err, errHTTPNotFound) {
			return domain.CitySnapshot{}, domain.UserError(domain.ErrNotFound, "Город #%d не найден", cityID)
		}
		return domain.CitySnapshot{}, err
	}
	if len(towns) == 0 {
		return domain.CitySnapshot{}, domain.UserError(domain.ErrNotFound, "Город #%d не найден", cityID)
	}

	var reqs []syncRequestDTO
	if err := c.getJSON(ctx, idPath(pathSyncRequests, cityID), &reqs); err != nil && !errors.Is(err, errHTTPNotFound) {
		return domain.CitySnapshot{}, err
	}

	snap := domain.CitySnapshot{
		CityID:       cityID,
		CityName:     strings.TrimSpace(towns[0].Name),
		Applications: make(map[int64][]domain.SyncApplication),
	}
	for _, r := range reqs {
		tid := int64(r.TournamentID)
		if tid <= 0 {
			continue
		}
		at, err := parseSiteTime(r.IssuedAt)
		if err != nil {
			c.log.Debug("sign-up without a valid time", logx.Int64("city_id", cityID), logx.Int64("tournament_id", tid), logx.Err(err))
		}
		snap.Applications[tid] = append(snap.Applications[tid], domain.SyncApplication{
			TournamentID:   tid,
			TournamentName: strings.TrimSpace(r.TournamentName),
			Delegate:       strings.TrimSpace(r.Representative),
			Leader:         strings.TrimSpace(r.Narrator),
			SubmittedAt:    at,
		})
	}
	for tid := range snap.Applications {
		apps := snap.Applications[tid]
		sort.SliceStable(apps, func(i, j int) bool { return apps[i].SubmittedAt.Before(apps[j].SubmittedAt) })
	}
	return snap, nil
}

// StatusURL links to the page where the given status can be seen. It is
// empty for statuses that are not reported.
func (c *Client) StatusURL(tournamentID int64, status domain.TournamentStatus) string {
	return StatusURL(c.baseURL, tournamentID, status)
}

func StatusURL(baseURL string, tournamentID int64, status domain.TournamentStatus) string {
	base := strings.TrimRight(baseURL, "/") + idPath("/tournament/{id}", tournamentID)
	switch status {
	case domain.StatusResultsOpen:
		return base
	case domain.StatusControversialsDone:
		return base + "/controversials"
	case domain.StatusAppealsDone:
		return base + "/appeals"
	default:
		return ""
	}
}

func tournamentKind(typeName string) domain.TournamentKind {
	t := strings.TrimSpace(typeName)
	if t == "Обычный" || strings.Contains(t, "Очн") {
		return domain.TournamentOnSite
	}
	return domain.TournamentRemote
}
