// Package providertest provides an in-memory provider.Source for tests.
package providertest

import (
	"context"
	"strconv"
	"sync"

	"chgkbot/internal/domain"
)

// Fake serves whatever the test put into it. Missing teams, tournaments and
// cities answer with the same not-found errors as the HTTP client.
type Fake struct {
	mu          sync.Mutex
	teams       map[int64]domain.Team
	ratings     map[int64]domain.Rating
	tournaments map[int64][]int64
	infos       map[int64]domain.TournamentInfo
	cities      map[int64]domain.CitySnapshot
	editors     map[int64][]string
	errs        map[string]error
	calls       map[string]int
}

func New() *Fake {
	return &Fake{
		teams:       map[int64]domain.Team{},
		ratings:     map[int64]domain.Rating{},
		tournaments: map[int64][]int64{},
		infos:       map[int64]domain.TournamentInfo{},
		cities:      map[int64]domain.CitySnapshot{},
		editors:     map[int64][]string{},
		errs:        map[string]error{},
		calls:       map[string]int{},
	}
}

func (f *Fake) SetTeam(t domain.Team, r domain.Rating) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[t.ID] = t
	f.ratings[t.ID] = r
}

func (f *Fake) SetRating(teamID int64, r domain.Rating) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[teamID] = r
}

func (f *Fake) SetTournaments(teamID int64, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tournaments[teamID] = ids
}

func (f *Fake) SetTournament(info domain.TournamentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[info.ID] = info
}

func (f *Fake) SetCity(s domain.CitySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cities[s.CityID] = s
}

func (f *Fake) SetEditors(tournamentID int64, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editors[tournamentID] = names
}

// Fail makes the named call ("rating:42", "city:3", ...) return err; a nil
// err clears it.
func (f *Fake) Fail(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, call)
		return
	}
	f.errs[call] = err
}

// Calls reports how many times the named call was made.
func (f *Fake) Calls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *Fake) enter(kind string, id int64) error {
	call := kind + ":" + strconv.FormatInt(id, 10)
	f.calls[call]++
	return f.errs[call]
}

func (f *Fake) FetchTeamInfo(_ context.Context, teamID int64) (domain.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("team", teamID); err != nil {
		return domain.Team{}, err
	}
	t, ok := f.teams[teamID]
	if !ok {
		return domain.Team{}, domain.UserError(domain.ErrNotFound, "Команда #%d не найдена", teamID)
	}
	return t, nil
}

func (f *Fake) FetchTeamRating(_ context.Context, teamID int64) (domain.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("rating", teamID); err != nil {
		return domain.Rating{}, err
	}
	r, ok := f.ratings[teamID]
	if !ok {
		return domain.Rating{}, domain.UserError(domain.ErrRatingNotFound, "Рейтинг для команды #%d не найден", teamID)
	}
	return r, nil
}

func (f *Fake) FetchTournamentsForTeam(_ context.Context, teamID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("tournaments", teamID); err != nil {
		return nil, err
	}
	return append([]int64(nil), f.tournaments[teamID]...), nil
}

func (f *Fake) FetchTournamentInfo(_ context.Context, id int64) (domain.TournamentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("tournament", id); err != nil {
		return domain.TournamentInfo{}, err
	}
	info, ok := f.infos[id]
	if !ok {
		return domain.TournamentInfo{}, domain.UserError(domain.ErrNotFound, "Турнир #%d не найден", id)
	}
	return info, nil
}

func (f *Fake) FetchCitySnapshot(_ context.Context, cityID int64) (domain.CitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("city", cityID); err != nil {
		return domain.CitySnapshot{}, err
	}
	s, ok := f.cities[cityID]
	if !ok {
		return domain.CitySnapshot{}, domain.UserError(domain.ErrNotFound, "Город #%d не найден", cityID)
	}
	return s, nil
}

func (f *Fake) FetchEditors(_ context.Context, id int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("editors", id); err != nil {
		return nil, err
	}
	return append([]string(nil), f.editors[id]...), nil
}

func (f *Fake) StatusURL(id int64, status domain.TournamentStatus) string {
	if !status.Important() {
		return ""
	}
	return "https://rating.example/tournament/" + strconv.FormatInt(id, 10)
}
