package tracker

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
)

type fakeProvider struct {
	mu          sync.Mutex
	ratings     map[int64]domain.Rating
	ratingErr   map[int64]error
	tournaments map[int64][]int64
	infos       map[int64]domain.TournamentInfo
	cities      map[int64]domain.CitySnapshot
	editors     map[int64][]string
	editorsErr  error
	infoCalls   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		ratings:     map[int64]domain.Rating{},
		ratingErr:   map[int64]error{},
		tournaments: map[int64][]int64{},
		infos:       map[int64]domain.TournamentInfo{},
		cities:      map[int64]domain.CitySnapshot{},
		editors:     map[int64][]string{},
	}
}

func (p *fakeProvider) FetchTeamRating(_ context.Context, teamID int64) (domain.Rating, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ratingErr[teamID]; err != nil {
		return domain.Rating{}, err
	}
	r, ok := p.ratings[teamID]
	if !ok {
		return domain.Rating{}, domain.UserError(domain.ErrRatingNotFound, "Рейтинг для команды #%d не найден", teamID)
	}
	return r, nil
}

func (p *fakeProvider) FetchTournamentsForTeam(_ context.Context, teamID int64) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids, ok := p.tournaments[teamID]
	if !ok {
		return nil, errors.Mark(errors.New("boom"), domain.ErrProviderFetch)
	}
	return ids, nil
}

func (p *fakeProvider) FetchTournamentInfo(_ context.Context, id int64) (domain.TournamentInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infoCalls++
	info, ok := p.infos[id]
	if !ok {
		return domain.TournamentInfo{}, domain.UserError(domain.ErrNotFound, "Турнир #%d не найден", id)
	}
	return info, nil
}

func (p *fakeProvider) FetchCitySnapshot(_ context.Context, cityID int64) (domain.CitySnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.cities[cityID]
	if !ok {
		return domain.CitySnapshot{}, domain.UserError(domain.ErrNotFound, "Город #%d не найден", cityID)
	}
	return s, nil
}

func (p *fakeProvider) FetchEditors(_ context.Context, id int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.editorsErr != nil {
		return nil, p.editorsErr
	}
	return p.editors[id], nil
}

func (p *fakeProvider) StatusURL(id int64, status domain.TournamentStatus) string {
	if !status.Important() {
		return ""
	}
	return "https://rating.example/tournament/" + strconv.FormatInt(id, 10)
}

type chatKey struct{ chat, id int64 }

type memStore struct {
	mu        sync.Mutex
	baselines map[chatKey]domain.Rating
	statuses  map[chatKey]domain.TournamentStatus
	writes    int
}

func newMemStore() *memStore {
	return &memStore{baselines: map[chatKey]domain.Rating{}, statuses: map[chatKey]domain.TournamentStatus{}}
}

func (s *memStore) GetRatingBaseline(_ context.Context, chatID, teamID int64) (domain.Rating, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.baselines[chatKey{chatID, teamID}]
	return r, ok, nil
}

func (s *memStore) SetRatingBaseline(_ context.Context, chatID, teamID int64, r domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.baselines[chatKey{chatID, teamID}] = r.Bare()
	return nil
}

func (s *memStore) GetTournamentStatus(_ context.Context, chatID, id int64) (domain.TournamentStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[chatKey{chatID, id}]
	return st, ok, nil
}

func (s *memStore) SetTournamentStatus(_ context.Context, chatID, id int64, status domain.TournamentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := chatKey{chatID, id}
	if cur, ok := s.statuses[k]; ok && cur >= status {
		return false, nil
	}
	s.statuses[k] = status
	return true, nil
}
