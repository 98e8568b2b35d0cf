package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/roster"
)

type rosterRepository struct {
	db *DB
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func (repo *rosterRepository) CreateLink(_ context.Context, link roster.Link) (roster.Link, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	k := linkKey{link.TherapistID, link.PatientID}
	if _, ok := repo.db.links[k]; ok {
		return roster.Link{}, roster.ErrAlreadyLinked
	}
	link.ID = uuid.New().String()
	link.CreatedAt = link.CreatedAt.UTC()
	repo.db.links[k] = link
	return link, nil
}

func (repo *rosterRepository) GetLink(_ context.Context, therapistID, patientID string) (roster.Link, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if link, ok := repo.db.links[linkKey{therapistID, patientID}]; ok {
		return link, nil
	}
	return roster.Link{}, roster.ErrNotLinked
}

func (repo *rosterRepository) DeleteLink(_ context.Context, therapistID, patientID string) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	k := linkKey{therapistID, patientID}
	if _, ok := repo.db.links[k]; !ok {
		return 0, nil
	}
	delete(repo.db.links, k)
	return 1, nil
}

func (repo *rosterRepository) QueryLinks(_ context.Context, therapistID string) ([]roster.Link, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	links := make([]roster.Link, 0)
	for k, link := range repo.db.links {
		if k.therapistID == therapistID {
			links = append(links, link)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID < links[j].ID
		}
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	return links, nil
}

func (repo *rosterRepository) QueryPatientStates(_ context.Context, patientIDs ...string) (map[string][]mission.State, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	wanted := make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		wanted[id] = true
	}
	states := make(map[string][]mission.State, len(patientIDs))
	for k, st := range repo.db.states {
		if wanted[k.userID] {
			states[k.userID] = append(states[k.userID], st)
		}
	}
	return states, nil
}
