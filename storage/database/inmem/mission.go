package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
)

type missionRepository struct {
	db   *DB
	inTx bool // the DB lock is already held
}

var _ mission.Repository = (*missionRepository)(nil) // interface compliance check

func NewMissionRepository(db *DB) *missionRepository {
	return &missionRepository{db: db}
}

func (repo *missionRepository) lock() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.mu.Lock()
	return repo.db.mu.Unlock
}

func (repo *missionRepository) rlock() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.mu.RLock()
	return repo.db.mu.RUnlock
}

// WithinTx holds the DB lock while fn runs and restores the ledger tables if fn fails.
func (repo *missionRepository) WithinTx(_ context.Context, fn func(mission.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}

	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	snap := repo.db.snapshot()
	if err := fn(&missionRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.restore(snap)
		return err
	}
	return nil
}

func (repo *missionRepository) catalog() []mission.Mission {
	missions := make([]mission.Mission, 0, len(repo.db.missions))
	for _, m := range repo.db.missions {
		missions = append(missions, m)
	}
	sort.Slice(missions, func(i, j int) bool { return missions[i].Position < missions[j].Position })
	return missions
}

func (repo *missionRepository) QueryMissions(_ context.Context) ([]mission.Mission, error) {
	defer repo.rlock()()
	return repo.catalog(), nil
}

func (repo *missionRepository) GetMission(_ context.Context, id string) (mission.Mission, error) {
	defer repo.rlock()()
	if m, ok := repo.db.missions[id]; ok {
		return m, nil
	}
	return mission.Mission{}, mission.ErrMissionNotFound
}

func (repo *missionRepository) GetMissionByPosition(_ context.Context, pos int) (mission.Mission, error) {
	defer repo.rlock()()
	for _, m := range repo.db.missions {
		if m.Position == pos {
			return m, nil
		}
	}
	return mission.Mission{}, mission.ErrMissionNotFound
}

func (repo *missionRepository) UpsertMissions(_ context.Context, missions []mission.Mission) ([]mission.Mission, error) {
	defer repo.lock()()

	byPos := make(map[int]string, len(repo.db.missions))
	for id, m := range repo.db.missions {
		byPos[m.Position] = id
	}

	saved := make([]mission.Mission, 0, len(missions))
	for _, m := range missions {
		if id, ok := byPos[m.Position]; ok {
			m.ID = id
		} else {
			m.ID = uuid.New().String()
			byPos[m.Position] = m.ID
		}
		repo.db.missions[m.ID] = m
		saved = append(saved, m)
	}
	return saved, nil
}

func (repo *missionRepository) QueryStates(_ context.Context, userID string) ([]mission.State, error) {
	defer repo.rlock()()
	states := make([]mission.State, 0)
	for k, st := range repo.db.states {
		if k.userID == userID {
			states = append(states, st)
		}
	}
	return states, nil
}

func (repo *missionRepository) InsertState(_ context.Context, st mission.State) error {
	defer repo.lock()()
	k := stateKey{st.UserID, st.MissionID}
	if _, ok := repo.db.states[k]; !ok {
		repo.db.states[k] = st
	}
	return nil
}

func (repo *missionRepository) CompleteState(_ context.Context, userID, missionID string, at time.Time) (int64, error) {
	defer repo.lock()()
	k := stateKey{userID, missionID}
	st, ok := repo.db.states[k]
	if !ok || !st.Unlocked || st.Completed {
		return 0, nil
	}
	at = at.UTC()
	st.Completed = true
	st.CompletedAt = &at
	repo.db.states[k] = st
	return 1, nil
}

func (repo *missionRepository) UnlockState(_ context.Context, userID, missionID string) error {
	defer repo.lock()()
	k := stateKey{userID, missionID}
	st, ok := repo.db.states[k]
	if !ok {
		st = mission.State{UserID: userID, MissionID: missionID}
	}
	st.Unlocked = true
	repo.db.states[k] = st
	return nil
}

func (repo *missionRepository) CreditGems(_ context.Context, userID string, amount int) (int, error) {
	defer repo.lock()()
	usr, ok := repo.db.users[userID]
	if !ok {
		return 0, user.ErrNotFound
	}
	usr.Gems += amount
	return usr.Gems, nil
}

func (repo *missionRepository) AppendResult(_ context.Context, res mission.Result) (mission.Result, error) {
	defer repo.lock()()
	res.ID = uuid.New().String()
	res.CreatedAt = res.CreatedAt.UTC()
	res.Mission = nil
	repo.db.results = append(repo.db.results, res)
	return res, nil
}

func (repo *missionRepository) withMission(res mission.Result) mission.Result {
	if m, ok := repo.db.missions[res.MissionID]; ok {
		res.Mission = &m
	}
	return res
}

func (repo *missionRepository) QueryResults(_ context.Context, userID string, limit int) ([]mission.Result, error) {
	defer repo.rlock()()
	results := make([]mission.Result, 0, limit)
	for i := len(repo.db.results) - 1; i >= 0 && len(results) < limit; i-- {
		if res := repo.db.results[i]; res.UserID == userID {
			results = append(results, repo.withMission(res))
		}
	}
	return results, nil
}

func (repo *missionRepository) QueryResultsSince(_ context.Context, userID string, since time.Time) ([]mission.Result, error) {
	defer repo.rlock()()
	results := make([]mission.Result, 0)
	for i := len(repo.db.results) - 1; i >= 0; i-- {
		res := repo.db.results[i]
		if res.UserID == userID && !res.CreatedAt.Before(since) {
			results = append(results, repo.withMission(res))
		}
	}
	return results, nil
}
