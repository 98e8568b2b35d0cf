// Package inmemdb keeps every table in memory. It backs unit and handler tests.
package inmemdb

import (
	"sync"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/roster"
	"github.com/trezcool/rehabquest/core/user"
)

type (
	stateKey struct{ userID, missionID string }
	linkKey  struct{ therapistID, patientID string }

	// DB guards all tables with a single mutex, so a transaction spanning tables is atomic.
	DB struct {
		mu       sync.RWMutex
		users    map[string]*user.User
		missions map[string]mission.Mission
		states   map[stateKey]mission.State
		results  []mission.Result
		links    map[linkKey]roster.Link
	}
)

func Open() *DB {
	return &DB{
		users:    make(map[string]*user.User),
		missions: make(map[string]mission.Mission),
		states:   make(map[stateKey]mission.State),
		links:    make(map[linkKey]roster.Link),
	}
}

// snapshot holds what a ledger transaction may change.
type snapshot struct {
	missions map[string]mission.Mission
	states   map[stateKey]mission.State
	results  []mission.Result
	gems     map[string]int
}

func (db *DB) snapshot() snapshot {
	s := snapshot{
		missions: make(map[string]mission.Mission, len(db.missions)),
		states:   make(map[stateKey]mission.State, len(db.states)),
		results:  make([]mission.Result, len(db.results)),
		gems:     make(map[string]int, len(db.users)),
	}
	for k, v := range db.missions {
		s.missions[k] = v
	}
	for k, v := range db.states {
		s.states[k] = v
	}
	copy(s.results, db.results)
	for id, u := range db.users {
		s.gems[id] = u.Gems
	}
	return s
}

func (db *DB) restore(s snapshot) {
	db.missions = s.missions
	db.states = s.states
	db.results = s.results
	for id, gems := range s.gems {
		if u, ok := db.users[id]; ok {
			u.Gems = gems
		}
	}
}
