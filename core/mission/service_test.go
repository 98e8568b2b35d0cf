package mission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
	inmemdb "github.com/trezcool/rehabquest/storage/database/inmem"
	"github.com/trezcool/rehabquest/testutil"
)

type fixture struct {
	svc         *mission.Service
	missionRepo mission.Repository
	userRepo    user.Repository
}

func setup(t *testing.T) fixture {
	db := inmemdb.Open()
	missionRepo := inmemdb.NewMissionRepository(db)
	return fixture{
		svc:         mission.NewService(missionRepo, testutil.Logger(testutil.Config())),
		missionRepo: missionRepo,
		userRepo:    inmemdb.NewUserRepository(db),
	}
}

func (f fixture) gems(t *testing.T, userID string) int {
	usr, err := f.userRepo.GetUser(context.Background(), user.GetFilter{ID: userID})
	require.NoError(t, err)
	return usr.Gems
}

func (f fixture) state(t *testing.T, userID, missionID string) (mission.State, bool) {
	states, err := f.missionRepo.QueryStates(context.Background(), userID)
	require.NoError(t, err)
	for _, st := range states {
		if st.MissionID == missionID {
			return st, true
		}
	}
	return mission.State{}, false
}

func (f fixture) assertCompletedImpliesUnlocked(t *testing.T, userID string) {
	states, err := f.missionRepo.QueryStates(context.Background(), userID)
	require.NoError(t, err)
	for _, st := range states {
		if st.Completed {
			assert.True(t, st.Unlocked, "completed mission %s must be unlocked", st.MissionID)
			assert.NotNil(t, st.CompletedAt)
		}
	}
}

func TestService_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("empty catalog", func(t *testing.T) {
		f := setup(t)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		require.NoError(t, f.svc.Initialize(ctx, patient.ID))
		states, err := f.svc.States(ctx, patient.ID)
		require.NoError(t, err)
		assert.Empty(t, states)

		p, err := f.svc.Progress(ctx, patient.ID)
		require.NoError(t, err)
		assert.Equal(t, mission.Progress{}, p)
	})

	t.Run("unlocks the first mission once", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20, 30)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		for i := 0; i < 3; i++ {
			require.NoError(t, f.svc.Initialize(ctx, patient.ID))
		}

		states, err := f.svc.States(ctx, patient.ID)
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Equal(t, mission.State{UserID: patient.ID, MissionID: missions[0].ID, Unlocked: true}, states[0])
	})

	t.Run("no-op when progress exists", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		require.NoError(t, f.svc.Initialize(ctx, patient.ID))
		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
		require.NoError(t, err)
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		st, ok := f.state(t, patient.ID, missions[0].ID)
		require.True(t, ok)
		assert.True(t, st.Completed, "Initialize must not reset a completed mission")
	})
}

func TestService_CompleteMission(t *testing.T) {
	ctx := context.Background()

	t.Run("first mission unlocks the second", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
		m1, m2 := missions[0], missions[1]
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		out, err := f.svc.CompleteMission(ctx, patient.ID, m1.ID, core.IntPtr(95))
		require.NoError(t, err)

		assert.Equal(t, m1, out.Mission)
		assert.Equal(t, 10, out.GemsEarned)
		assert.Equal(t, 10, out.Balance)
		if assert.NotNil(t, out.Unlocked) {
			assert.Equal(t, m2.ID, out.Unlocked.ID)
		}
		assert.Equal(t, 10, f.gems(t, patient.ID))

		st1, _ := f.state(t, patient.ID, m1.ID)
		assert.True(t, st1.Completed)
		st2, ok := f.state(t, patient.ID, m2.ID)
		require.True(t, ok)
		assert.True(t, st2.Unlocked)
		assert.False(t, st2.Completed)

		history, err := f.svc.History(ctx, patient.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, 10, history[0].GemsEarned)
		assert.Equal(t, core.IntPtr(95), history[0].DurationSeconds)
		if assert.NotNil(t, history[0].Mission) {
			assert.Equal(t, m1.Title, history[0].Mission.Title)
		}

		p, err := f.svc.Progress(ctx, patient.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.CompletedMissions)
		assert.Equal(t, 2, p.TotalMissions)
		assert.Equal(t, float64(50), p.CompletionRate)

		f.assertCompletedImpliesUnlocked(t, patient.ID)
	})

	t.Run("last mission credits but unlocks nothing", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 5, 15)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
		require.NoError(t, err)
		out, err := f.svc.CompleteMission(ctx, patient.ID, missions[1].ID, nil)
		require.NoError(t, err)

		assert.Nil(t, out.Unlocked)
		assert.Equal(t, 20, out.Balance)
		assert.Equal(t, 20, f.gems(t, patient.ID))

		history, err := f.svc.History(ctx, patient.ID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, missions[1].ID, history[0].MissionID, "latest result first")

		p, err := f.svc.Progress(ctx, patient.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(100), p.CompletionRate)
	})

	t.Run("second completion is a conflict", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
		require.NoError(t, err)
		_, err = f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
		assert.Equal(t, mission.ErrStateConflict, errors.Cause(err))
		assert.True(t, core.IsConflict(err))

		assert.Equal(t, 10, f.gems(t, patient.ID), "no double credit")
		history, err := f.svc.History(ctx, patient.ID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 1, "no second result")
	})

	t.Run("locked mission is a conflict", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20, 30)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[2].ID, nil)
		assert.Equal(t, mission.ErrStateConflict, errors.Cause(err))
		assert.Equal(t, 0, f.gems(t, patient.ID))
		_, ok := f.state(t, patient.ID, missions[2].ID)
		assert.False(t, ok)
	})

	t.Run("uninitialized user is a conflict", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
		assert.Equal(t, mission.ErrStateConflict, errors.Cause(err))
	})

	t.Run("unknown mission", func(t *testing.T) {
		f := setup(t)
		testutil.SeedMissions(t, f.missionRepo, 10)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		for _, id := range []string{"lol", "6c1e1c6b-8d3c-4f6e-9a0e-3d2b8a7f9e10"} {
			_, err := f.svc.CompleteMission(ctx, patient.ID, id, nil)
			assert.Equal(t, mission.ErrMissionNotFound, errors.Cause(err), id)
			assert.True(t, core.IsNotFound(err), id)
		}
		assert.Equal(t, 0, f.gems(t, patient.ID))
	})

	t.Run("negative duration", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, core.IntPtr(-1))
		_, ok := errors.Cause(err).(*core.ValidationError)
		assert.True(t, ok, "want a validation error, got %v", err)
		st, _ := f.state(t, patient.ID, missions[0].ID)
		assert.False(t, st.Completed)
	})

	t.Run("failure rolls back every step", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
		ghostID := "3f1c2a5e-0000-4000-8000-000000000000" // has a state but no account
		require.NoError(t, f.missionRepo.InsertState(ctx, mission.State{UserID: ghostID, MissionID: missions[0].ID, Unlocked: true}))

		_, err := f.svc.CompleteMission(ctx, ghostID, missions[0].ID, nil)
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))

		st, ok := f.state(t, ghostID, missions[0].ID)
		require.True(t, ok)
		assert.False(t, st.Completed, "state change must be rolled back")
		_, ok = f.state(t, ghostID, missions[1].ID)
		assert.False(t, ok, "successor must stay locked")
		history, err := f.svc.History(ctx, ghostID, 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("reward is read at completion time", func(t *testing.T) {
		f := setup(t)
		missions := testutil.SeedMissions(t, f.missionRepo, 10)
		patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
		require.NoError(t, f.svc.Initialize(ctx, patient.ID))

		m := missions[0]
		m.GemReward = 42
		_, err := f.missionRepo.UpsertMissions(ctx, []mission.Mission{m})
		require.NoError(t, err)

		out, err := f.svc.CompleteMission(ctx, patient.ID, m.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 42, out.GemsEarned)
	})
}

func TestService_CompleteMission_concurrent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	missions := testutil.SeedMissions(t, f.missionRepo, 10, 20)
	patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")
	require.NoError(t, f.svc.Initialize(ctx, patient.ID))

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Cause(err) == mission.ErrStateConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 10, f.gems(t, patient.ID))
	history, err := f.svc.History(ctx, patient.ID, attempts)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestService_Map(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	missions := testutil.SeedMissions(t, f.missionRepo, 10, 20, 30)
	patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

	// first access initializes
	entries, err := f.svc.Map(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Unlocked)
	assert.False(t, entries[1].Unlocked)
	assert.False(t, entries[2].Unlocked)

	_, err = f.svc.CompleteMission(ctx, patient.ID, missions[0].ID, nil)
	require.NoError(t, err)

	entries, err = f.svc.Map(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Completed)
	assert.True(t, entries[1].Unlocked)
	assert.False(t, entries[1].Completed)
	assert.False(t, entries[2].Unlocked)

	journey, err := f.svc.Journey(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, journey, 2)
	assert.Equal(t, missions[0].ID, journey[0].ID, "completed missions first")
	assert.Equal(t, missions[1].ID, journey[1].ID)
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	testutil.SeedMissions(t, f.missionRepo, 1)
	patient := testutil.CreatePatient(t, f.userRepo, "Pat", "pat@test.cd")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		_, err := f.missionRepo.AppendResult(ctx, mission.Result{
			UserID:     patient.ID,
			MissionID:  "m",
			GemsEarned: i,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		limit     int
		wantLen   int
		wantFirst int
	}{
		{name: "default limit", limit: 0, wantLen: mission.DefaultHistoryLimit, wantFirst: 11},
		{name: "custom limit", limit: 3, wantLen: 3, wantFirst: 11},
		{name: "limit above count", limit: 50, wantLen: 12, wantFirst: 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history, err := f.svc.History(ctx, patient.ID, tt.limit)
			require.NoError(t, err)
			require.Len(t, history, tt.wantLen)
			assert.Equal(t, tt.wantFirst, history[0].GemsEarned)
		})
	}

	weekly, err := f.svc.Weekly(ctx, patient.ID)
	require.NoError(t, err)
	var total int
	for _, d := range weekly {
		total += d.Results
	}
	assert.Equal(t, 12, total)
}

func TestService_SeedCatalog(t *testing.T) {
	ctx := context.Background()
	validate, _ := testutil.Validator()

	nm := func(title string, pos, reward int) mission.NewMission {
		return mission.NewMission{Title: title, Position: pos, GemReward: reward}
	}

	tests := []struct {
		name    string
		input   []mission.NewMission
		wantErr bool
		wantLen int
	}{
		{name: "valid", input: []mission.NewMission{nm("Start", 1, 0), nm("Stretch", 2, 10), nm("Walk", 3, 20)}, wantLen: 3},
		{name: "unordered input", input: []mission.NewMission{nm("Walk", 3, 20), nm("Start", 1, 0), nm("Stretch", 2, 10)}, wantLen: 3},
		{name: "blank title", input: []mission.NewMission{nm("  ", 1, 0)}, wantErr: true},
		{name: "negative reward", input: []mission.NewMission{nm("Start", 1, -5)}, wantErr: true},
		{name: "zero position", input: []mission.NewMission{nm("Start", 0, 5)}, wantErr: true},
		{name: "duplicate position", input: []mission.NewMission{nm("Start", 1, 0), nm("Again", 1, 0)}, wantErr: true},
		{name: "gap", input: []mission.NewMission{nm("Start", 1, 0), nm("Far", 3, 0)}, wantErr: true},
		{name: "unknown type", input: []mission.NewMission{{Title: "Start", Position: 1, Type: "lol"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			saved, err := f.svc.SeedCatalog(ctx, validate, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				catalog, cErr := f.svc.Catalog(ctx)
				require.NoError(t, cErr)
				assert.Empty(t, catalog)
				return
			}
			require.NoError(t, err)
			assert.Len(t, saved, tt.wantLen)

			catalog, err := f.svc.Catalog(ctx)
			require.NoError(t, err)
			for i, m := range catalog {
				assert.Equal(t, i+1, m.Position)
				assert.Equal(t, mission.TypeExercise, m.Type)
			}
		})
	}

	t.Run("reseeding keeps mission ids", func(t *testing.T) {
		f := setup(t)
		first, err := f.svc.SeedCatalog(ctx, validate, []mission.NewMission{nm("Start", 1, 0)})
		require.NoError(t, err)
		second, err := f.svc.SeedCatalog(ctx, validate, []mission.NewMission{nm("Begin", 1, 5)})
		require.NoError(t, err)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, "Begin", second[0].Title)
	})
}
