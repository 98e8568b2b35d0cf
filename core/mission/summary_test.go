package mission_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rehabquest/core/mission"
)

func TestSummarize(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(48 * time.Hour)

	catalog := []mission.Mission{
		{ID: "m1", Position: 1},
		{ID: "m2", Position: 2},
		{ID: "m3", Position: 3},
		{ID: "m4", Position: 4},
	}
	done := func(id string, at time.Time) mission.State {
		return mission.State{MissionID: id, Unlocked: true, Completed: true, CompletedAt: &at}
	}
	open := func(id string) mission.State {
		return mission.State{MissionID: id, Unlocked: true}
	}

	tests := []struct {
		name    string
		states  []mission.State
		catalog []mission.Mission
		want    mission.Progress
	}{
		{
			name: "empty catalog",
			want: mission.Progress{},
		},
		{
			name:    "empty catalog with orphan states",
			states:  []mission.State{done("m1", t1)},
			catalog: nil,
			want:    mission.Progress{},
		},
		{
			name:    "no states",
			catalog: catalog,
			want:    mission.Progress{TotalMissions: 4},
		},
		{
			name:    "unlocked only",
			states:  []mission.State{open("m1")},
			catalog: catalog,
			want:    mission.Progress{TotalMissions: 4},
		},
		{
			name:    "half way",
			states:  []mission.State{done("m1", t1), done("m2", t2), open("m3")},
			catalog: catalog,
			want:    mission.Progress{CompletedMissions: 2, TotalMissions: 4, CompletionRate: 50, LastActivity: &t2},
		},
		{
			name:    "order insensitive",
			states:  []mission.State{open("m3"), done("m2", t2), done("m1", t1)},
			catalog: catalog,
			want:    mission.Progress{CompletedMissions: 2, TotalMissions: 4, CompletionRate: 50, LastActivity: &t2},
		},
		{
			name:    "mission left the catalog",
			states:  []mission.State{done("m1", t1), done("gone", t2)},
			catalog: catalog,
			want:    mission.Progress{CompletedMissions: 1, TotalMissions: 4, CompletionRate: 25, LastActivity: &t1},
		},
		{
			name:    "all completed",
			states:  []mission.State{done("m1", t1), done("m2", t1), done("m3", t1), done("m4", t2)},
			catalog: catalog,
			want:    mission.Progress{CompletedMissions: 4, TotalMissions: 4, CompletionRate: 100, LastActivity: &t2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mission.Summarize(tt.states, tt.catalog))
		})
	}
}

func TestMerge(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	catalog := []mission.Mission{
		{ID: "m2", Position: 2},
		{ID: "m1", Position: 1},
		{ID: "m3", Position: 3},
	}
	states := []mission.State{
		{MissionID: "m1", Unlocked: true, Completed: true, CompletedAt: &at},
		{MissionID: "m2", Unlocked: true},
	}

	entries := mission.Merge(catalog, states)
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "m1", entries[0].ID)
		assert.True(t, entries[0].Completed)
		assert.Equal(t, &at, entries[0].CompletedAt)

		assert.Equal(t, "m2", entries[1].ID)
		assert.True(t, entries[1].Unlocked)
		assert.False(t, entries[1].Completed)

		assert.Equal(t, "m3", entries[2].ID)
		assert.False(t, entries[2].Unlocked, "missing state is locked")
	}
}

func TestWeeklyActivity(t *testing.T) {
	now := time.Date(2026, 3, 7, 18, 0, 0, 0, time.UTC) // Saturday
	res := func(at time.Time) mission.Result { return mission.Result{CreatedAt: at} }

	results := []mission.Result{
		res(now.Add(-1 * time.Hour)),       // Sat
		res(now.Add(-2 * time.Hour)),       // Sat
		res(now.AddDate(0, 0, -1)),         // Fri
		res(now.AddDate(0, 0, -6)),         // Sun
		res(now.AddDate(0, 0, -8)),         // too old
		res(now.Add(1 * time.Hour)),        // in the future
		res(now.AddDate(0, 0, -7).Add(-1)), // just outside the window
	}

	got := mission.WeeklyActivity(results, now)
	want := []mission.DayActivity{
		{Day: "Sun", Results: 1},
		{Day: "Mon", Results: 0},
		{Day: "Tue", Results: 0},
		{Day: "Wed", Results: 0},
		{Day: "Thu", Results: 0},
		{Day: "Fri", Results: 1},
		{Day: "Sat", Results: 2},
	}
	assert.Equal(t, want, got)
}
