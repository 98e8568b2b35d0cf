package mission

import (
	"sort"
	"time"
)

// Summarize computes a user's Progress from their states and the catalog.
// States of missions that are no longer in the catalog are ignored.
func Summarize(states []State, catalog []Mission) Progress {
	inCatalog := make(map[string]bool, len(catalog))
	for _, m := range catalog {
		inCatalog[m.ID] = true
	}

	p := Progress{TotalMissions: len(catalog)}
	for _, st := range states {
		if !st.Completed || !inCatalog[st.MissionID] {
			continue
		}
		p.CompletedMissions++
		if st.CompletedAt != nil && (p.LastActivity == nil || st.CompletedAt.After(*p.LastActivity)) {
			at := *st.CompletedAt
			p.LastActivity = &at
		}
	}
	if p.TotalMissions > 0 {
		p.CompletionRate = float64(p.CompletedMissions) / float64(p.TotalMissions) * 100
	}
	return p
}

// Merge returns the catalog ordered by position, each mission carrying the user's state.
// A mission without state is locked.
func Merge(catalog []Mission, states []State) []MapEntry {
	byMission := make(map[string]State, len(states))
	for _, st := range states {
		byMission[st.MissionID] = st
	}

	entries := make([]MapEntry, 0, len(catalog))
	for _, m := range catalog {
		st := byMission[m.ID]
		entries = append(entries, MapEntry{
			Mission:     m,
			Unlocked:    st.Unlocked,
			Completed:   st.Completed,
			CompletedAt: st.CompletedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries
}

// WeeklyActivity counts the results created in the 7 days before now, bucketed by weekday (Sunday first).
func WeeklyActivity(results []Result, now time.Time) []DayActivity {
	var counts [7]int
	since := now.AddDate(0, 0, -7)
	for _, res := range results {
		if res.CreatedAt.Before(since) || res.CreatedAt.After(now) {
			continue
		}
		counts[res.CreatedAt.Weekday()]++
	}

	days := make([]DayActivity, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days = append(days, DayActivity{Day: d.String()[:3], Results: counts[d]})
	}
	return days
}
