package mission

import (
	"time"
)

// Mission types, as drawn on the map.
const (
	TypeStart    = "start"
	TypeExercise = "exercise"
	TypeReward   = "reward"
	TypeBoss     = "boss"
)

// Mission is a catalog entry. Position defines a strict total order across the catalog.
type Mission struct {
	ID           string `json:"id" db:"id"`
	Title        string `json:"title" db:"title"`
	Description  string `json:"description" db:"description"`
	Type         string `json:"type" db:"type"`
	ExerciseType string `json:"exercise_type,omitempty" db:"exercise_type"`
	Position     int    `json:"position" db:"position"`
	GemReward    int    `json:"gem_reward" db:"gem_reward"`
}

// State is a user's progress on one mission. Completed implies Unlocked.
type State struct {
	UserID      string     `json:"user_id"`
	MissionID   string     `json:"mission_id"`
	Unlocked    bool       `json:"unlocked"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"` // UTC
}

// Result is the append-only record of one completion and the gems it granted.
type Result struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	MissionID       string    `json:"mission_id"`
	GemsEarned      int       `json:"gems_earned"`
	DurationSeconds *int      `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	Mission         *Mission  `json:"mission,omitempty"`
}

// MapEntry is a catalog Mission merged with a user's State.
type MapEntry struct {
	Mission
	Unlocked    bool       `json:"unlocked"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Outcome is what a completed mission yields.
type Outcome struct {
	Mission    Mission  `json:"mission"`
	GemsEarned int      `json:"gems_earned"`
	Balance    int      `json:"balance"`
	Unlocked   *Mission `json:"unlocked"` // nil at the end of the catalog
	Result     Result   `json:"result"`
}

// Progress summarizes a user's states against the catalog.
type Progress struct {
	CompletedMissions int        `json:"completed_missions"`
	TotalMissions     int        `json:"total_missions"`
	CompletionRate    float64    `json:"completion_rate"` // percentage
	LastActivity      *time.Time `json:"last_activity"`
}

// DayActivity counts completions on a weekday.
type DayActivity struct {
	Day     string `json:"day"`
	Results int    `json:"results"`
}

// NewMission contains information needed to create or replace a catalog entry.
type NewMission struct {
	Title        string `json:"title" toml:"title" yaml:"title" validate:"required,notblank"`
	Description  string `json:"description" toml:"description" yaml:"description"`
	Type         string `json:"type" toml:"type" yaml:"type" validate:"omitempty,oneof=start exercise reward boss"`
	ExerciseType string `json:"exercise_type" toml:"exercise_type" yaml:"exercise_type"`
	Position     int    `json:"position" toml:"position" yaml:"position" validate:"min=1"`
	GemReward    int    `json:"gem_reward" toml:"gem_reward" yaml:"gem_reward" validate:"min=0"`
}

// Catalog is the document an admin seeds missions from.
type Catalog struct {
	Missions []NewMission `json:"missions" toml:"missions" yaml:"missions" validate:"dive"`
}
