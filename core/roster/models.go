package roster

import (
	"time"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
)

// Link attaches a patient to a therapist's roster. A (therapist, patient) pair is unique.
type Link struct {
	ID          string    `json:"id"`
	TherapistID string    `json:"therapist_id"`
	PatientID   string    `json:"patient_id"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

// Patient is the public part of a patient's profile shown to their therapist.
type Patient struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Avatar       string `json:"avatar"`
	Availability string `json:"availability"`
	Gems         int    `json:"gems"`
}

func newPatient(usr user.User) Patient {
	return Patient{
		ID:           usr.ID,
		Name:         usr.Name,
		Email:        usr.Email,
		Avatar:       usr.Avatar,
		Availability: usr.Availability,
		Gems:         usr.Gems,
	}
}

// PatientProgress is one row of a therapist's roster.
type PatientProgress struct {
	Patient
	mission.Progress
	LinkedAt time.Time `json:"linked_at"`
}

// Stats aggregates a roster.
type Stats struct {
	TotalPatients     int `json:"total_patients"`
	ActiveThisWeek    int `json:"active_this_week"`
	AverageCompletion int `json:"average_completion"` // rounded percentage
	CompletedAll      int `json:"completed_all"`
	TotalGems         int `json:"total_gems"`
	AverageGems       int `json:"average_gems"`
}

type Overview struct {
	Patients []PatientProgress `json:"patients"`
	Stats    Stats             `json:"stats"`
}

// Details is everything a therapist sees about one of their patients.
type Details struct {
	Patient  Patient               `json:"patient"`
	Progress mission.Progress      `json:"progress"`
	Journey  []mission.MapEntry    `json:"journey"`
	History  []mission.Result      `json:"history"`
	Weekly   []mission.DayActivity `json:"weekly_activity"`
}

// NewLink is the payload a therapist sends to add a patient; Patient is an id or an email.
type NewLink struct {
	Patient string `json:"patient" validate:"required,notblank"`
}
