// Package boiledrepos implements the roster repository with sqlboiler's query binder.
package boiledrepos

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/roster"
)

type linkRow struct {
	ID          string    `boil:"id"`
	TherapistID string    `boil:"therapist_id"`
	PatientID   string    `boil:"patient_id"`
	CreatedAt   null.Time `boil:"created_at"`
}

func (r linkRow) unboil() roster.Link {
	return roster.Link{
		ID:          r.ID,
		TherapistID: r.TherapistID,
		PatientID:   r.PatientID,
		CreatedAt:   r.CreatedAt.Time.UTC(),
	}
}

type patientStateRow struct {
	UserID      string    `boil:"user_id"`
	MissionID   string    `boil:"mission_id"`
	Unlocked    bool      `boil:"unlocked"`
	Completed   bool      `boil:"completed"`
	CompletedAt null.Time `boil:"completed_at"`
}

type rosterRepository struct {
	exec core.DBExecutor
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(exec core.DBExecutor) *rosterRepository {
	return &rosterRepository{exec: exec}
}

// CreateLink relies on the therapist_patient unique constraint: a duplicate inserts nothing.
func (repo rosterRepository) CreateLink(ctx context.Context, link roster.Link) (roster.Link, error) {
	var rows []linkRow
	err := queries.Raw(`INSERT INTO therapist_patient (therapist_id, patient_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT therapist_patient_unique DO NOTHING
		RETURNING id, therapist_id, patient_id, created_at`,
		link.TherapistID, link.PatientID, link.CreatedAt.UTC(),
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		return roster.Link{}, errors.Wrap(err, "inserting link")
	}
	if len(rows) == 0 {
		return roster.Link{}, roster.ErrAlreadyLinked
	}
	return rows[0].unboil(), nil
}

func (repo rosterRepository) GetLink(ctx context.Context, therapistID, patientID string) (roster.Link, error) {
	var rows []linkRow
	err := queries.Raw(`SELECT id, therapist_id, patient_id, created_at FROM therapist_patient
		WHERE therapist_id = $1 AND patient_id = $2`,
		therapistID, patientID,
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		return roster.Link{}, errors.Wrap(err, "getting link")
	}
	if len(rows) == 0 {
		return roster.Link{}, roster.ErrNotLinked
	}
	return rows[0].unboil(), nil
}

func (repo rosterRepository) DeleteLink(ctx context.Context, therapistID, patientID string) (int, error) {
	res, err := queries.Raw(`DELETE FROM therapist_patient WHERE therapist_id = $1 AND patient_id = $2`,
		therapistID, patientID,
	).ExecContext(ctx, repo.exec)
	if err != nil {
		return 0, errors.Wrap(err, "deleting link")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting link")
}

func (repo rosterRepository) QueryLinks(ctx context.Context, therapistID string) ([]roster.Link, error) {
	var rows []linkRow
	err := queries.Raw(`SELECT id, therapist_id, patient_id, created_at FROM therapist_patient
		WHERE therapist_id = $1 ORDER BY created_at, id`,
		therapistID,
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying links")
	}
	links := make([]roster.Link, 0, len(rows))
	for _, r := range rows {
		links = append(links, r.unboil())
	}
	return links, nil
}

// QueryPatientStates loads the states of all patients in one round trip.
func (repo rosterRepository) QueryPatientStates(ctx context.Context, patientIDs ...string) (map[string][]mission.State, error) {
	states := make(map[string][]mission.State, len(patientIDs))
	if len(patientIDs) == 0 {
		return states, nil
	}

	var rows []patientStateRow
	err := queries.Raw(`SELECT user_id, mission_id, unlocked, completed, completed_at FROM user_mission
		WHERE user_id = ANY($1::uuid[])`,
		pq.Array(patientIDs),
	).Bind(ctx, repo.exec, &rows)
	if err != nil && errors.Cause(err) != sql.ErrNoRows {
		return nil, errors.Wrap(err, "querying patient states")
	}

	for _, r := range rows {
		st := mission.State{
			UserID:    r.UserID,
			MissionID: r.MissionID,
			Unlocked:  r.Unlocked,
			Completed: r.Completed,
		}
		if r.CompletedAt.Valid {
			at := r.CompletedAt.Time.UTC()
			st.CompletedAt = &at
		}
		states[r.UserID] = append(states[r.UserID], st)
	}
	return states, nil
}
