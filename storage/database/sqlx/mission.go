package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
)

const missionColumns = "id, title, description, type, exercise_type, position, gem_reward"

type stateRow struct {
	UserID      string    `db:"user_id"`
	MissionID   string    `db:"mission_id"`
	Unlocked    bool      `db:"unlocked"`
	Completed   bool      `db:"completed"`
	CompletedAt null.Time `db:"completed_at"`
}

func (r stateRow) state() mission.State {
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
	return st
}

type resultRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	MissionID       string    `db:"mission_id"`
	GemsEarned      int       `db:"gems_earned"`
	DurationSeconds null.Int  `db:"duration_seconds"`
	CreatedAt       time.Time `db:"created_at"`

	Title        null.String `db:"title"`
	Description  null.String `db:"description"`
	Type         null.String `db:"type"`
	ExerciseType null.String `db:"exercise_type"`
	Position     null.Int    `db:"position"`
	GemReward    null.Int    `db:"gem_reward"`
}

func (r resultRow) result() mission.Result {
	res := mission.Result{
		ID:              r.ID,
		UserID:          r.UserID,
		MissionID:       r.MissionID,
		GemsEarned:      r.GemsEarned,
		DurationSeconds: r.DurationSeconds.Ptr(),
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.Position.Valid {
		res.Mission = &mission.Mission{
			ID:           r.MissionID,
			Title:        r.Title.String,
			Description:  r.Description.String,
			Type:         r.Type.String,
			ExerciseType: r.ExerciseType.String,
			Position:     r.Position.Int,
			GemReward:    r.GemReward.Int,
		}
	}
	return res
}

// MissionRepository stores the catalog, per-user states, results and gem balances.
type MissionRepository struct {
	db   *sqlx.DB
	exec executor
}

var _ mission.Repository = (*MissionRepository)(nil) // interface compliance check

func NewMissionRepository(db *sqlx.DB) *MissionRepository {
	return &MissionRepository{db: db, exec: db}
}

func (repo *MissionRepository) WithinTx(ctx context.Context, fn func(mission.Repository) error) error {
	if _, ok := repo.exec.(*sqlx.Tx); ok {
		return fn(repo) // already in a transaction
	}
	return withinTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		return fn(&MissionRepository{db: repo.db, exec: tx})
	})
}

func (repo *MissionRepository) QueryMissions(ctx context.Context) ([]mission.Mission, error) {
	missions := make([]mission.Mission, 0)
	q := "SELECT " + missionColumns + " FROM mission ORDER BY position"
	if err := sqlx.SelectContext(ctx, repo.exec, &missions, q); err != nil {
		return nil, errors.Wrap(err, "querying missions")
	}
	return missions, nil
}

func (repo *MissionRepository) getMission(ctx context.Context, where string, arg interface{}) (mission.Mission, error) {
	var m mission.Mission
	q := "SELECT " + missionColumns + " FROM mission WHERE " + where
	if err := sqlx.GetContext(ctx, repo.exec, &m, q, arg); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return mission.Mission{}, mission.ErrMissionNotFound
		}
		return mission.Mission{}, errors.Wrap(err, "getting mission")
	}
	return m, nil
}

func (repo *MissionRepository) GetMission(ctx context.Context, id string) (mission.Mission, error) {
	return repo.getMission(ctx, "id = $1", id)
}

func (repo *MissionRepository) GetMissionByPosition(ctx context.Context, pos int) (mission.Mission, error) {
	return repo.getMission(ctx, "position = $1", pos)
}

// UpsertMissions replaces the missions holding the same positions; missions keep their ids.
func (repo *MissionRepository) UpsertMissions(ctx context.Context, missions []mission.Mission) ([]mission.Mission, error) {
	q := `INSERT INTO mission (title, description, type, exercise_type, position, gem_reward)
		VALUES (:title, :description, :type, :exercise_type, :position, :gem_reward)
		ON CONFLICT (position) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			exercise_type = EXCLUDED.exercise_type,
			gem_reward = EXCLUDED.gem_reward
		RETURNING ` + missionColumns

	saved := make([]mission.Mission, 0, len(missions))
	for _, m := range missions {
		query, args, err := sqlx.Named(q, m)
		if err != nil {
			return nil, errors.Wrap(err, "binding mission")
		}
		var s mission.Mission
		if err = sqlx.GetContext(ctx, repo.exec, &s, repo.exec.Rebind(query), args...); err != nil {
			return nil, errors.Wrapf(err, "upserting mission %d", m.Position)
		}
		saved = append(saved, s)
	}
	return saved, nil
}

func (repo *MissionRepository) QueryStates(ctx context.Context, userID string) ([]mission.State, error) {
	var rows []stateRow
	q := `SELECT user_id, mission_id, unlocked, completed, completed_at
		FROM user_mission WHERE user_id = $1`
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying states")
	}
	states := make([]mission.State, 0, len(rows))
	for _, r := range rows {
		states = append(states, r.state())
	}
	return states, nil
}

func (repo *MissionRepository) InsertState(ctx context.Context, st mission.State) error {
	var completedAt null.Time
	if st.CompletedAt != nil {
		completedAt = null.TimeFrom(st.CompletedAt.UTC())
	}
	q := `INSERT INTO user_mission (user_id, mission_id, unlocked, completed, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, mission_id) DO NOTHING`
	_, err := repo.exec.ExecContext(ctx, q, st.UserID, st.MissionID, st.Unlocked, st.Completed, completedAt)
	return errors.Wrap(err, "inserting state")
}

func (repo *MissionRepository) CompleteState(ctx context.Context, userID, missionID string, at time.Time) (int64, error) {
	q := `UPDATE user_mission SET completed = true, completed_at = $3
		WHERE user_id = $1 AND mission_id = $2 AND unlocked AND NOT completed`
	res, err := repo.exec.ExecContext(ctx, q, userID, missionID, at.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "completing state")
	}
	return res.RowsAffected()
}

func (repo *MissionRepository) UnlockState(ctx context.Context, userID, missionID string) error {
	q := `INSERT INTO user_mission (user_id, mission_id, unlocked) VALUES ($1, $2, true)
		ON CONFLICT (user_id, mission_id) DO UPDATE SET unlocked = true`
	_, err := repo.exec.ExecContext(ctx, q, userID, missionID)
	return errors.Wrap(err, "unlocking state")
}

func (repo *MissionRepository) CreditGems(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	q := `UPDATE "user" SET gems = gems + $2 WHERE id = $1 RETURNING gems`
	if err := sqlx.GetContext(ctx, repo.exec, &balance, q, userID, amount); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return 0, user.ErrNotFound
		}
		return 0, errors.Wrap(err, "crediting gems")
	}
	return balance, nil
}

func (repo *MissionRepository) AppendResult(ctx context.Context, res mission.Result) (mission.Result, error) {
	var dur null.Int
	if res.DurationSeconds != nil {
		dur = null.IntFrom(*res.DurationSeconds)
	}
	q := `INSERT INTO result (user_id, mission_id, gems_earned, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, mission_id, gems_earned, duration_seconds, created_at`

	var row resultRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, res.UserID, res.MissionID, res.GemsEarned, dur, res.CreatedAt.UTC()); err != nil {
		return mission.Result{}, errors.Wrap(err, "appending result")
	}
	return row.result(), nil
}

const resultSelect = `SELECT r.id, r.user_id, r.mission_id, r.gems_earned, r.duration_seconds, r.created_at,
		m.title, m.description, m.type, m.exercise_type, m.position, m.gem_reward
	FROM result r LEFT JOIN mission m ON m.id = r.mission_id`

func (repo *MissionRepository) queryResults(ctx context.Context, q string, args ...interface{}) ([]mission.Result, error) {
	var rows []resultRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	results := make([]mission.Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.result())
	}
	return results, nil
}

func (repo *MissionRepository) QueryResults(ctx context.Context, userID string, limit int) ([]mission.Result, error) {
	q := resultSelect + " WHERE r.user_id = $1 ORDER BY r.created_at DESC LIMIT $2"
	return repo.queryResults(ctx, q, userID, limit)
}

func (repo *MissionRepository) QueryResultsSince(ctx context.Context, userID string, since time.Time) ([]mission.Result, error) {
	q := resultSelect + " WHERE r.user_id = $1 AND r.created_at >= $2 ORDER BY r.created_at DESC"
	return repo.queryResults(ctx, q, userID, since.UTC())
}
