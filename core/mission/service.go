package mission

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/rehabquest/core"
)

var (
	// errors
	ErrMissionNotFound = core.NewNotFoundError("mission not found")
	ErrStateConflict   = core.NewConflictError("this mission is locked or already completed, please refresh and try again")
	ErrCatalogGap      = errors.New("mission positions must be unique and contiguous from 1")
)

const DefaultHistoryLimit = 10

type (
	Repository interface {
		// WithinTx runs fn against a Repository bound to a single store transaction.
		// The transaction is rolled back when fn returns an error.
		WithinTx(ctx context.Context, fn func(Repository) error) error

		QueryMissions(ctx context.Context) ([]Mission, error) // ordered by position
		GetMission(ctx context.Context, id string) (Mission, error)
		// GetMissionByPosition returns ErrMissionNotFound when no mission holds pos.
		GetMissionByPosition(ctx context.Context, pos int) (Mission, error)
		UpsertMissions(ctx context.Context, missions []Mission) ([]Mission, error)

		QueryStates(ctx context.Context, userID string) ([]State, error)
		// InsertState does nothing when the (user, mission) row already exists.
		InsertState(ctx context.Context, state State) error
		// CompleteState marks the state completed only if it is unlocked and not completed yet.
		// It reports the number of rows affected.
		CompleteState(ctx context.Context, userID, missionID string, at time.Time) (int64, error)
		// UnlockState forces unlocked=true, leaving completed/completed_at untouched.
		UnlockState(ctx context.Context, userID, missionID string) error

		// CreditGems adds amount to the user's balance and returns the new balance.
		CreditGems(ctx context.Context, userID string, amount int) (int, error)
		AppendResult(ctx context.Context, res Result) (Result, error)
		// QueryResults returns the latest results first, with their missions.
		QueryResults(ctx context.Context, userID string, limit int) ([]Result, error)
		QueryResultsSince(ctx context.Context, userID string, since time.Time) ([]Result, error)
	}

	ServiceInterface interface {
		Initialize(ctx context.Context, userID string) error
		CompleteMission(ctx context.Context, userID, missionID string, durationSeconds *int) (Outcome, error)
		Map(ctx context.Context, userID string) ([]MapEntry, error)
		Progress(ctx context.Context, userID string) (Progress, error)
		States(ctx context.Context, userID string) ([]State, error)
		History(ctx context.Context, userID string, limit int) ([]Result, error)
		Weekly(ctx context.Context, userID string) ([]DayActivity, error)
		Journey(ctx context.Context, userID string) ([]MapEntry, error)
		Catalog(ctx context.Context) ([]Mission, error)
		SeedCatalog(ctx context.Context, validate *validator.Validate, nms []NewMission) ([]Mission, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
		now    func() time.Time
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Initialize unlocks the first mission of the catalog for a user who has no progress yet.
// It is a no-op for a user with existing states or when the catalog is empty.
func (svc *Service) Initialize(ctx context.Context, userID string) error {
	return svc.repo.WithinTx(ctx, func(repo Repository) error {
		return initialize(ctx, repo, userID)
	})
}

func initialize(ctx context.Context, repo Repository, userID string) error {
	states, err := repo.QueryStates(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "querying states")
	}
	if len(states) > 0 {
		return nil
	}

	catalog, err := repo.QueryMissions(ctx)
	if err != nil {
		return errors.Wrap(err, "querying missions")
	}
	if len(catalog) == 0 {
		return nil
	}

	first := catalog[0]
	for _, m := range catalog[1:] {
		if m.Position < first.Position {
			first = m
		}
	}
	st := State{UserID: userID, MissionID: first.ID, Unlocked: true}
	return errors.Wrap(repo.InsertState(ctx, st), "inserting first state")
}

// CompleteMission records a completion: marks the state completed, credits the reward,
// appends a Result and unlocks the successor. All of it happens in one transaction.
func (svc *Service) CompleteMission(ctx context.Context, userID, missionID string, durationSeconds *int) (Outcome, error) {
	if durationSeconds != nil && *durationSeconds < 0 {
		return Outcome{}, core.NewValidationError(nil, core.FieldError{
			Field: "duration_seconds",
			Error: "duration cannot be negative",
		})
	}

	if !core.IsUUID(missionID) {
		return Outcome{}, ErrMissionNotFound
	}

	var out Outcome
	err := svc.repo.WithinTx(ctx, func(repo Repository) error {
		msn, err := repo.GetMission(ctx, missionID)
		if err != nil {
			return err
		}

		now := svc.now()
		n, err := repo.CompleteState(ctx, userID, msn.ID, now)
		if err != nil {
			return errors.Wrap(err, "completing state")
		}
		if n == 0 {
			return ErrStateConflict
		}

		balance, err := repo.CreditGems(ctx, userID, msn.GemReward)
		if err != nil {
			return errors.Wrap(err, "crediting gems")
		}

		res, err := repo.AppendResult(ctx, Result{
			UserID:          userID,
			MissionID:       msn.ID,
			GemsEarned:      msn.GemReward,
			DurationSeconds: durationSeconds,
			CreatedAt:       now,
		})
		if err != nil {
			return errors.Wrap(err, "appending result")
		}
		res.Mission = &msn

		out = Outcome{Mission: msn, GemsEarned: msn.GemReward, Balance: balance, Result: res}

		next, err := repo.GetMissionByPosition(ctx, msn.Position+1)
		switch {
		case errors.Cause(err) == ErrMissionNotFound:
			return nil // end of the catalog
		case err != nil:
			return errors.Wrap(err, "looking up successor")
		}
		if err = repo.UnlockState(ctx, userID, next.ID); err != nil {
			return errors.Wrap(err, "unlocking successor")
		}
		out.Unlocked = &next
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	svc.logger.Debug("mission completed", map[string]interface{}{
		"user_id":    userID,
		"mission_id": missionID,
		"gems":       out.GemsEarned,
	})
	return out, nil
}

// Map initializes the user if needed and returns the catalog merged with the user's states.
func (svc *Service) Map(ctx context.Context, userID string) ([]MapEntry, error) {
	var (
		catalog []Mission
		states  []State
	)
	err := svc.repo.WithinTx(ctx, func(repo Repository) error {
		if err := initialize(ctx, repo, userID); err != nil {
			return err
		}
		var err error
		if catalog, err = repo.QueryMissions(ctx); err != nil {
			return errors.Wrap(err, "querying missions")
		}
		states, err = repo.QueryStates(ctx, userID)
		return errors.Wrap(err, "querying states")
	})
	if err != nil {
		return nil, err
	}
	return Merge(catalog, states), nil
}

func (svc *Service) Progress(ctx context.Context, userID string) (Progress, error) {
	catalog, err := svc.repo.QueryMissions(ctx)
	if err != nil {
		return Progress{}, errors.Wrap(err, "querying missions")
	}
	states, err := svc.repo.QueryStates(ctx, userID)
	if err != nil {
		return Progress{}, errors.Wrap(err, "querying states")
	}
	return Summarize(states, catalog), nil
}

func (svc *Service) States(ctx context.Context, userID string) ([]State, error) {
	return svc.repo.QueryStates(ctx, userID)
}

func (svc *Service) History(ctx context.Context, userID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return svc.repo.QueryResults(ctx, userID, limit)
}

// Weekly counts the user's results of the last 7 days per weekday.
func (svc *Service) Weekly(ctx context.Context, userID string) ([]DayActivity, error) {
	now := svc.now()
	results, err := svc.repo.QueryResultsSince(ctx, userID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	return WeeklyActivity(results, now), nil
}

// Journey returns the user's started missions, most recently completed first.
func (svc *Service) Journey(ctx context.Context, userID string) ([]MapEntry, error) {
	catalog, err := svc.repo.QueryMissions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying missions")
	}
	states, err := svc.repo.QueryStates(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying states")
	}

	entries := make([]MapEntry, 0, len(states))
	for _, e := range Merge(catalog, states) {
		if e.Unlocked {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].CompletedAt, entries[j].CompletedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return entries, nil
}

func (svc *Service) Catalog(ctx context.Context) ([]Mission, error) {
	return svc.repo.QueryMissions(ctx)
}

// SeedCatalog validates nms and upserts them by position.
func (svc *Service) SeedCatalog(ctx context.Context, validate *validator.Validate, nms []NewMission) ([]Mission, error) {
	if err := validate.Struct(Catalog{Missions: nms}); err != nil {
		return nil, err
	}

	positions := make(map[int]bool, len(nms))
	missions := make([]Mission, 0, len(nms))
	for _, nm := range nms {
		if positions[nm.Position] {
			return nil, core.NewValidationError(ErrCatalogGap, core.FieldError{Field: "position", Error: ErrCatalogGap.Error()})
		}
		positions[nm.Position] = true

		typ := nm.Type
		if typ == "" {
			typ = TypeExercise
		}
		missions = append(missions, Mission{
			Title:        core.CleanString(nm.Title),
			Description:  core.CleanString(nm.Description),
			Type:         typ,
			ExerciseType: core.CleanString(nm.ExerciseType),
			Position:     nm.Position,
			GemReward:    nm.GemReward,
		})
	}
	for pos := 1; pos <= len(nms); pos++ {
		if !positions[pos] {
			return nil, core.NewValidationError(ErrCatalogGap, core.FieldError{Field: "position", Error: ErrCatalogGap.Error()})
		}
	}

	var saved []Mission
	err := svc.repo.WithinTx(ctx, func(repo Repository) error {
		var err error
		saved, err = repo.UpsertMissions(ctx, missions)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "upserting missions")
	}
	svc.logger.Info("mission catalog seeded", map[string]interface{}{"missions": len(saved)})
	return saved, nil
}
