// Package testutil holds the helpers shared by tests across packages.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
	logsvc "github.com/trezcool/rehabquest/services/logger"
	"github.com/trezcool/rehabquest/storage/database"
)

// DatabaseURLEnv names the variable holding a postgres:// URL for store tests.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// Config returns a test Config whose WorkDir is the repository root, so email templates resolve.
func Config() *core.Config {
	conf := core.NewTestConfig()
	conf.WorkDir = RootDir()
	return conf
}

// RootDir is the repository root.
func RootDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(file))
}

// Logger returns a logger that discards everything; Rollbar stays disabled in test mode.
func Logger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", 0), conf)
}

// Validator returns a validator with every app validator & translation registered.
func Validator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:         name,
		Email:        email,
		Avatar:       user.Avatars[0],
		Availability: user.AvailabilityDaily,
		Roles:        roles,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		require.NoError(t, usr.SetPassword(pwd), "CreateUser()")
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err, "CreateUser()")
	return usr
}

func CreatePatient(t *testing.T, repo user.Repository, name, email string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, email, "", []string{user.RolePatient}, true)
}

func CreateTherapist(t *testing.T, repo user.Repository, name, email string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, email, "", []string{user.RoleTherapist}, true)
}

// SeedMissions stores one mission per reward, at positions 1..len(rewards).
func SeedMissions(t *testing.T, repo mission.Repository, rewards ...int) []mission.Mission {
	t.Helper()

	missions := make([]mission.Mission, 0, len(rewards))
	for i, reward := range rewards {
		typ := mission.TypeExercise
		if i == 0 {
			typ = mission.TypeStart
		}
		missions = append(missions, mission.Mission{
			Title:     fmt.Sprintf("Mission %d", i+1),
			Type:      typ,
			Position:  i + 1,
			GemReward: reward,
		})
	}
	saved, err := repo.UpsertMissions(context.Background(), missions)
	require.NoError(t, err, "SeedMissions()")
	return saved
}

// PostgresDB returns a connection to a fresh, migrated schema of the TEST_DATABASE_URL database.
// The schema is dropped when the test ends. The test is skipped when the variable is unset.
func PostgresDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s is not set", DatabaseURLEnv)
	}
	u, err := url.Parse(dsn)
	require.NoError(t, err, "parsing %s", DatabaseURLEnv)

	admin, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err, "PostgresDB()")
	schema := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.Exec("CREATE SCHEMA " + schema)
	require.NoError(t, err, "creating schema")
	t.Cleanup(func() {
		_, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE")
		_ = admin.Close()
	})

	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	db, err := sqlx.Open("postgres", u.String())
	require.NoError(t, err, "PostgresDB()")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB), "migrating schema")
	return db
}
