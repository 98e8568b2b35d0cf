package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
	inmemdb "github.com/trezcool/rehabquest/storage/database/inmem"
	"github.com/trezcool/rehabquest/testutil"
)

type fixture struct {
	cli      *commandLine
	usrRepo  user.Repository
	msnRepo  mission.Repository
	password string
}

func setup(t *testing.T) *fixture {
	db := inmemdb.Open()
	validate, _ := testutil.Validator()
	f := &fixture{
		usrRepo: inmemdb.NewUserRepository(db),
		msnRepo: inmemdb.NewMissionRepository(db),
	}
	f.cli = &commandLine{
		usrSvc:     user.NewService(f.usrRepo),
		missionSvc: mission.NewService(f.msnRepo, testutil.Logger(testutil.Config())),
		validate:   validate,
	}

	origReadPassword, origRunMigrations := readPasswordFunc, runMigrationsFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(f.password), nil }
	t.Cleanup(func() { readPasswordFunc, runMigrationsFunc = origReadPassword, origRunMigrations })
	return f
}

// run executes the CLI with args (without program name) and returns its output.
func (f *fixture) run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand(f.cli)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type cliTest struct {
	name       string
	args       []string // without program name
	password   string
	wantErr    error
	wantErrStr string
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), tt.wantErrStr)
		}
	default:
		assert.NoError(t, err)
	}
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand(&commandLine{})
	for _, name := range []string{"migrate", "adduser", "resetpassword", "seedmissions"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	var gotCommand string
	var gotArgs []string
	runMigrationsFunc = func(_ *sql.DB, command string, args ...string) error {
		gotCommand, gotArgs = command, args
		if command == "lol" {
			return errors.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []struct {
		cliTest
		wantCommand string
		wantArgs    []string
	}{
		{cliTest: cliTest{name: "no command", args: []string{"migrate"}, wantErrStr: "requires at least 1 arg"}},
		{cliTest: cliTest{name: "unknown command", args: []string{"migrate", "lol"}, wantErrStr: `"lol": no such command`}, wantCommand: "lol"},
		{cliTest: cliTest{name: "up", args: []string{"migrate", "up"}}, wantCommand: "up"},
		{cliTest: cliTest{name: "up-to", args: []string{"migrate", "up-to", "2"}}, wantCommand: "up-to", wantArgs: []string{"2"}},
		{cliTest: cliTest{name: "down-to", args: []string{"migrate", "down-to", "1"}}, wantCommand: "down-to", wantArgs: []string{"1"}},
		{cliTest: cliTest{name: "status", args: []string{"migrate", "status"}}, wantCommand: "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCommand, gotArgs = "", nil
			_, err := f.run(tt.args...)
			checkErr(t, tt.cliTest, err)
			assert.Equal(t, tt.wantCommand, gotCommand)
			assert.Equal(t, len(tt.wantArgs), len(gotArgs))
			for i := range tt.wantArgs {
				assert.Equal(t, tt.wantArgs[i], gotArgs[i])
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []cliTest{
		{name: "no email", args: []string{"adduser"}, password: "Secret!42", wantErrStr: `required flag(s) "email" not set`},
		{name: "no password", args: []string{"adduser", "--email", "pat@test.cd"}, wantErr: errEmptyPassword},
		{name: "patient", args: []string{"adduser", "--email", "Pat@Test.cd", "--name", "Pat"}, password: "Secret!42"},
		{name: "unknown role", args: []string{"adduser", "--email", "doc@test.cd", "--role", "doctor"}, password: "Secret!42", wantErrStr: "invalid role"},
		{name: "therapist", args: []string{"adduser", "--email", "doc@test.cd", "--role", "Therapist"}, password: "Secret!42"},
		{name: "admin", args: []string{"adduser", "--email", "root@test.cd", "--admin"}, password: "Secret!42"},
		{name: "update existing", args: []string{"adduser", "--email", "pat@test.cd"}, password: "N3w!Secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.password = tt.password
			_, err := f.run(tt.args...)
			checkErr(t, tt, err)
		})
	}

	users, err := f.usrRepo.QueryUsers(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, users, 3, "update must not duplicate")

	pat, err := f.usrRepo.GetUser(ctx, user.GetFilter{Email: "pat@test.cd"})
	require.NoError(t, err)
	assert.Equal(t, "Pat", pat.Name, "name is kept when not provided")
	assert.True(t, pat.IsPatient())
	assert.NoError(t, pat.CheckPassword("N3w!Secret"))

	doc, err := f.usrRepo.GetUser(ctx, user.GetFilter{Email: "doc@test.cd"})
	require.NoError(t, err)
	assert.True(t, doc.IsTherapist())
	assert.Equal(t, "doc@test.cd", doc.Name)

	root, err := f.usrRepo.GetUser(ctx, user.GetFilter{Email: "root@test.cd"})
	require.NoError(t, err)
	assert.True(t, root.IsAdmin())
}

func Test_commandLine_resetPassword(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "User", "awe@test.cd", "Secret!42", nil, true)

	tests := []cliTest{
		{name: "no username", args: []string{"resetpassword"}, password: "lol", wantErrStr: `required flag(s) "username" not set`},
		{name: "no password", args: []string{"resetpassword", "--username", usr.Email}, wantErr: errEmptyPassword},
		{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, password: "lol", wantErr: user.ErrNotFound},
		{name: "reset with email", args: []string{"resetpassword", "--username", " AWE@test.cd"}, password: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.password = tt.password
			_, err := f.run(tt.args...)
			checkErr(t, tt, err)
		})
	}

	refreshed, err := f.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("lmao"))
}

func Test_commandLine_seedMissions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	dir := t.TempDir()

	write := func(name, content string) string {
		fp := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(fp, []byte(content), 0o600))
		return fp
	}
	yamlFile := write("catalog.yaml", `
missions:
  - title: Start
    type: start
    position: 1
  - title: Stretch
    position: 2
    gem_reward: 10
`)
	gapFile := write("gap.yml", `
missions:
  - title: Start
    position: 1
  - title: Far away
    position: 3
`)
	badFile := write("bad.toml", "missions = 3")
	emptyFile := write("empty.toml", "")
	jsonFile := write("catalog.json", "{}")

	tests := []cliTest{
		{name: "no file", args: []string{"seedmissions"}, wantErrStr: `required flag(s) "file" not set`},
		{name: "missing file", args: []string{"seedmissions", "-f", filepath.Join(dir, "lol.toml")}, wantErrStr: "reading catalog"},
		{name: "unknown format", args: []string{"seedmissions", "-f", jsonFile}, wantErrStr: "unsupported catalog format"},
		{name: "malformed", args: []string{"seedmissions", "-f", badFile}, wantErrStr: "decoding catalog"},
		{name: "empty", args: []string{"seedmissions", "-f", emptyFile}, wantErrStr: "catalog has no missions"},
		{name: "gap", args: []string{"seedmissions", "-f", gapFile}, wantErrStr: mission.ErrCatalogGap.Error()},
		{name: "yaml", args: []string{"seedmissions", "--file", yamlFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(tt.args...)
			checkErr(t, tt, err)
		})
	}

	catalog, err := f.msnRepo.QueryMissions(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	assert.Equal(t, mission.TypeStart, catalog[0].Type)
	assert.Equal(t, mission.TypeExercise, catalog[1].Type)
	assert.Equal(t, 10, catalog[1].GemReward)

	// the bundled catalog replaces positions 1 & 2 in place and appends the rest
	out, err := f.run("seedmissions", "-f", filepath.Join(testutil.RootDir(), "assets", "missions.toml"))
	require.NoError(t, err)
	assert.Contains(t, out, "7 missions seeded")

	reseeded, err := f.msnRepo.QueryMissions(ctx)
	require.NoError(t, err)
	require.Len(t, reseeded, 7)
	assert.Equal(t, catalog[0].ID, reseeded[0].ID)
	assert.Equal(t, "Warrior Awakens", reseeded[0].Title)
}
