package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/rehabquest/core/mission"
	"github.com/trezcool/rehabquest/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     user.ServiceInterface
	missionSvc mission.ServiceInterface
	validate   *validator.Validate
}

func newRootCommand(cli *commandLine) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "RehabQuest administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(cli.migrateCommand())
	cmd.AddCommand(cli.addUserCommand())
	cmd.AddCommand(cli.resetPasswordCommand())
	cmd.AddCommand(cli.seedMissionsCommand())
	return cmd
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword(out io.Writer) (string, error) {
	_, _ = fmt.Fprint(out, "Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}
