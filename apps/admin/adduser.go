package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/rehabquest/core"
	"github.com/trezcool/rehabquest/core/user"
)

func (cli *commandLine) addUserCommand() *cobra.Command {
	var (
		name, email, kind string
		isAdmin           bool
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the existing one with the same email. The password is prompted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind = core.CleanString(kind, true /* lower */)
			if kind != user.KindPatient && kind != user.KindTherapist {
				return errors.Errorf("invalid role %q, want %s or %s", kind, user.KindPatient, user.KindTherapist)
			}
			pwd, err := promptPassword(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), name, email, pwd, kind, isAdmin)
			if err != nil {
				return err
			}
			cmd.Printf("user %s saved (%s)\n", usr.Email, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address, used to log in")
	cmd.Flags().StringVar(&kind, "role", user.KindPatient, "account kind: patient or therapist")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "grant every role")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, name, email, pwd, kind string, isAdmin bool) (user.User, error) {
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		usr = user.User{Email: email, Roles: []string{user.RolePatient}}
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	}
	if usr.Name == "" {
		usr.Name = email
	}
	switch {
	case isAdmin:
		usr.Roles = user.AllRoles
	case kind == user.KindTherapist:
		usr.Roles = []string{user.RoleTherapist}
	}
	usr.SetActive(true)
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	return cli.usrSvc.UpdateOrCreate(ctx, usr)
}
