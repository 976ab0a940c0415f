package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/tui"
)

// Login returns the login command.
func Login() *cobra.Command {
	var (
		admin    bool
		identity string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a phone number or email",
		Long: `Log in to the platform and keep the session on disk.

The password is always read interactively. Use --admin for the
administrator console.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if strings.TrimSpace(identity) == "" {
				if identity, err = tui.AskLine(ctx, "Phone or email"); err != nil {
					return err
				}
			}
			password, err := tui.AskSecret(ctx, "Password")
			if err != nil {
				return err
			}

			resp, err := e.client.Login(ctx, strings.TrimSpace(identity), password, admin)
			if err != nil {
				return failure(err, "login failed")
			}
			u := resp.User()
			if err := e.store.Save(u); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintln(e.out, tui.Success(fmt.Sprintf("Logged in as %s (%s)", u.Name, u.Role)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "Log in to the administrator console")
	cmd.Flags().StringVarP(&identity, "user", "u", "", "Phone number or email")
	return cmd
}

// Logout returns the logout command.
func Logout() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			if err := e.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "Logged out")
			return nil
		},
	}
}

// Whoami returns the whoami command.
func Whoami() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user()
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "%s\nrole:  %s\nhome:  %s\n", tui.Title(u.Name), u.Role, u.Home())
			if u.HospitalID != 0 {
				fmt.Fprintf(e.out, "hospital: %d\n", u.HospitalID)
			}
			if u.State != "" {
				fmt.Fprintf(e.out, "state: %s\n", u.State)
			}
			return nil
		},
	}
}
