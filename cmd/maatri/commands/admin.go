package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/internal/tui"
)

// Admin returns the admin command group.
func Admin() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage facilities and staff accounts",
	}
	cmd.AddCommand(registerAdmin())
	cmd.AddCommand(addHospital())
	cmd.AddCommand(addStaff("add-authorizer", "Create an authorizer account", false))
	cmd.AddCommand(addStaff("add-user", "Create a hospital staff account", true))
	return cmd
}

// registerAdmin needs no session; the backend decides who may call it.
func registerAdmin() *cobra.Command {
	var u backend.NewUser

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			msg, err := e.client.RegisterAdmin(cmd.Context(), u)
			if err != nil {
				return failure(err, "admin registration failed")
			}
			fmt.Fprintln(e.out, tui.Success(msg.Message))
			return nil
		},
	}

	cmd.Flags().StringVar(&u.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&u.Email, "email", "", "Login email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func addHospital() *cobra.Command {
	h := backend.NewHospital{Type: "Government"}

	cmd := &cobra.Command{
		Use:   "add-hospital",
		Short: "Register a hospital facility",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAdmin)
			if err != nil {
				return err
			}
			created, err := e.as(u).CreateHospital(cmd.Context(), h)
			if err != nil {
				return failure(err, "could not register hospital")
			}
			fmt.Fprintln(e.out, tui.Success(fmt.Sprintf("Hospital #%d %s registered", created.ID, created.Name)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&h.Name, "name", "", "Facility name")
	f.StringVar(&h.District, "district", "", "District")
	f.StringVar(&h.Block, "block", "", "Block")
	f.StringVar(&h.State, "state", "", "State")
	f.StringVar(&h.Type, "type", h.Type, "Facility type")
	f.BoolVar(&h.HasNICU, "nicu", false, "The facility has a neonatal ICU")
	for _, name := range []string{"name", "district", "block"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func addStaff(use, short string, hospital bool) *cobra.Command {
	var nu backend.NewUser

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAdmin)
			if err != nil {
				return err
			}

			var created *backend.UserSummary
			if hospital {
				created, err = e.as(u).CreateHospitalUser(cmd.Context(), nu)
			} else {
				created, err = e.as(u).CreateAuthorizer(cmd.Context(), nu)
			}
			if err != nil {
				return failure(err, "could not create account")
			}
			fmt.Fprintln(e.out, tui.Success(fmt.Sprintf("%s #%d %s created", created.Role, created.ID, created.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&nu.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&nu.Email, "email", "", "Login email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	if hospital {
		cmd.Flags().IntVar(&nu.HospitalID, "hospital", 0, "Hospital the account belongs to")
		_ = cmd.MarkFlagRequired("hospital")
	}
	return cmd
}
