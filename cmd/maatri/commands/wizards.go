package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/domain/intake"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/internal/tui"
)

type wizardFlags struct {
	accessible bool
}

func (f *wizardFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.accessible, "accessible", false, "Use the screen reader friendly prompts")
}

// run drives inst in the terminal and decodes the backend response into out
func (e *env) run(cmd *cobra.Command, f wizardFlags, inst wizard.Instance, out any) error {
	runner := tui.NewRunner(tui.HuhPrompter{Accessible: f.accessible}, e.out, e.logger)
	raw, err := runner.Run(cmd.Context(), inst)
	if errors.Is(err, tui.ErrCancelled) {
		fmt.Fprintln(e.out, tui.Dim("Cancelled, nothing was submitted"))
		return nil
	}
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Register returns the self-registration command.
func Register() *cobra.Command {
	var f wizardFlags

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a beneficiary account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			password, err := tui.AskSecret(cmd.Context(), "Choose a password")
			if err != nil {
				return err
			}

			submitter := backend.WithCredentials(
				e.client.Submitter(intake.PathRegisterBeneficiary),
				map[string]any{"password": password},
			)
			inst, err := intake.Start(intake.FlowSelfRegistration, nil, submitter, e.cfg.Fallbacks(),
				wizard.WithLogger(e.logger))
			if err != nil {
				return err
			}

			var resp backend.BeneficiaryRegistration
			if err := e.run(cmd, f, inst, &resp); err != nil {
				return err
			}
			if resp.UserID != 0 {
				fmt.Fprintln(e.out, tui.Success(resp.Message))
				fmt.Fprintln(e.out, "Log in with `maatri login` to continue.")
			}
			return nil
		},
	}

	f.bind(cmd)
	return cmd
}

// Intake returns the staff intake command.
func Intake() *cobra.Command {
	var f wizardFlags

	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Register a mother at your hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleHospital)
			if err != nil {
				return err
			}

			inst, err := intake.Start(intake.FlowStaffIntake, &u,
				e.as(u).Submitter(intake.PathRegisterMother), e.cfg.Fallbacks(),
				wizard.WithLogger(e.logger))
			if err != nil {
				return err
			}

			var resp backend.MotherRegistration
			if err := e.run(cmd, f, inst, &resp); err != nil {
				return err
			}
			if resp.PregnancyID != 0 {
				fmt.Fprintln(e.out, tui.RenderMotherRegistration(&resp))
			}
			return nil
		},
	}

	f.bind(cmd)
	return cmd
}

// Apply returns the scheme application command.
func Apply() *cobra.Command {
	var f wizardFlags

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Complete your profile and apply for a scheme",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleBeneficiary)
			if err != nil {
				return err
			}
			client := e.as(u)

			opts := []wizard.Option{wizard.WithLogger(e.logger)}
			if d, err := client.BeneficiaryDashboard(cmd.Context(), u.UserID); err == nil {
				opts = append(opts, wizard.WithSeed(profileOf(d).Seed()))
			} else {
				e.logger.Debug("profile prefill unavailable")
			}

			inst, err := intake.Start(intake.FlowSchemeApplication, &u,
				client.Submitter(intake.PathApply), e.cfg.Fallbacks(), opts...)
			if err != nil {
				return err
			}

			var resp backend.ApplicationResult
			if err := e.run(cmd, f, inst, &resp); err != nil {
				return err
			}
			if resp.ApplicationID != 0 {
				fmt.Fprintln(e.out, tui.RenderApplication(&resp))
			}
			return nil
		},
	}

	f.bind(cmd)
	return cmd
}

func profileOf(d *backend.BeneficiaryDashboard) intake.Profile {
	p := d.Profile
	return intake.Profile{
		Name:     p.Name,
		Age:      p.Age.String(),
		Phone:    p.Phone.String(),
		District: p.District.String(),
		Block:    p.Block.String(),
	}
}
