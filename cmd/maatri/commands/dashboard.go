package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/dashboard"
	"github.com/maatrinet/go-intake/internal/export"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/internal/tui"
)

// Dashboard returns the dashboard command.
func Dashboard() *cobra.Command {
	var (
		asJSON bool
		tab    string
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the dashboard for your role",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user()
			if err != nil {
				return err
			}

			v, err := dashboard.Load(cmd.Context(), e.as(u), u)
			if errors.Is(err, dashboard.ErrNoDashboard) {
				return fmt.Errorf("no dashboard for role %s", u.Role)
			}
			if err != nil {
				return failure(err, "could not load dashboard")
			}
			if v.Hospital != nil {
				v.Hospital.Patients = dashboard.Filter(v.Hospital.Patients, tab)
			}

			if asJSON {
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			fmt.Fprintln(e.out, tui.RenderDashboard(v))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the dashboard as JSON")
	cmd.Flags().StringVar(&tab, "tab", dashboard.TabAll, "Hospital patient tab: all, high-risk or off-track")
	return cmd
}

// ExportRegistry returns the export-registry command.
func ExportRegistry() *cobra.Command {
	return &cobra.Command{
		Use:   "export-registry <file>",
		Short: "Write the facility registry to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleHospital)
			if err != nil {
				return err
			}

			d, err := e.as(u).HospitalDashboard(cmd.Context(), u.HospitalID)
			if err != nil {
				return failure(err, "could not load patients")
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := export.WriteRegistry(f, d); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(e.out, tui.Success(fmt.Sprintf("Wrote %d patients to %s", len(d.PatientList), args[0])))
			return nil
		},
	}
}

// Applications returns the applications command group.
func Applications() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applications",
		Short: "Review scheme applications",
	}
	cmd.AddCommand(listApplications())
	cmd.AddCommand(decide("approve", backend.StatusApproved))
	cmd.AddCommand(decide("reject", backend.StatusRejected))
	return cmd
}

func listApplications() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAuthorizer)
			if err != nil {
				return err
			}
			apps, err := e.as(u).Applications(cmd.Context(), strings.ToUpper(status))
			if err != nil {
				return failure(err, "could not load applications")
			}
			if len(apps) == 0 {
				fmt.Fprintln(e.out, tui.Dim("No applications"))
				return nil
			}
			for _, a := range apps {
				fmt.Fprintf(e.out, "#%-5d %-10s %-12s %s (%s, %s) %s\n",
					a.ID, a.Status, a.SchemeType, a.BeneficiaryName, a.District, a.Block, tui.Dim(a.AppliedDate))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", backend.StatusSubmitted, "Only show applications with this status")
	return cmd
}

func decide(verb, status string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid application id %q", args[0])
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAuthorizer)
			if err != nil {
				return err
			}
			msg, err := e.as(u).UpdateApplicationStatus(cmd.Context(), id, status)
			if err != nil {
				return failure(err, "could not update application")
			}
			fmt.Fprintln(e.out, tui.Success(msg.Message))
			return nil
		},
	}
}

// Recompute returns the recompute command.
func Recompute() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute risk predictions for every record",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAdmin)
			if err != nil {
				return err
			}
			res, err := e.as(u).RecomputePredictions(cmd.Context())
			if err != nil {
				return failure(err, "recompute failed")
			}
			fmt.Fprintln(e.out, tui.Success(res.Message))
			fmt.Fprintf(e.out, "pregnancies %d, deliveries %d, children %d, high risk %d\n",
				res.PregnanciesUpdated, res.DeliveriesUpdated, res.ChildrenUpdated, res.HighRiskPregnancies)
			return nil
		},
	}
}
