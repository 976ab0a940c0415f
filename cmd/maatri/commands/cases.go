package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/internal/tui"
)

// scoped builds an authorizer listing. The listing covers the user's own
// state unless --state names another one.
func scoped(use, short string, list func(ctx context.Context, c *backend.Client, state string, w io.Writer) error) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleAuthorizer)
			if err != nil {
				return err
			}
			if state == "" {
				state = u.State
			}
			return list(cmd.Context(), e.as(u), state, e.out)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "State to report on (default: your assigned state)")
	return cmd
}

// HighRisk returns the high-risk command.
func HighRisk() *cobra.Command {
	return scoped("high-risk", "List high-risk pregnancies and deliveries", func(ctx context.Context, c *backend.Client, state string, w io.Writer) error {
		cases, err := c.HighRisk(ctx, state)
		if err != nil {
			return failure(err, "could not load high-risk cases")
		}
		if len(cases) == 0 {
			fmt.Fprintln(w, tui.Dim("No high-risk cases"))
			return nil
		}
		for _, hc := range cases {
			fmt.Fprintf(w, "%-10s %-20s %.2f  %s, %s  %s\n",
				hc.Type, hc.Name, hc.Score, hc.Block, hc.District, tui.Dim(hc.Phone))
		}
		return nil
	})
}

// OffTrack returns the off-track command.
func OffTrack() *cobra.Command {
	return scoped("off-track", "List children behind on immunizations", func(ctx context.Context, c *backend.Client, state string, w io.Writer) error {
		children, err := c.OffTrack(ctx, state)
		if err != nil {
			return failure(err, "could not load off-track children")
		}
		if len(children) == 0 {
			fmt.Fprintln(w, tui.Dim("No off-track children"))
			return nil
		}
		for _, ch := range children {
			fmt.Fprintf(w, "%-20s mother %-20s %s, %s\n", ch.ChildName, ch.Beneficiary, ch.Block, ch.District)
		}
		return nil
	})
}

// Hospitals returns the hospitals command.
func Hospitals() *cobra.Command {
	return scoped("hospitals", "List hospital facilities", func(ctx context.Context, c *backend.Client, state string, w io.Writer) error {
		hospitals, err := c.AuthorizerHospitals(ctx, state)
		if err != nil {
			return failure(err, "could not load hospitals")
		}
		if len(hospitals) == 0 {
			fmt.Fprintln(w, tui.Dim("No hospitals"))
			return nil
		}
		for _, h := range hospitals {
			nicu := ""
			if h.HasNICU {
				nicu = " NICU"
			}
			fmt.Fprintf(w, "#%-4d %-30s %s, %s (%s%s)\n", h.ID, h.Name, h.Block, h.District, h.Type, nicu)
		}
		return nil
	})
}

// Patient returns the patient command.
func Patient() *cobra.Command {
	return &cobra.Command{
		Use:   "patient <pregnancy-id>",
		Short: "Show one patient's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid pregnancy id %q", args[0])
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			u, err := e.user(session.RoleHospital)
			if err != nil {
				return err
			}
			d, err := e.as(u).PatientDetail(cmd.Context(), id)
			if err != nil {
				return failure(err, "could not load patient")
			}
			fmt.Fprintln(e.out, tui.RenderPatient(d))
			return nil
		},
	}
}
