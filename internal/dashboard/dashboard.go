// Package dashboard loads the role specific dashboard views from the backend.
package dashboard

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/session"
)

var ErrNoDashboard = errors.New("role has no dashboard")

// Source is the part of the backend client the dashboards read from.
type Source interface {
	AdminOverview(ctx context.Context) (*backend.AdminOverview, error)
	AdminAnalytics(ctx context.Context) (*backend.AdminAnalytics, error)
	AuthorizerSummary(ctx context.Context, state string) (*backend.AuthorizerSummary, error)
	HospitalDashboard(ctx context.Context, hospitalID int) (*backend.HospitalDashboard, error)
	BeneficiaryDashboard(ctx context.Context, userID int) (*backend.BeneficiaryDashboard, error)
}

var _ Source = (*backend.Client)(nil)

// View is the dashboard of one user. Exactly one role section is set.
type View struct {
	Role        session.Role     `json:"role"`
	Admin       *AdminView       `json:"admin,omitempty"`
	Authorizer  *AuthorizerView  `json:"authorizer,omitempty"`
	Hospital    *HospitalView    `json:"hospital,omitempty"`
	Beneficiary *BeneficiaryView `json:"beneficiary,omitempty"`
}

type AdminView struct {
	Overview  *backend.AdminOverview  `json:"overview"`
	Analytics *backend.AdminAnalytics `json:"analytics"`
}

// Card is a headline number.
type Card struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

type AuthorizerView struct {
	Summary *backend.AuthorizerSummary `json:"summary"`
	Cards   []Card                     `json:"cards"`
}

type HospitalView struct {
	HospitalID   int               `json:"hospital_id"`
	TotalManaged int               `json:"total_managed"`
	Patients     []backend.Patient `json:"patients"`
	HighRisk     int               `json:"high_risk"`
	Offtrack     int               `json:"offtrack"`
}

type BeneficiaryView struct {
	Dashboard *backend.BeneficiaryDashboard `json:"dashboard"`
	Hospitals []backend.Hospital            `json:"hospitals"`
}

// Load fetches the dashboard for the user's role.
func Load(ctx context.Context, src Source, user session.User) (*View, error) {
	v := &View{Role: user.Role}
	var err error
	switch user.Role {
	case session.RoleAdmin:
		v.Admin, err = loadAdmin(ctx, src)
	case session.RoleAuthorizer:
		v.Authorizer, err = loadAuthorizer(ctx, src, user.State)
	case session.RoleHospital:
		v.Hospital, err = loadHospital(ctx, src, user.HospitalID)
	case session.RoleBeneficiary:
		v.Beneficiary, err = loadBeneficiary(ctx, src, user.UserID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoDashboard, user.Role)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func loadAdmin(ctx context.Context, src Source) (*AdminView, error) {
	v := &AdminView{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := src.AdminOverview(ctx)
		if err != nil {
			return fmt.Errorf("admin overview: %w", err)
		}
		v.Overview = o
		return nil
	})
	g.Go(func() error {
		a, err := src.AdminAnalytics(ctx)
		if err != nil {
			return fmt.Errorf("admin analytics: %w", err)
		}
		v.Analytics = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return v, nil
}

func loadAuthorizer(ctx context.Context, src Source, state string) (*AuthorizerView, error) {
	s, err := src.AuthorizerSummary(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("authorizer summary: %w", err)
	}
	return &AuthorizerView{
		Summary: s,
		Cards: []Card{
			{Label: "Pre-birth High-Risk", Value: s.PregnancyRiskDistribution[RiskHigh]},
			{Label: "Post-birth High-Risk", Value: s.DeliveryRiskDistribution[RiskHigh]},
			{Label: "Off-track Children", Value: s.OfftrackCount},
			{Label: "Total Pregnancies", Value: Total(s.PregnancyRiskDistribution)},
		},
	}, nil
}

func loadHospital(ctx context.Context, src Source, hospitalID int) (*HospitalView, error) {
	if hospitalID == 0 {
		return nil, fmt.Errorf("%w: user has no hospital", ErrNoDashboard)
	}
	d, err := src.HospitalDashboard(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("hospital dashboard: %w", err)
	}
	patients := SortByRisk(d.PatientList)
	return &HospitalView{
		HospitalID:   d.HospitalID,
		TotalManaged: d.TotalManaged,
		Patients:     patients,
		HighRisk:     len(Filter(patients, TabHighRisk)),
		Offtrack:     len(Filter(patients, TabOfftrack)),
	}, nil
}

// The hospital list for the application form comes from the admin overview.
func loadBeneficiary(ctx context.Context, src Source, userID int) (*BeneficiaryView, error) {
	v := &BeneficiaryView{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := src.BeneficiaryDashboard(ctx, userID)
		if err != nil {
			return fmt.Errorf("beneficiary dashboard: %w", err)
		}
		v.Dashboard = d
		return nil
	})
	g.Go(func() error {
		o, err := src.AdminOverview(ctx)
		if err != nil {
			return fmt.Errorf("hospital list: %w", err)
		}
		v.Hospitals = o.Hospitals
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return v, nil
}
