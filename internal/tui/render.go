package tui

import (
	"fmt"
	"strings"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/dashboard"
)

// RenderMotherRegistration summarizes a staff intake result.
func RenderMotherRegistration(r *backend.MotherRegistration) string {
	var b strings.Builder
	b.WriteString(Success(r.Message))
	fmt.Fprintf(&b, "\nBeneficiary #%d, pregnancy #%d", r.BeneficiaryID, r.PregnancyID)
	fmt.Fprintf(&b, "\nRisk: %s (%.2f)", RiskStyle(r.RiskLevel).Render(r.RiskLevel), r.RiskScore)
	if r.EDD != nil {
		fmt.Fprintf(&b, "\nEDD: %s", *r.EDD)
	}
	writeSchemes(&b, r.RecommendedSchemes)
	return Box(b.String())
}

// RenderApplication summarizes a scheme application result.
func RenderApplication(r *backend.ApplicationResult) string {
	var b strings.Builder
	b.WriteString(Success(r.Message))
	fmt.Fprintf(&b, "\nApplication #%d", r.ApplicationID)
	if r.RiskLevel != nil {
		fmt.Fprintf(&b, "\nRisk: %s", RiskStyle(*r.RiskLevel).Render(*r.RiskLevel))
	}
	writeSchemes(&b, r.RecommendedSchemes)
	return Box(b.String())
}

// RenderPatient prints one patient's profile, pregnancies and applications.
func RenderPatient(d *backend.PatientDetail) string {
	var b strings.Builder
	b.WriteString(Title(d.Profile.Name))
	fmt.Fprintf(&b, "\nAge %s, %s, %s", d.Profile.Age, d.Profile.Block, d.Profile.District)
	if d.Profile.Phone != "" {
		fmt.Fprintf(&b, "\nPhone %s", d.Profile.Phone)
	}
	for _, p := range d.Pregnancies {
		risk := "UNKNOWN"
		if p.RiskLevel != nil {
			risk = *p.RiskLevel
		}
		fmt.Fprintf(&b, "\n\nPregnancy #%d  %s  ANC %s", p.ID, RiskStyle(risk).Render(risk), p.ANCStatus)
		if p.EDD != nil {
			fmt.Fprintf(&b, "  EDD %s", *p.EDD)
		}
		for _, c := range p.Children {
			line := fmt.Sprintf("\n  %s: %s", c.Name, c.Immunizations)
			if c.Offtrack {
				line += " " + Error("off-track")
			}
			b.WriteString(line)
		}
	}
	if len(d.Applications) > 0 {
		b.WriteString("\n\n" + stepStyle.Render("Applications"))
		for _, a := range d.Applications {
			fmt.Fprintf(&b, "\n• %s %s %s", a.Type, a.Status, Dim(a.Updated))
		}
	}
	return Box(b.String())
}

func writeSchemes(b *strings.Builder, schemes []backend.SchemeRecommendation) {
	if len(schemes) == 0 {
		return
	}
	b.WriteString("\n" + stepStyle.Render("Recommended schemes"))
	for _, s := range schemes {
		fmt.Fprintf(b, "\n• %s: %s", s.Scheme, s.Reason)
		if s.Docs != "" {
			b.WriteString(Dim(" (" + s.Docs + ")"))
		}
	}
}

// RenderDashboard prints the role section of a dashboard view.
func RenderDashboard(v *dashboard.View) string {
	var b strings.Builder
	b.WriteString(Title(string(v.Role) + " dashboard"))
	switch {
	case v.Admin != nil:
		o := v.Admin.Overview
		fmt.Fprintf(&b, "\nHospitals: %d  Authorizers: %d  Beneficiaries: %d  Hospital users: %d",
			o.TotalHospitals, o.TotalAuthorizers, o.TotalBeneficiaries, o.TotalHospitalUsers)
		if a := v.Admin.Analytics; a != nil {
			fmt.Fprintf(&b, "\nActive pregnancies: %d", a.ActivePregnancies)
			writeShares(&b, "Scheme status", dashboard.Distribution(a.SchemeStatus))
		}
	case v.Authorizer != nil:
		for _, c := range v.Authorizer.Cards {
			fmt.Fprintf(&b, "\n%-22s %d", c.Label, c.Value)
		}
		writeShares(&b, "Pregnancy risk", dashboard.Distribution(v.Authorizer.Summary.PregnancyRiskDistribution))
	case v.Hospital != nil:
		h := v.Hospital
		fmt.Fprintf(&b, "\nManaged: %d  High risk: %d  Off-track: %d", h.TotalManaged, h.HighRisk, h.Offtrack)
		for _, p := range h.Patients {
			fmt.Fprintf(&b, "\n%5d  %-24s %s %.2f", p.ID, p.Name, RiskStyle(p.Risk).Render(fmt.Sprintf("%-6s", p.Risk)), p.RiskScore)
		}
	case v.Beneficiary != nil:
		d := v.Beneficiary.Dashboard
		fmt.Fprintf(&b, "\n%s, %s / %s", d.Profile.Name, d.Profile.District.String(), d.Profile.Block.String())
		for _, p := range d.Pregnancies {
			level := "LOW"
			if p.RiskLevel != nil {
				level = *p.RiskLevel
			}
			fmt.Fprintf(&b, "\nPregnancy #%d  risk %s  ANC %s", p.ID, RiskStyle(level).Render(level), p.ANCStatus)
		}
		for _, a := range d.Applications {
			fmt.Fprintf(&b, "\n%s: %s", a.Type, a.Status)
		}
	}
	return Box(b.String())
}

func writeShares(b *strings.Builder, title string, shares []dashboard.Share) {
	if len(shares) == 0 {
		return
	}
	b.WriteString("\n" + stepStyle.Render(title))
	for _, s := range shares {
		fmt.Fprintf(b, "\n  %-10s %4d  %5.1f%%", s.Level, s.Count, s.Percent)
	}
}
