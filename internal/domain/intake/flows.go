// Package intake defines the registration and intake wizards: their draft
// records, step tables and payload normalization.
package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/session"
)

const (
	FlowSelfRegistration  = "self-registration"
	FlowStaffIntake       = "staff-intake"
	FlowSchemeApplication = "scheme-application"
)

// Backend endpoints the flows submit to.
const (
	PathRegisterBeneficiary = "/api/auth/register-beneficiary"
	PathRegisterMother      = "/api/hospital/register-mother"
	PathApply               = "/api/beneficiary/complete-profile-and-apply"
)

var (
	ErrUnknownFlow = errors.New("unknown flow")
	ErrForbidden   = errors.New("flow not available for this user")
	ErrNoHospital  = errors.New("user is not attached to a hospital")
)

var (
	personalFields = []string{"name", "phone", "age", "rch_id"}
	locationFields = []string{"state", "district", "block", "village"}
	socioFields    = []string{"education", "occupation", "caste_category", "pmjay_id", "bpl_card", "aadhaar_linked"}
	historyFields  = []string{
		"lmp_date", "blood_group", "gravida", "para", "anc_visits_completed",
		"tt_doses", "ifa_tablets", "usg_done", "rh_negative", "institutional_delivery_planned",
	}
	vitalsFields = []string{
		"height_cm", "weight_kg", "hb_level", "bp_systolic", "bp_diastolic",
		"anemia", "high_bp", "diabetes", "thyroid", "hiv_positive", "syphilis_positive",
		"previous_csection", "multiple_pregnancy", "danger_signs",
	}
)

func present(s string) bool { return strings.TrimSpace(s) != "" }

func identityComplete(p Personal) bool {
	return present(p.Name) && present(p.Phone) && present(p.Age)
}

func locationComplete(l Location) bool {
	return present(l.District) && present(l.Block)
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// SelfRegistration is the three step flow a beneficiary uses to create an
// account.
func SelfRegistration(fb Fallbacks) wizard.Flow[BeneficiaryDraft] {
	return wizard.Flow[BeneficiaryDraft]{
		Name: FlowSelfRegistration,
		Steps: []wizard.Step[BeneficiaryDraft]{
			{
				Title:      "Personal Information",
				Fields:     personalFields,
				CanAdvance: func(d BeneficiaryDraft) bool { return identityComplete(d.Personal) },
			},
			{
				Title:      "Address Details",
				Fields:     concat(locationFields, []string{"address"}),
				CanAdvance: func(d BeneficiaryDraft) bool { return locationComplete(d.Location) },
			},
			{
				Title:  "Socio-Economic Profile",
				Fields: socioFields,
			},
		},
		New:            func() BeneficiaryDraft { return BeneficiaryDraft{} },
		Normalize:      func(d BeneficiaryDraft) wizard.Payload { return normalize(d, fb) },
		FailureMessage: "Registration failed. Please try again.",
	}
}

// StaffIntake is the four step flow hospital staff use to register a
// mother. The hospital comes from the logged-in user.
func StaffIntake(user session.User, fb Fallbacks) (wizard.Flow[MotherDraft], error) {
	if !user.Is(session.RoleHospital) {
		return wizard.Flow[MotherDraft]{}, fmt.Errorf("%w: %s requires %s", ErrForbidden, FlowStaffIntake, session.RoleHospital)
	}
	if user.HospitalID == 0 {
		return wizard.Flow[MotherDraft]{}, ErrNoHospital
	}
	hospitalID := user.HospitalID

	return wizard.Flow[MotherDraft]{
		Name: FlowStaffIntake,
		Steps: []wizard.Step[MotherDraft]{
			{
				Title:      "Personal",
				Fields:     personalFields,
				CanAdvance: func(d MotherDraft) bool { return identityComplete(d.Personal) },
			},
			{
				Title:      "Location & Profile",
				Fields:     concat(locationFields, socioFields),
				CanAdvance: func(d MotherDraft) bool { return locationComplete(d.Location) },
			},
			{Title: "Pregnancy History", Fields: historyFields},
			{Title: "Vitals & Conditions", Fields: vitalsFields},
		},
		New: NewMotherDraft,
		Normalize: func(d MotherDraft) wizard.Payload {
			p := normalize(d, fb)
			p["hospital_id"] = hospitalID
			return p
		},
		FailureMessage: "Registration failed.",
	}, nil
}

// SchemeApplication is the four step flow a beneficiary uses to complete
// the profile and apply for a scheme.
func SchemeApplication(user session.User, fb Fallbacks) (wizard.Flow[ApplicationDraft], error) {
	if !user.Is(session.RoleBeneficiary) {
		return wizard.Flow[ApplicationDraft]{}, fmt.Errorf("%w: %s requires %s", ErrForbidden, FlowSchemeApplication, session.RoleBeneficiary)
	}
	userID := user.UserID

	return wizard.Flow[ApplicationDraft]{
		Name: FlowSchemeApplication,
		Steps: []wizard.Step[ApplicationDraft]{
			{
				Title:      "Scheme & Personal",
				Fields:     concat([]string{"scheme_type", "hospital_id"}, personalFields),
				CanAdvance: func(d ApplicationDraft) bool { return identityComplete(d.Personal) },
			},
			{
				Title:      "Location & Profile",
				Fields:     concat(locationFields, socioFields),
				CanAdvance: func(d ApplicationDraft) bool { return locationComplete(d.Location) },
			},
			{Title: "Pregnancy History", Fields: historyFields},
			{Title: "Vitals & Conditions", Fields: vitalsFields},
		},
		New: NewApplicationDraft,
		Normalize: func(d ApplicationDraft) wizard.Payload {
			p := normalize(d, fb)
			if id, _ := p["hospital_id"].(int); id <= 0 {
				p["hospital_id"] = nil
			}
			p["user_id"] = userID
			return p
		},
		FailureMessage: "Submission failed. Please check your data.",
	}, nil
}

// Profile is what the backend already knows about a returning
// beneficiary. Unknown values arrive as "--".
type Profile struct {
	Name     string
	Age      string
	Phone    string
	District string
	Block    string
}

// Seed returns the known profile values as draft fields.
func (p Profile) Seed() map[string]any {
	seed := make(map[string]any)
	for key, value := range map[string]string{
		"name":     p.Name,
		"age":      p.Age,
		"phone":    p.Phone,
		"district": p.District,
		"block":    p.Block,
	} {
		if v := strings.TrimSpace(value); v != "" && v != "--" {
			seed[key] = v
		}
	}
	return seed
}

// Start creates a wizard of the named flow for user. user may be nil for
// self-registration.
func Start(flow string, user *session.User, submitter wizard.Submitter, fb Fallbacks, opts ...wizard.Option) (wizard.Instance, error) {
	var u session.User
	if user != nil {
		u = *user
		opts = append(opts, wizard.WithActor(u.UserID))
	}

	switch flow {
	case FlowSelfRegistration:
		return start(SelfRegistration(fb), submitter, opts)
	case FlowStaffIntake:
		f, err := StaffIntake(u, fb)
		if err != nil {
			return nil, err
		}
		return start(f, submitter, opts)
	case FlowSchemeApplication:
		f, err := SchemeApplication(u, fb)
		if err != nil {
			return nil, err
		}
		return start(f, submitter, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
}

func start[T any, P wizard.Draft[T]](flow wizard.Flow[T], submitter wizard.Submitter, opts []wizard.Option) (wizard.Instance, error) {
	c, err := wizard.New[T, P](flow, submitter, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Endpoint returns the backend path a flow submits to
func Endpoint(flow string) (string, error) {
	switch flow {
	case FlowSelfRegistration:
		return PathRegisterBeneficiary, nil
	case FlowStaffIntake:
		return PathRegisterMother, nil
	case FlowSchemeApplication:
		return PathApply, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
}
