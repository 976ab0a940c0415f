package backend

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/maatrinet/go-intake/internal/session"
)

// FlexString decodes a JSON string, number or null into text. The backend
// mixes numbers with "--" placeholders in profile fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexString(n.String())
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int parses the value, returning false for placeholders
func (f FlexString) Int() (int, bool) {
	n, err := strconv.Atoi(string(f))
	return n, err == nil
}

type LoginRequest struct {
	PhoneOrEmail string `json:"phone_or_email"`
	Password     string `json:"password"`
	AdminOnly    bool   `json:"admin_only,omitempty"`
}

type LoginResponse struct {
	Token      string       `json:"token"`
	Role       session.Role `json:"role"`
	UserID     int          `json:"user_id"`
	HospitalID *int         `json:"hospital_id"`
	Name       string       `json:"name"`
	State      *string      `json:"state"`
}

// User converts the login response into the session user
func (r LoginResponse) User() session.User {
	u := session.User{
		UserID: r.UserID,
		Role:   r.Role,
		Name:   r.Name,
		Token:  r.Token,
	}
	if r.HospitalID != nil {
		u.HospitalID = *r.HospitalID
	}
	if r.State != nil {
		u.State = *r.State
	}
	return u
}

// Message is the generic {"message": ...} acknowledgement
type Message struct {
	Message string `json:"message"`
}

type Hospital struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	District string `json:"district"`
	Block    string `json:"block"`
	State    string `json:"state,omitempty"`
	Type     string `json:"type"`
	HasNICU  bool   `json:"has_nicu"`
}

type UserSummary struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	State      string `json:"state,omitempty"`
	HospitalID *int   `json:"hospital_id,omitempty"`
}

type AdminOverview struct {
	TotalHospitals     int           `json:"total_hospitals"`
	TotalAuthorizers   int           `json:"total_authorizers"`
	TotalBeneficiaries int           `json:"total_beneficiaries"`
	TotalHospitalUsers int           `json:"total_hospital_users"`
	Hospitals          []Hospital    `json:"hospitals"`
	Authorizers        []UserSummary `json:"authorizers"`
}

type MonthCount struct {
	Month FlexString `json:"month"`
	Count int        `json:"count"`
}

type AdminAnalytics struct {
	RoleDistribution     map[string]int `json:"role_distribution"`
	HospitalDistribution map[string]int `json:"hospital_distribution"`
	DeliveryTrend        []MonthCount   `json:"delivery_trend"`
	SchemeStatus         map[string]int `json:"scheme_status"`
	ActivePregnancies    int            `json:"active_pregnancies"`
}

type NewHospital struct {
	Name     string `json:"name"`
	District string `json:"district"`
	Block    string `json:"block"`
	State    string `json:"state,omitempty"`
	Type     string `json:"type,omitempty"`
	HasNICU  bool   `json:"has_nicu"`
}

type NewUser struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	HospitalID int    `json:"hospital_id,omitempty"`
}

type DistrictStat struct {
	District         string   `json:"district"`
	TotalPregs       int      `json:"total_pregs"`
	HighRiskPre      int      `json:"high_risk_pre"`
	AvgANCCompliance *float64 `json:"avg_anc_compliance"`
}

type BlockStat struct {
	Block    string `json:"block"`
	Count    int    `json:"count"`
	HighRisk int    `json:"high_risk"`
}

type TrendPoint struct {
	Month    string `json:"month"`
	HighRisk int    `json:"high_risk"`
	Coverage int    `json:"coverage"`
}

type AuthorizerSummary struct {
	PregnancyRiskDistribution map[string]int `json:"pregnancy_risk_distribution"`
	DeliveryRiskDistribution  map[string]int `json:"delivery_risk_distribution"`
	OfftrackCount             int            `json:"offtrack_count"`
	Districts                 []DistrictStat `json:"districts"`
	Blocks                    []BlockStat    `json:"blocks"`
	MonthlyTrend              []TrendPoint   `json:"monthly_trend"`
	StateScope                string         `json:"state_scope"`
}

// Application is a scheme application awaiting a decision
type Application struct {
	ID              int    `json:"id"`
	BeneficiaryName string `json:"beneficiary_name"`
	SchemeType      string `json:"scheme_type"`
	Status          string `json:"status"`
	District        string `json:"district"`
	Block           string `json:"block"`
	AppliedDate     string `json:"applied_date"`
}

// Application statuses accepted by UpdateApplicationStatus
const (
	StatusSubmitted = "SUBMITTED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
)

type ChildStatus struct {
	Name                   string `json:"name"`
	Sex                    string `json:"sex,omitempty"`
	Offtrack               bool   `json:"offtrack"`
	ImmunizationsCompleted int    `json:"immunizations_completed"`
	ImmunizationsExpected  int    `json:"immunizations_expected"`
	BirthDose              string `json:"birth_dose,omitempty"`
}

type HighRiskCase struct {
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	District     string        `json:"district"`
	Block        string        `json:"block"`
	State        string        `json:"state"`
	Score        float64       `json:"score"`
	ID           int           `json:"id"`
	PregnancyID  int           `json:"pregnancy_id"`
	Phone        string        `json:"phone"`
	EDD          *string       `json:"edd,omitempty"`
	Hospital     *int          `json:"hospital,omitempty"`
	DeliveryDate *string       `json:"delivery_date,omitempty"`
	DeliveryType *string       `json:"delivery_type,omitempty"`
	Children     []ChildStatus `json:"children"`
}

type OffTrackChild struct {
	ChildName   string `json:"child_name"`
	Beneficiary string `json:"beneficiary"`
	District    string `json:"district"`
	Block       string `json:"block"`
	State       string `json:"state"`
}

// Patient is one row of the hospital patient list
type Patient struct {
	ID              int           `json:"id"`
	Name            string        `json:"name"`
	Risk            string        `json:"risk"`
	RiskScore       float64       `json:"risk_score"`
	EDD             *string       `json:"edd"`
	OfftrackHistory bool          `json:"offtrack_history"`
	Status          string        `json:"status"`
	DeliveryDate    *string       `json:"delivery_date"`
	DeliveryType    *string       `json:"delivery_type"`
	PostbirthRisk   *string       `json:"postbirth_risk"`
	PostbirthScore  float64       `json:"postbirth_score"`
	Children        []ChildStatus `json:"children"`
}

type HospitalDashboard struct {
	HospitalID      int               `json:"hospital_id"`
	TotalManaged    int               `json:"total_managed"`
	DeliveriesToday []json.RawMessage `json:"deliveries_today"`
	HighRiskAlerts  []json.RawMessage `json:"high_risk_alerts"`
	PatientList     []Patient         `json:"patient_list"`
}

type Profile struct {
	Name     string     `json:"name"`
	Age      FlexString `json:"age"`
	District FlexString `json:"district"`
	Block    FlexString `json:"block"`
	Phone    FlexString `json:"phone,omitempty"`
}

type ChildImmunization struct {
	Name          string `json:"name"`
	Offtrack      bool   `json:"offtrack"`
	Immunizations string `json:"immunizations"`
}

type PregnancySummary struct {
	ID          int                 `json:"id"`
	EDD         *string             `json:"edd"`
	LMP         *string             `json:"lmp,omitempty"`
	Week        *int                `json:"week,omitempty"`
	HBLevel     *float64            `json:"hb_level,omitempty"`
	WeightKG    *float64            `json:"weight_kg,omitempty"`
	BPSystolic  *int                `json:"bp_systolic,omitempty"`
	BPDiastolic *int                `json:"bp_diastolic,omitempty"`
	RiskLevel   *string             `json:"risk_level"`
	ANCStatus   string              `json:"anc_status"`
	Children    []ChildImmunization `json:"children"`
}

type ApplicationStatus struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Updated string `json:"updated"`
}

type PatientDetail struct {
	Profile      Profile             `json:"profile"`
	Pregnancies  []PregnancySummary  `json:"pregnancies"`
	Applications []ApplicationStatus `json:"applications"`
}

type HospitalRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

type BeneficiaryDashboard struct {
	ProfileID    int                 `json:"profile_id"`
	Profile      Profile             `json:"profile"`
	Pregnancies  []PregnancySummary  `json:"pregnancies"`
	Applications []ApplicationStatus `json:"applications"`
	Hospital     *HospitalRef        `json:"hospital"`
}

type SchemeRecommendation struct {
	Scheme string `json:"scheme"`
	Reason string `json:"reason"`
	Docs   string `json:"docs"`
}

// BeneficiaryRegistration is the response of the self-registration flow
type BeneficiaryRegistration struct {
	Message       string `json:"message"`
	UserID        int    `json:"user_id"`
	BeneficiaryID int    `json:"beneficiary_id"`
}

// MotherRegistration is the response of the staff intake flow
type MotherRegistration struct {
	Message            string                 `json:"message"`
	BeneficiaryID      int                    `json:"beneficiary_id"`
	PregnancyID        int                    `json:"pregnancy_id"`
	RiskLevel          string                 `json:"risk_level"`
	RiskScore          float64                `json:"risk_score"`
	RiskFactors        json.RawMessage        `json:"risk_factors,omitempty"`
	EDD                *string                `json:"edd"`
	RecommendedSchemes []SchemeRecommendation `json:"recommended_schemes"`
}

// ApplicationResult is the response of the scheme application flow
type ApplicationResult struct {
	Message            string                 `json:"message"`
	RiskLevel          *string                `json:"risk_level"`
	RiskScore          *float64               `json:"risk_score"`
	ApplicationID      int                    `json:"application_id"`
	RecommendedSchemes []SchemeRecommendation `json:"recommended_schemes"`
}

type RecomputeResult struct {
	Status              string `json:"status"`
	PregnanciesUpdated  int    `json:"pregnancies_updated"`
	DeliveriesUpdated   int    `json:"deliveries_updated"`
	ChildrenUpdated     int    `json:"children_updated"`
	HighRiskPregnancies int    `json:"high_risk_pregnancies"`
	Message             string `json:"message"`
}

type PlotPoint struct {
	Name  FlexString `json:"name"`
	Value float64    `json:"value"`
}

type PlotData struct {
	Type        string      `json:"type"`
	ChartType   string      `json:"chart_type"`
	Title       string      `json:"title"`
	Data        []PlotPoint `json:"data"`
	XKey        string      `json:"x_key"`
	YKey        string      `json:"y_key"`
	Description string      `json:"description"`
}

// AssistantReply is the answer of the assistant endpoint
type AssistantReply struct {
	Response string    `json:"response"`
	Action   string    `json:"action"`
	PlotData *PlotData `json:"plot_data,omitempty"`
}
