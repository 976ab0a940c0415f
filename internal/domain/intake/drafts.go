package intake

// Personal is the identity section shared by every flow.
type Personal struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Age   string `json:"age" intake:"int"`
	RCHID string `json:"rch_id"`
}

// Location is the administrative address of a beneficiary.
type Location struct {
	State    string `json:"state"`
	District string `json:"district"`
	Block    string `json:"block"`
	Village  string `json:"village"`
}

type SocioEconomic struct {
	Education     string `json:"education"`
	Occupation    string `json:"occupation"`
	CasteCategory string `json:"caste_category"`
	BPLCard       bool   `json:"bpl_card"`
	PMJAYID       string `json:"pmjay_id"`
	AadhaarLinked bool   `json:"aadhaar_linked"`
}

type PregnancyHistory struct {
	LMPDate                      string `json:"lmp_date" intake:"date"`
	BloodGroup                   string `json:"blood_group"`
	Gravida                      string `json:"gravida" intake:"int"`
	Para                         string `json:"para" intake:"int"`
	ANCVisitsCompleted           string `json:"anc_visits_completed" intake:"int"`
	TTDoses                      string `json:"tt_doses" intake:"int"`
	IFATablets                   string `json:"ifa_tablets" intake:"int"`
	USGDone                      bool   `json:"usg_done"`
	RhNegative                   bool   `json:"rh_negative"`
	InstitutionalDeliveryPlanned bool   `json:"institutional_delivery_planned"`
}

type Vitals struct {
	HeightCM    string `json:"height_cm" intake:"decimal"`
	WeightKG    string `json:"weight_kg" intake:"decimal"`
	HBLevel     string `json:"hb_level" intake:"decimal"`
	BPSystolic  string `json:"bp_systolic" intake:"int"`
	BPDiastolic string `json:"bp_diastolic" intake:"int"`
}

// Conditions are the clinical flags checked at intake.
type Conditions struct {
	Anemia            bool `json:"anemia"`
	HighBP            bool `json:"high_bp"`
	Diabetes          bool `json:"diabetes"`
	Thyroid           bool `json:"thyroid"`
	HIVPositive       bool `json:"hiv_positive"`
	SyphilisPositive  bool `json:"syphilis_positive"`
	PreviousCSection  bool `json:"previous_csection"`
	MultiplePregnancy bool `json:"multiple_pregnancy"`
	DangerSigns       bool `json:"danger_signs"`
}

func newPregnancyHistory() PregnancyHistory {
	return PregnancyHistory{
		Gravida:                      "1",
		Para:                         "0",
		ANCVisitsCompleted:           "0",
		TTDoses:                      "0",
		IFATablets:                   "0",
		InstitutionalDeliveryPlanned: true,
	}
}

// BeneficiaryDraft is the self-registration record.
type BeneficiaryDraft struct {
	Personal
	Location
	Address string `json:"address"`
	SocioEconomic
}

// Set assigns one field by key
func (d *BeneficiaryDraft) Set(key string, value any) error { return setField(d, key, value) }

// MotherDraft is the record a hospital registers for a pregnant mother.
type MotherDraft struct {
	Personal
	Location
	SocioEconomic
	PregnancyHistory
	Vitals
	Conditions
}

// NewMotherDraft returns a draft with the intake defaults.
func NewMotherDraft() MotherDraft {
	return MotherDraft{PregnancyHistory: newPregnancyHistory()}
}

// Set assigns one field by key
func (d *MotherDraft) Set(key string, value any) error { return setField(d, key, value) }

// ApplicationDraft is a beneficiary's profile completion plus scheme
// application.
type ApplicationDraft struct {
	SchemeType string `json:"scheme_type"`
	HospitalID string `json:"hospital_id" intake:"int"`
	Personal
	Location
	SocioEconomic
	PregnancyHistory
	Vitals
	Conditions
}

// DefaultScheme is preselected on new applications.
const DefaultScheme = "JSY-like"

// NewApplicationDraft returns a draft with the application defaults.
func NewApplicationDraft() ApplicationDraft {
	return ApplicationDraft{SchemeType: DefaultScheme, PregnancyHistory: newPregnancyHistory()}
}

// Set assigns one field by key
func (d *ApplicationDraft) Set(key string, value any) error { return setField(d, key, value) }
