package intake

import "reflect"

var States = []string{
	"Andhra Pradesh", "Arunachal Pradesh", "Assam", "Bihar", "Chhattisgarh",
	"Goa", "Gujarat", "Haryana", "Himachal Pradesh", "Jharkhand",
	"Karnataka", "Kerala", "Madhya Pradesh", "Maharashtra", "Manipur",
	"Meghalaya", "Mizoram", "Nagaland", "Odisha", "Punjab",
	"Rajasthan", "Sikkim", "Tamil Nadu", "Telangana", "Tripura",
	"Uttar Pradesh", "Uttarakhand", "West Bengal",
}

var EducationLevels = []string{
	"Illiterate", "Primary (1-5)", "Middle (6-8)", "Secondary (9-10)",
	"Higher Secondary (11-12)", "Graduate", "Post Graduate", "Professional",
}

var CasteCategories = []string{"General", "OBC", "SC", "ST"}

var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// FieldSpec describes a draft key for form rendering.
type FieldSpec struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Kind     Kind     `json:"kind"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

var labels = map[string]string{
	"name":                           "Full Name",
	"phone":                          "Phone",
	"age":                            "Age",
	"rch_id":                         "RCH ID",
	"state":                          "State",
	"district":                       "District",
	"block":                          "Block",
	"village":                        "Village",
	"address":                        "Address",
	"education":                      "Education",
	"occupation":                     "Occupation",
	"caste_category":                 "Caste Category",
	"bpl_card":                       "BPL Card Holder",
	"pmjay_id":                       "PMJAY ID",
	"aadhaar_linked":                 "Aadhaar Linked",
	"lmp_date":                       "LMP Date (Last Menstrual Period)",
	"blood_group":                    "Blood Group",
	"gravida":                        "Gravida (Total Pregnancies)",
	"para":                           "Para (Previous Deliveries)",
	"anc_visits_completed":           "ANC Visits Completed",
	"tt_doses":                       "TT Doses",
	"ifa_tablets":                    "IFA Tablets Given",
	"usg_done":                       "USG Done",
	"rh_negative":                    "Rh Negative",
	"institutional_delivery_planned": "Institutional Delivery Planned",
	"height_cm":                      "Height (cm)",
	"weight_kg":                      "Weight (kg)",
	"hb_level":                       "Hb Level (g/dL)",
	"bp_systolic":                    "BP Systolic (mmHg)",
	"bp_diastolic":                   "BP Diastolic (mmHg)",
	"anemia":                         "Anemia",
	"high_bp":                        "High BP",
	"diabetes":                       "Diabetes",
	"thyroid":                        "Thyroid",
	"hiv_positive":                   "HIV Positive",
	"syphilis_positive":              "Syphilis Positive",
	"previous_csection":              "Previous C-Section",
	"multiple_pregnancy":             "Multiple Pregnancy",
	"danger_signs":                   "Danger Signs",
	"scheme_type":                    "Scheme",
	"hospital_id":                    "Hospital",
}

var options = map[string][]string{
	"state":          States,
	"education":      EducationLevels,
	"caste_category": CasteCategories,
	"blood_group":    BloodGroups,
}

var required = map[string]bool{
	"name": true, "phone": true, "age": true, "district": true, "block": true,
}

// Spec describes key for the flow's draft type. The second result is
// false for keys the flow does not know.
func Spec(flow, key string) (FieldSpec, bool) {
	t, ok := draftTypes[flow]
	if !ok {
		return FieldSpec{}, false
	}
	f, ok := schemaOf(t).byKey[key]
	if !ok {
		return FieldSpec{}, false
	}

	label := labels[key]
	if label == "" {
		label = key
	}
	return FieldSpec{
		Key:      key,
		Label:    label,
		Kind:     f.kind,
		Required: required[key],
		Options:  options[key],
	}, true
}

// Keys lists every draft key of a flow.
func Keys(flow string) []string {
	t, ok := draftTypes[flow]
	if !ok {
		return nil
	}
	return keysOf(t)
}

var draftTypes = map[string]reflect.Type{
	FlowSelfRegistration:  reflect.TypeOf(BeneficiaryDraft{}),
	FlowStaffIntake:       reflect.TypeOf(MotherDraft{}),
	FlowSchemeApplication: reflect.TypeOf(ApplicationDraft{}),
}
