// Package models defines core data structures for patients, trials, and match results.
package models

// Sex values used in patient demographics.
const (
	SexMale    = "M"
	SexFemale  = "F"
	SexUnknown = "unknown"
)

// Demographics holds patient demographic fields. Age is nil when unknown;
// filtering treats an unknown attribute as "no constraint".
type Demographics struct {
	Age *int   `json:"age"`
	Sex string `json:"sex,omitempty"`
}

// Condition is a diagnosed condition with an optional onset date (ISO 8601 or empty).
type Condition struct {
	Name      string `json:"name"`
	OnsetDate string `json:"onsetDate,omitempty"`
}

// Medication is a current medication entry.
type Medication struct {
	Name string `json:"name"`
	Dose string `json:"dose,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// Lab is a laboratory result. ReferenceRange is free text, typically "low-high";
// anything else is ignored by abnormality detection.
type Lab struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"referenceRange,omitempty"`
	Date           string `json:"date,omitempty"`
}

// Procedure is a performed procedure with an optional date.
type Procedure struct {
	Name string `json:"name"`
	Date string `json:"date,omitempty"`
}

// ClinicalNote is a free-text note with its declared type (e.g. "Assessment and Plan").
type ClinicalNote struct {
	Type    string `json:"type"`
	Date    string `json:"date,omitempty"`
	Content string `json:"content"`
}

// Patient is a parsed patient record. Produced by an external document parser
// and immutable once loaded.
type Patient struct {
	PatientID     string         `json:"patientId"`
	Demographics  Demographics   `json:"demographics"`
	Conditions    []Condition    `json:"conditions,omitempty"`
	Medications   []Medication   `json:"medications,omitempty"`
	Labs          []Lab          `json:"labs,omitempty"`
	Procedures    []Procedure    `json:"procedures,omitempty"`
	ClinicalNotes []ClinicalNote `json:"clinicalNotes,omitempty"`
}

// MappedSex converts the patient sex to the trial registry format
// ("MALE"/"FEMALE"). Returns "" when the sex is unknown or unmappable.
func (p *Patient) MappedSex() string {
	switch p.Demographics.Sex {
	case SexMale, "Male":
		return TrialSexMale
	case SexFemale, "Female":
		return TrialSexFemale
	}
	return ""
}
