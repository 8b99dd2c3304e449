package models

// Trial sex eligibility values as stored in the registry.
const (
	TrialSexMale   = "MALE"
	TrialSexFemale = "FEMALE"
	TrialSexAll    = "ALL"
)

// Intervention is a trial intervention (type + name, e.g. "DRUG: Metformin").
type Intervention struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Describe returns the "TYPE: name" form used in embedding documents and output.
func (i Intervention) Describe() string {
	if i.Type == "" {
		return i.Name
	}
	return i.Type + ": " + i.Name
}

// Trial is one registered clinical trial. Age bounds are nil when the trial
// places no bound on that side (NULL in the store means unbounded).
// Invariant: MinimumAge <= MaximumAge when both are set.
type Trial struct {
	TrialID                  string         `json:"trial_id" db:"trial_id"`
	TrialTitle               string         `json:"trial_title" db:"trial_title"`
	MinimumAge               *int           `json:"minimum_age" db:"minimum_age"`
	MaximumAge               *int           `json:"maximum_age" db:"maximum_age"`
	Sex                      string         `json:"sex" db:"sex"`
	AcceptsHealthyVolunteers bool           `json:"accepts_healthy_volunteers" db:"accepts_healthy_volunteers"`
	ParticipantCount         int            `json:"participant_count,omitempty" db:"participant_count"`
	Conditions               []string       `json:"conditions"`
	Interventions            []Intervention `json:"interventions"`
	InclusionCriteria        []string       `json:"inclusion_criteria,omitempty"`
	ExclusionCriteria        []string       `json:"exclusion_criteria,omitempty"`
}

// CandidateMatch is a trial that passed the structured filter, annotated with
// a semantic similarity score during ranking. Scored reports whether ranking
// produced a score (false on the degraded path).
type CandidateMatch struct {
	Trial
	SemanticScore float64 `json:"semantic_score"`
	Scored        bool    `json:"-"`
}
