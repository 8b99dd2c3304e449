package models

// Confidence levels reported by the eligibility evaluator.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// CriterionVerdict is the evaluator's decision on a single inclusion criterion.
type CriterionVerdict struct {
	Criterion                 string   `json:"criterion"`
	MedicationsAndSupplements []string `json:"medications_and_supplements,omitempty"`
	Rationale                 string   `json:"rationale"`
	IsMet                     bool     `json:"is_met"`
	Confidence                string   `json:"confidence"`
}

// TrialEligibility holds the per-criterion verdicts for one trial.
type TrialEligibility struct {
	TrialID       string             `json:"trial_id"`
	TrialTitle    string             `json:"trial_title"`
	SemanticScore float64            `json:"semantic_score"`
	Verdicts      []CriterionVerdict `json:"criteria_evaluations"`
	Error         string             `json:"error,omitempty"`
}

// MetFraction returns the fraction of criteria met, or 0 when no criteria
// were evaluated.
func (t *TrialEligibility) MetFraction() float64 {
	if len(t.Verdicts) == 0 {
		return 0
	}
	met := 0
	for _, v := range t.Verdicts {
		if v.IsMet {
			met++
		}
	}
	return float64(met) / float64(len(t.Verdicts))
}

// EligibilityResult is the full evaluation output for one patient, with
// trials bucketed by how many inclusion criteria they met.
type EligibilityResult struct {
	PatientID           string              `json:"patientId"`
	EvaluationDate      string              `json:"evaluation_date"`
	EligibleTrials      []*TrialEligibility `json:"eligible_trials"`
	IneligibleTrials    []*TrialEligibility `json:"ineligible_trials"`
	IndeterminateTrials []*TrialEligibility `json:"indeterminate_trials"`
}
