package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/trialscope/trialscope/internal/models"
)

// MergeResult packages one matching run into the interchange form consumed
// by the eligibility evaluator and report generator.
func MergeResult(patient *models.Patient, query string, matches []*models.CandidateMatch, total int, outcome models.RankOutcome, elapsed time.Duration) *models.MatchResult {
	if matches == nil {
		matches = []*models.CandidateMatch{}
	}
	var patientID string
	if patient != nil {
		patientID = patient.PatientID
	}
	return &models.MatchResult{
		RunID: uuid.NewString(),
		Patient: models.PatientSummary{
			PatientID: patientID,
			Query:     query,
		},
		MatchedTrials: matches,
		TotalMatches:  total,
		Outcome:       outcome,
		QueryTimeMS:   elapsed.Milliseconds(),
	}
}
