package models

// RankOutcome identifies which ranking path produced a result.
type RankOutcome string

const (
	// OutcomePrimary: the vector index answered the (possibly unrestricted) query.
	OutcomePrimary RankOutcome = "primary"
	// OutcomeFallback: direct embedding + cosine similarity was used.
	OutcomeFallback RankOutcome = "fallback"
	// OutcomeDegraded: ranking failed entirely; candidates are unscored, in filter order.
	OutcomeDegraded RankOutcome = "degraded"
)

// MatchRequest describes one matching run.
type MatchRequest struct {
	CandidateLimit int `json:"candidate_limit,omitempty"` // cap on structured-filter candidates (0 = store default)
	TopK           int `json:"top_k,omitempty"`           // ranked results returned (0 = all)
}

// PatientSummary holds the searchable summary fields attached to a match result.
type PatientSummary struct {
	PatientID string `json:"patientId"`
	Query     string `json:"semantic_search_query"`
}

// MatchResult is the final packaged output of one matching run.
// Field names follow the interchange contract consumed by the eligibility
// evaluator and report generator.
type MatchResult struct {
	RunID         string            `json:"run_id,omitempty"`
	Patient       PatientSummary    `json:"patient"`
	MatchedTrials []*CandidateMatch `json:"matched_trials"`
	// TotalMatches is the structured-filter match count before any cap;
	// always >= len(MatchedTrials).
	TotalMatches int         `json:"total_matches"`
	Outcome      RankOutcome `json:"rank_outcome"`
	QueryTimeMS  int64       `json:"query_time_ms,omitempty"`
}
