package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/trialscope/trialscope/internal/models"
)

func intp(v int) *int { return &v }

func sampleResult() *models.MatchResult {
	return &models.MatchResult{
		RunID: "run-1",
		Patient: models.PatientSummary{
			PatientID: "P001",
			Query:     "58-year-old male patient diagnosed with Type 2 Diabetes",
		},
		MatchedTrials: []*models.CandidateMatch{
			{
				Trial: models.Trial{
					TrialID:    "NCT001",
					TrialTitle: "Metformin in Type 2 Diabetes",
					MinimumAge: intp(18),
					MaximumAge: intp(75),
					Sex:        models.TrialSexAll,
					Conditions: []string{"Type 2 Diabetes"},
				},
				SemanticScore: 0.9132,
				Scored:        true,
			},
		},
		TotalMatches: 4,
		Outcome:      models.OutcomePrimary,
		QueryTimeMS:  12,
	}
}

func TestWriteMatchResultText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResult(&buf, sampleResult(), OutputText); err != nil {
		t.Fatalf("WriteMatchResult: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Patient P001: 1 of 4 matching trials",
		"primary ranking",
		"Score: 0.9132",
		"ID: NCT001",
		"ages 18-75, ALL",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMatchResultTextUnscored(t *testing.T) {
	result := sampleResult()
	result.Outcome = models.OutcomeDegraded
	result.MatchedTrials[0].Scored = false
	result.MatchedTrials[0].SemanticScore = 0

	var buf bytes.Buffer
	if err := WriteMatchResult(&buf, result, OutputText); err != nil {
		t.Fatalf("WriteMatchResult: %v", err)
	}
	if !strings.Contains(buf.String(), "Score: n/a") {
		t.Errorf("unscored match should render n/a:\n%s", buf.String())
	}
}

func TestWriteMatchResultCompact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResult(&buf, sampleResult(), OutputCompact); err != nil {
		t.Fatalf("WriteMatchResult: %v", err)
	}
	if got := buf.String(); got != "NCT001\t0.9132\tMetformin in Type 2 Diabetes\n" {
		t.Errorf("compact output = %q", got)
	}
}

func TestWriteMatchResultJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatchResult(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatalf("WriteMatchResult: %v", err)
	}
	var decoded models.MatchResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.TotalMatches != 4 || decoded.MatchedTrials[0].TrialID != "NCT001" {
		t.Errorf("decoded = %+v", decoded)
	}
	// Interchange field names stay stable for downstream consumers.
	for _, want := range []string{`"matched_trials"`, `"total_matches"`, `"semantic_score"`, `"patientId"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("JSON output missing field %s", want)
		}
	}
}

func TestWriteEligibilitySummary(t *testing.T) {
	var buf bytes.Buffer
	WriteEligibilitySummary(&buf, &models.EligibilityResult{
		PatientID:      "P001",
		EvaluationDate: "2026-08-24",
		EligibleTrials: []*models.TrialEligibility{
			{TrialID: "NCT001", TrialTitle: "Trial A", SemanticScore: 0.91},
		},
		IneligibleTrials: []*models.TrialEligibility{
			{TrialID: "NCT002", TrialTitle: "Trial B", SemanticScore: 0.72},
		},
		IndeterminateTrials: []*models.TrialEligibility{},
	})
	out := buf.String()
	if !strings.Contains(out, "evaluated against 2 trials") {
		t.Errorf("summary missing totals:\n%s", out)
	}
	if !strings.Contains(out, "ELIGIBLE  NCT001") {
		t.Errorf("summary missing eligible line:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abcd..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abc", 4); got != "abc" {
		t.Errorf("got %q", got)
	}
}
