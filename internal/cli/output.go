// Package cli provides output formatting for trialscope commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/trialscope/trialscope/internal/models"
)

// OutputFormat is the format for match result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per trial, for piping.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteMatchResult writes a match result to w in the given format.
func WriteMatchResult(w io.Writer, result *models.MatchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case OutputCompact:
		writeMatchResultCompact(w, result)
		return nil
	default:
		writeMatchResultText(w, result)
		return nil
	}
}

func writeMatchResultText(w io.Writer, result *models.MatchResult) {
	fmt.Fprintf(w, "\nPatient %s: %d of %d matching trials in %dms (%s ranking)\n",
		result.Patient.PatientID, len(result.MatchedTrials), result.TotalMatches,
		result.QueryTimeMS, result.Outcome)
	if result.Patient.Query != "" {
		fmt.Fprintf(w, "Query: %s\n", result.Patient.Query)
	}
	fmt.Fprintln(w)
	for i, m := range result.MatchedTrials {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if m.Scored {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, m.SemanticScore)
		} else {
			fmt.Fprintf(w, "Rank: %d | Score: n/a\n", i+1)
		}
		fmt.Fprintf(w, "ID: %s\n", m.TrialID)
		fmt.Fprintf(w, "Title: %s\n", m.TrialTitle)
		fmt.Fprintf(w, "Eligibility: %s, %s\n", ageRange(&m.Trial), m.Sex)
		if len(m.Conditions) > 0 {
			fmt.Fprintf(w, "Conditions: %s\n", Truncate(strings.Join(m.Conditions, ", "), 200))
		}
		fmt.Fprintln(w)
	}
}

func writeMatchResultCompact(w io.Writer, result *models.MatchResult) {
	for _, m := range result.MatchedTrials {
		if m.Scored {
			fmt.Fprintf(w, "%s\t%.4f\t%s\n", m.TrialID, m.SemanticScore, m.TrialTitle)
		} else {
			fmt.Fprintf(w, "%s\t-\t%s\n", m.TrialID, m.TrialTitle)
		}
	}
}

// WriteEligibilitySummary writes a short text summary of an eligibility run.
func WriteEligibilitySummary(w io.Writer, result *models.EligibilityResult) {
	total := len(result.EligibleTrials) + len(result.IneligibleTrials) + len(result.IndeterminateTrials)
	fmt.Fprintf(w, "\nPatient %s evaluated against %d trials on %s\n",
		result.PatientID, total, result.EvaluationDate)
	fmt.Fprintf(w, "Eligible: %d | Ineligible: %d | Indeterminate: %d\n\n",
		len(result.EligibleTrials), len(result.IneligibleTrials), len(result.IndeterminateTrials))
	for _, t := range result.EligibleTrials {
		fmt.Fprintf(w, "  ELIGIBLE  %s  %.4f  %s\n", t.TrialID, t.SemanticScore, Truncate(t.TrialTitle, 80))
	}
	for _, t := range result.IndeterminateTrials {
		fmt.Fprintf(w, "  UNKNOWN   %s  %.4f  %s\n", t.TrialID, t.SemanticScore, Truncate(t.Error, 80))
	}
}

// PrintMatchResult prints a match result to stdout in text format.
func PrintMatchResult(result *models.MatchResult) {
	_ = WriteMatchResult(os.Stdout, result, OutputText)
}

// ageRange renders trial age bounds for display.
func ageRange(t *models.Trial) string {
	switch {
	case t.MinimumAge != nil && t.MaximumAge != nil:
		return fmt.Sprintf("ages %d-%d", *t.MinimumAge, *t.MaximumAge)
	case t.MinimumAge != nil:
		return fmt.Sprintf("ages %d+", *t.MinimumAge)
	case t.MaximumAge != nil:
		return fmt.Sprintf("ages up to %d", *t.MaximumAge)
	}
	return "all ages"
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
