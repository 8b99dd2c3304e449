// Package synth builds the natural-language semantic search query for a
// patient. Synthesize is pure and deterministic: the same record always
// yields the same string, and malformed data silently drops a clause
// instead of failing the pipeline.
package synth

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trialscope/trialscope/internal/models"
)

// FallbackQuery is returned when no clause produced any content.
const FallbackQuery = "patient requires clinical trial matching"

// salientTerms marks clinically relevant sentences in Assessment/Plan notes.
// Data-driven so the vocabulary can be extended without touching the
// selection logic.
var salientTerms = []string{
	"recommended", "referred", "indicated", "suspected",
	"diagnosed", "assessment", "plan", "follow-up", "risk",
	"monitoring", "considering", "evaluated", "eligible",
}

const (
	maxConditions    = 3
	maxMedications   = 3
	maxAbnormalLabs  = 2
	maxProcedures    = 2
	maxNoteSentences = 2
	maxSentenceLen   = 100
)

// Synthesize builds a single descriptive query sentence from the patient
// record, clause by clause in fixed order.
func Synthesize(p *models.Patient) string {
	if p == nil {
		return FallbackQuery
	}
	var parts []string
	if c := demographicClause(p); c != "" {
		parts = append(parts, c)
	}
	if c := conditionClause(p.Conditions); c != "" {
		parts = append(parts, c)
	}
	if c := medicationClause(p.Medications); c != "" {
		parts = append(parts, c)
	}
	if c := abnormalLabClause(p.Labs); c != "" {
		parts = append(parts, c)
	}
	if c := procedureClause(p.Procedures); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, noteClauses(p.ClinicalNotes)...)

	if len(parts) == 0 {
		return FallbackQuery
	}
	return strings.Join(parts, " ")
}

func demographicClause(p *models.Patient) string {
	age := p.Demographics.Age
	var sexWord string
	switch p.Demographics.Sex {
	case models.SexMale, "Male":
		sexWord = "male"
	case models.SexFemale, "Female":
		sexWord = "female"
	}
	switch {
	case age != nil && sexWord != "":
		return fmt.Sprintf("%d-year-old %s patient", *age, sexWord)
	case age != nil:
		return fmt.Sprintf("%d-year-old patient", *age)
	case sexWord == "male":
		return "Male patient"
	case sexWord == "female":
		return "Female patient"
	}
	return ""
}

func conditionClause(conditions []models.Condition) string {
	named := make([]models.Condition, 0, len(conditions))
	for _, c := range conditions {
		if c.Name != "" {
			named = append(named, c)
		}
	}
	if len(named) == 0 {
		return ""
	}
	// Most recent onset first; ISO dates compare lexically. Stable so
	// equal (or absent) dates keep input order.
	sort.SliceStable(named, func(i, j int) bool { return named[i].OnsetDate > named[j].OnsetDate })
	names := make([]string, 0, maxConditions)
	for _, c := range named {
		names = append(names, c.Name)
		if len(names) == maxConditions {
			break
		}
	}
	return "diagnosed with " + joinWithAnd(names)
}

func medicationClause(medications []models.Medication) string {
	var names []string
	for _, m := range medications {
		if m.Name == "" {
			continue
		}
		names = append(names, m.Name)
		if len(names) == maxMedications {
			break
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "currently taking " + joinWithAnd(names)
}

// abnormalLabClause reports labs whose numeric value falls outside a parsed
// "low-high" reference range. Included only when exactly one or two labs
// qualify; anything unparseable is skipped without error.
func abnormalLabClause(labs []models.Lab) string {
	var abnormal []string
	for _, lab := range labs {
		if lab.Name == "" || lab.Value == "" {
			continue
		}
		low, high, ok := parseReferenceRange(lab.ReferenceRange)
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(lab.Value), 64)
		if err != nil {
			continue
		}
		if value < low || value > high {
			abnormal = append(abnormal, strings.TrimSpace(lab.Name+" "+lab.Value+" "+lab.Unit))
		}
	}
	if len(abnormal) == 0 || len(abnormal) > maxAbnormalLabs {
		return ""
	}
	return "with abnormal " + strings.Join(abnormal, " and ")
}

// parseReferenceRange parses a "low-high" range. Returns ok=false for any
// other shape, including ranges with non-numeric endpoints.
func parseReferenceRange(r string) (low, high float64, ok bool) {
	before, after, found := strings.Cut(r, "-")
	if !found {
		return 0, 0, false
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(before), 64)
	if err != nil {
		return 0, 0, false
	}
	high, err = strconv.ParseFloat(strings.TrimSpace(after), 64)
	if err != nil {
		return 0, 0, false
	}
	return low, high, true
}

func procedureClause(procedures []models.Procedure) string {
	named := make([]models.Procedure, 0, len(procedures))
	for _, p := range procedures {
		if p.Name != "" {
			named = append(named, p)
		}
	}
	if len(named) == 0 {
		return ""
	}
	sort.SliceStable(named, func(i, j int) bool { return named[i].Date > named[j].Date })
	names := make([]string, 0, maxProcedures)
	for _, p := range named {
		names = append(names, p.Name)
		if len(names) == maxProcedures {
			break
		}
	}
	return "underwent " + strings.Join(names, " and ")
}

// noteClauses extracts up to two salient sentences from the most recent
// Assessment/Plan note.
func noteClauses(notes []models.ClinicalNote) []string {
	var assessments []models.ClinicalNote
	for _, n := range notes {
		if strings.Contains(n.Type, "Assessment") || strings.Contains(n.Type, "Plan") {
			assessments = append(assessments, n)
		}
	}
	if len(assessments) == 0 {
		return nil
	}
	sort.SliceStable(assessments, func(i, j int) bool { return assessments[i].Date > assessments[j].Date })
	latest := assessments[0]

	var clauses []string
	for _, sentence := range splitSentences(latest.Content) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" || len(sentence) >= maxSentenceLen {
			continue
		}
		if !containsSalientTerm(sentence) {
			continue
		}
		clauses = append(clauses, "note: "+sentence)
		if len(clauses) == maxNoteSentences {
			break
		}
	}
	return clauses
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func containsSalientTerm(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, term := range salientTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// joinWithAnd renders "A", "A and B", or "A, B and C".
func joinWithAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
