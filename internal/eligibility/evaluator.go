// Package eligibility evaluates matched trials against their inclusion
// criteria with an LLM and buckets the outcomes per trial.
package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/models"
)

// ChatClient is the slice of the OpenAI client the evaluator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// TrialSource supplies full trial records, including eligibility criteria
// that the match pipeline does not carry.
type TrialSource interface {
	GetTrial(ctx context.Context, id string) (*models.Trial, error)
}

// Evaluator runs per-trial criterion assessment over the top matched trials.
type Evaluator struct {
	client ChatClient
	trials TrialSource
	cfg    config.EligibilityConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewEvaluator builds an evaluator from config.
func NewEvaluator(client ChatClient, trials TrialSource, cfg config.EligibilityConfig, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{client: client, trials: trials, cfg: cfg, logger: logger, now: time.Now}
}

// Evaluate assesses the top-k matched trials for the patient and buckets
// them: eligible when every criterion is met, indeterminate when evaluation
// failed, ineligible otherwise. Each bucket is sorted by descending
// semantic score.
func (e *Evaluator) Evaluate(ctx context.Context, patient *models.Patient, result *models.MatchResult) (*models.EligibilityResult, error) {
	if patient == nil || result == nil {
		return nil, fmt.Errorf("patient and match result are required")
	}
	topK := e.cfg.TopK
	if topK <= 0 || topK > len(result.MatchedTrials) {
		topK = len(result.MatchedTrials)
	}
	note := clinicalNote(patient)
	evaluationDate := e.now().Format("2006-01-02")

	out := &models.EligibilityResult{
		PatientID:           patient.PatientID,
		EvaluationDate:      evaluationDate,
		EligibleTrials:      []*models.TrialEligibility{},
		IneligibleTrials:    []*models.TrialEligibility{},
		IndeterminateTrials: []*models.TrialEligibility{},
	}

	for i, match := range result.MatchedTrials[:topK] {
		e.logger.Info("evaluating trial",
			zap.Int("position", i+1),
			zap.Int("total", topK),
			zap.String("trial_id", match.TrialID))
		te := e.evaluateTrial(ctx, note, evaluationDate, match)
		switch {
		case te.Error != "":
			out.IndeterminateTrials = append(out.IndeterminateTrials, te)
		case allMet(te.Verdicts):
			out.EligibleTrials = append(out.EligibleTrials, te)
		default:
			out.IneligibleTrials = append(out.IneligibleTrials, te)
		}
	}

	sortByScore(out.EligibleTrials)
	sortByScore(out.IneligibleTrials)
	sortByScore(out.IndeterminateTrials)
	return out, nil
}

func (e *Evaluator) evaluateTrial(ctx context.Context, note, evaluationDate string, match *models.CandidateMatch) *models.TrialEligibility {
	te := &models.TrialEligibility{
		TrialID:       match.TrialID,
		TrialTitle:    match.TrialTitle,
		SemanticScore: match.SemanticScore,
	}
	criteria := e.criteriaFor(ctx, match)
	prompt := buildPrompt(note, evaluationDate, criteria)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: float32(e.cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		te.Error = err.Error()
		return te
	}
	if len(resp.Choices) == 0 {
		te.Error = "empty completion response"
		return te
	}
	verdicts, err := parseVerdicts(resp.Choices[0].Message.Content)
	if err != nil {
		te.Error = err.Error()
		return te
	}
	te.Verdicts = verdicts
	return te
}

// criteriaFor returns the trial's stored inclusion criteria, falling back
// to criteria derived from the structured trial record when none are stored.
func (e *Evaluator) criteriaFor(ctx context.Context, match *models.CandidateMatch) []string {
	if e.trials != nil {
		if full, err := e.trials.GetTrial(ctx, match.TrialID); err == nil && len(full.InclusionCriteria) > 0 {
			return full.InclusionCriteria
		}
	}
	if len(match.InclusionCriteria) > 0 {
		return match.InclusionCriteria
	}
	return deriveCriteria(&match.Trial)
}

// deriveCriteria synthesizes criteria from the structured record so every
// trial gets a non-empty assessment.
func deriveCriteria(t *models.Trial) []string {
	var criteria []string
	switch {
	case t.MinimumAge != nil && t.MaximumAge != nil:
		criteria = append(criteria, fmt.Sprintf("Patient must be between %d and %d years of age", *t.MinimumAge, *t.MaximumAge))
	case t.MinimumAge != nil:
		criteria = append(criteria, fmt.Sprintf("Patient must be at least %d years of age", *t.MinimumAge))
	case t.MaximumAge != nil:
		criteria = append(criteria, fmt.Sprintf("Patient must be no more than %d years of age", *t.MaximumAge))
	}
	switch t.Sex {
	case models.TrialSexMale:
		criteria = append(criteria, "Patient must be male")
	case models.TrialSexFemale:
		criteria = append(criteria, "Patient must be female")
	}
	if len(t.Conditions) > 0 {
		criteria = append(criteria, "Patient must have one of the following conditions: "+strings.Join(t.Conditions, ", "))
	}
	if len(criteria) < 3 {
		criteria = append(criteria,
			"Patient must be able to provide informed consent",
			"Patient must be willing to comply with all study procedures")
	}
	return criteria
}

func buildPrompt(note, evaluationDate string, criteria []string) string {
	var formatted strings.Builder
	for i, c := range criteria {
		fmt.Fprintf(&formatted, "%d. %s\n", i+1, c)
	}
	return fmt.Sprintf(`# Task
Your job is to decide which of the following inclusion criteria the given patient meets.

# Patient
Below is a clinical note describing the patient's current health status:
`+"```"+`
%s
`+"```"+`

# Current Date
Assume that the current date is: %s

# Inclusion Criteria
The inclusion criteria being assessed are listed below, followed by their definitions:
%s
# Assessment
For each of the criteria above, use the patient's clinical note to determine whether the patient meets each criteria. Think step by step, and justify your answer.

Format your response as a JSON list of dictionaries, where each dictionary contains the following elements:
* criterion: str - The name of the criterion being assessed
* medications_and_supplements: List[str] - The names of all current medications and supplements that the patient is taking
* rationale: str - Your reasoning as to why the patient does or does not meet that criterion
* is_met: bool - "true" if the patient meets that criterion, or it can be inferred that they meet that criterion with common sense. "false" if the patient does not or it is impossible to assess this given the provided information.
* confidence: str - Either "low", "medium", or "high" to reflect your confidence in your response

Please provide your JSON response:
`, note, evaluationDate, formatted.String())
}

// parseVerdicts extracts the JSON list from a completion, tolerating fenced
// code blocks around it.
func parseVerdicts(content string) ([]models.CriterionVerdict, error) {
	text := strings.TrimSpace(content)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+len("```"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	var verdicts []models.CriterionVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &verdicts); err != nil {
		return nil, fmt.Errorf("parse criterion verdicts: %w", err)
	}
	return verdicts, nil
}

// clinicalNote renders the patient record in the form the prompt expects.
func clinicalNote(p *models.Patient) string {
	var sb strings.Builder
	sb.WriteString("Patient Demographics: " + orDefault(demographicSummary(p), "Not available") + "\n\n")
	sb.WriteString("Medical Conditions: " + orDefault(conditionSummary(p), "None recorded") + "\n\n")
	sb.WriteString("Current Medications: " + orDefault(medicationSummary(p), "None recorded") + "\n\n")
	sb.WriteString("Recent Lab Results: " + orDefault(labSummary(p), "None recorded") + "\n\n")
	sb.WriteString("Recent Procedures: " + orDefault(procedureSummary(p), "None recorded"))
	return sb.String()
}

func demographicSummary(p *models.Patient) string {
	var parts []string
	if p.Demographics.Age != nil {
		parts = append(parts, fmt.Sprintf("%d years old", *p.Demographics.Age))
	}
	switch p.MappedSex() {
	case models.TrialSexMale:
		parts = append(parts, "male")
	case models.TrialSexFemale:
		parts = append(parts, "female")
	}
	return strings.Join(parts, ", ")
}

func conditionSummary(p *models.Patient) string {
	var parts []string
	for _, c := range p.Conditions {
		if c.Name == "" {
			continue
		}
		if c.OnsetDate != "" {
			parts = append(parts, c.Name+" (onset "+c.OnsetDate+")")
		} else {
			parts = append(parts, c.Name)
		}
	}
	return strings.Join(parts, "; ")
}

func medicationSummary(p *models.Patient) string {
	var parts []string
	for _, m := range p.Medications {
		if m.Name == "" {
			continue
		}
		entry := m.Name
		if m.Dose != "" {
			entry += " " + m.Dose + m.Unit
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, "; ")
}

func labSummary(p *models.Patient) string {
	var parts []string
	for _, l := range p.Labs {
		if l.Name == "" {
			continue
		}
		entry := l.Name + " " + l.Value
		if l.Unit != "" {
			entry += " " + l.Unit
		}
		if l.ReferenceRange != "" {
			entry += " (ref " + l.ReferenceRange + ")"
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, "; ")
}

func procedureSummary(p *models.Patient) string {
	var parts []string
	for _, pr := range p.Procedures {
		if pr.Name == "" {
			continue
		}
		if pr.Date != "" {
			parts = append(parts, pr.Name+" ("+pr.Date+")")
		} else {
			parts = append(parts, pr.Name)
		}
	}
	return strings.Join(parts, "; ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func allMet(verdicts []models.CriterionVerdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, v := range verdicts {
		if !v.IsMet {
			return false
		}
	}
	return true
}

func sortByScore(trials []*models.TrialEligibility) {
	sort.SliceStable(trials, func(i, j int) bool {
		return trials[i].SemanticScore > trials[j].SemanticScore
	})
}
