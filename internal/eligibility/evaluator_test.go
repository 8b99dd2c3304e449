package eligibility

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/models"
)

// scriptedClient returns canned completions keyed by trial title substring.
type scriptedClient struct {
	responses map[string]string
	err       error
	prompts   []string
}

func (c *scriptedClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	c.prompts = append(c.prompts, prompt)
	for key, body := range c.responses {
		if strings.Contains(prompt, key) {
			return completion(body), nil
		}
	}
	return completion(`[]`), nil
}

func completion(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

const metVerdicts = `[
  {"criterion": "Age requirement", "rationale": "Patient is 58", "is_met": true, "confidence": "high"},
  {"criterion": "Diagnosis", "rationale": "Has the condition", "is_met": true, "confidence": "high"}
]`

const unmetVerdicts = `[
  {"criterion": "Age requirement", "rationale": "Patient is 58", "is_met": true, "confidence": "high"},
  {"criterion": "No prior insulin use", "rationale": "Patient takes insulin", "is_met": false, "confidence": "medium"}
]`

func intp(v int) *int { return &v }

func testPatient() *models.Patient {
	return &models.Patient{
		PatientID:    "P001",
		Demographics: models.Demographics{Age: intp(58), Sex: models.SexMale},
		Conditions:   []models.Condition{{Name: "Type 2 Diabetes"}},
		Medications:  []models.Medication{{Name: "Metformin", Dose: "500", Unit: "mg"}},
	}
}

func matchResult(matches ...*models.CandidateMatch) *models.MatchResult {
	return &models.MatchResult{
		Patient:       models.PatientSummary{PatientID: "P001"},
		MatchedTrials: matches,
		TotalMatches:  len(matches),
	}
}

func candidate(id, title string, score float64, criteria ...string) *models.CandidateMatch {
	return &models.CandidateMatch{
		Trial: models.Trial{
			TrialID:           id,
			TrialTitle:        title,
			InclusionCriteria: criteria,
		},
		SemanticScore: score,
		Scored:        true,
	}
}

func TestEvaluateBucketsTrials(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"Age 18 to 75":  metVerdicts,
		"Insulin naive": unmetVerdicts,
	}}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{Model: "gpt-4o-mini", TopK: 20}, nil)

	result, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.9, "Age 18 to 75"),
		candidate("NCT002", "Trial B", 0.8, "Insulin naive"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.EligibleTrials) != 1 || result.EligibleTrials[0].TrialID != "NCT001" {
		t.Errorf("eligible = %v, want NCT001", result.EligibleTrials)
	}
	if len(result.IneligibleTrials) != 1 || result.IneligibleTrials[0].TrialID != "NCT002" {
		t.Errorf("ineligible = %v, want NCT002", result.IneligibleTrials)
	}
	if len(result.IndeterminateTrials) != 0 {
		t.Errorf("indeterminate = %v, want none", result.IndeterminateTrials)
	}
	if got := result.EligibleTrials[0].MetFraction(); got != 1 {
		t.Errorf("met fraction = %f, want 1", got)
	}
}

func TestEvaluateClientErrorIsIndeterminate(t *testing.T) {
	client := &scriptedClient{err: errors.New("rate limited")}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{TopK: 5}, nil)

	result, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.9, "Age 18 to 75"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.IndeterminateTrials) != 1 {
		t.Fatalf("indeterminate = %d, want 1", len(result.IndeterminateTrials))
	}
	if result.IndeterminateTrials[0].Error == "" {
		t.Error("indeterminate trial must carry the error")
	}
}

func TestEvaluateMalformedResponseIsIndeterminate(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"Age 18 to 75": "I cannot answer in JSON, sorry.",
	}}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{TopK: 5}, nil)

	result, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.9, "Age 18 to 75"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.IndeterminateTrials) != 1 {
		t.Errorf("indeterminate = %d, want 1", len(result.IndeterminateTrials))
	}
}

func TestEvaluateRespectsTopK(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{"Age": metVerdicts}}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{TopK: 1}, nil)

	result, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.9, "Age 18 to 75"),
		candidate("NCT002", "Trial B", 0.8, "Age 20 to 60"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	total := len(result.EligibleTrials) + len(result.IneligibleTrials) + len(result.IndeterminateTrials)
	if total != 1 {
		t.Errorf("evaluated %d trials, want 1", total)
	}
}

func TestEvaluateSortsBucketsByScore(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{"Age": metVerdicts}}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{TopK: 10}, nil)

	result, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.5, "Age 18 to 75"),
		candidate("NCT002", "Trial B", 0.9, "Age 18 to 75"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.EligibleTrials) != 2 || result.EligibleTrials[0].TrialID != "NCT002" {
		t.Errorf("buckets must be sorted by descending score: %v", result.EligibleTrials)
	}
}

func TestParseVerdictsFencedJSON(t *testing.T) {
	fenced := "Here you go:\n```json\n" + metVerdicts + "\n```\nLet me know."
	verdicts, err := parseVerdicts(fenced)
	if err != nil {
		t.Fatalf("parseVerdicts: %v", err)
	}
	if len(verdicts) != 2 || !verdicts[0].IsMet {
		t.Errorf("got %v", verdicts)
	}

	bare := "```\n" + metVerdicts + "\n```"
	if _, err := parseVerdicts(bare); err != nil {
		t.Errorf("bare fence should parse: %v", err)
	}
}

func TestDeriveCriteria(t *testing.T) {
	t.Run("from structured record", func(t *testing.T) {
		criteria := deriveCriteria(&models.Trial{
			MinimumAge: intp(18),
			MaximumAge: intp(65),
			Sex:        models.TrialSexFemale,
			Conditions: []string{"Asthma"},
		})
		if len(criteria) != 3 {
			t.Fatalf("got %d criteria: %v", len(criteria), criteria)
		}
		if criteria[0] != "Patient must be between 18 and 65 years of age" {
			t.Errorf("age criterion = %q", criteria[0])
		}
	})
	t.Run("sparse record gets consent placeholders", func(t *testing.T) {
		criteria := deriveCriteria(&models.Trial{Sex: models.TrialSexAll})
		if len(criteria) < 2 {
			t.Errorf("got %v, want placeholder criteria", criteria)
		}
	})
}

func TestPromptCarriesNoteAndDate(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{"Age": metVerdicts}}
	ev := NewEvaluator(client, nil, config.EligibilityConfig{TopK: 1}, nil)

	_, err := ev.Evaluate(context.Background(), testPatient(), matchResult(
		candidate("NCT001", "Trial A", 0.9, "Age 18 to 75"),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(client.prompts))
	}
	prompt := client.prompts[0]
	for _, want := range []string{"58 years old, male", "Metformin 500mg", "Assume that the current date is:", "1. Age 18 to 75"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
