package match

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/embedding"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/trialstore"
)

func intp(v int) *int { return &v }

func newTestStore(t *testing.T, trials []*models.Trial) *trialstore.Store {
	t.Helper()
	store, err := trialstore.Create(filepath.Join(t.TempDir(), "trials.db"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, tr := range trials {
		if err := store.InsertTrial(context.Background(), tr); err != nil {
			t.Fatalf("InsertTrial %s: %v", tr.TrialID, err)
		}
	}
	return store
}

func fiveTrials() []*models.Trial {
	return []*models.Trial{
		{TrialID: "NCT001", TrialTitle: "Metformin in Type 2 Diabetes", Sex: models.TrialSexAll, Conditions: []string{"Type 2 Diabetes"}},
		{TrialID: "NCT002", TrialTitle: "Statin Therapy for Hyperlipidemia", Sex: models.TrialSexAll, Conditions: []string{"Hyperlipidemia"}},
		{TrialID: "NCT003", TrialTitle: "Inhaled Corticosteroids in Asthma", Sex: models.TrialSexAll, Conditions: []string{"Asthma"}},
		{TrialID: "NCT004", TrialTitle: "SGLT2 Inhibitors in Heart Failure", Sex: models.TrialSexAll, Conditions: []string{"Heart Failure"}},
		{TrialID: "NCT005", TrialTitle: "GLP-1 Agonists for Obesity", Sex: models.TrialSexAll, Conditions: []string{"Obesity"}},
	}
}

func TestEngineMatchTopK(t *testing.T) {
	store := newTestStore(t, fiveTrials())
	emb := embedding.NewMockEmbedder(testDims)
	engine := NewEngine(store, NewRanker(nil, emb, nil), config.MatchConfig{CandidateLimit: 1000}, nil)

	patient := &models.Patient{
		PatientID:    "P001",
		Demographics: models.Demographics{Age: intp(60), Sex: models.SexFemale},
		Conditions:   []models.Condition{{Name: "Type 2 Diabetes"}},
	}
	result, err := engine.Match(context.Background(), patient, models.MatchRequest{TopK: 2})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(result.MatchedTrials) != 2 {
		t.Errorf("got %d matched trials, want 2", len(result.MatchedTrials))
	}
	if result.TotalMatches != 5 {
		t.Errorf("total_matches = %d, want 5 (pre-cap count)", result.TotalMatches)
	}
	if result.Outcome != models.OutcomeFallback {
		t.Errorf("outcome = %s, want fallback without an index", result.Outcome)
	}
	if result.Patient.PatientID != "P001" {
		t.Errorf("patient id = %s", result.Patient.PatientID)
	}
	if result.Patient.Query == "" {
		t.Error("result must carry the synthesized query")
	}
	if result.RunID == "" {
		t.Error("result must carry a run id")
	}
}

func TestEngineMatchCandidateLimitKeepsTotal(t *testing.T) {
	store := newTestStore(t, fiveTrials())
	emb := embedding.NewMockEmbedder(testDims)
	engine := NewEngine(store, NewRanker(nil, emb, nil), config.MatchConfig{}, nil)

	patient := &models.Patient{PatientID: "P002"}
	result, err := engine.Match(context.Background(), patient, models.MatchRequest{CandidateLimit: 3})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(result.MatchedTrials) != 3 {
		t.Errorf("got %d matched trials, want 3 (capped)", len(result.MatchedTrials))
	}
	if result.TotalMatches != 5 {
		t.Errorf("total_matches = %d, want 5", result.TotalMatches)
	}
}

func TestEngineMatchUnknownDemographicsMatchEverything(t *testing.T) {
	store := newTestStore(t, []*models.Trial{
		{TrialID: "NCT010", TrialTitle: "Adults Only", MinimumAge: intp(18), MaximumAge: intp(65), Sex: models.TrialSexMale},
		{TrialID: "NCT011", TrialTitle: "Seniors", MinimumAge: intp(65), Sex: models.TrialSexAll},
	})
	engine := NewEngine(store, NewRanker(nil, embedding.NewMockEmbedder(testDims), nil), config.MatchConfig{CandidateLimit: 100}, nil)

	result, err := engine.Match(context.Background(), &models.Patient{PatientID: "P003"}, models.MatchRequest{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.TotalMatches != 2 {
		t.Errorf("unknown demographics must not exclude: total = %d, want 2", result.TotalMatches)
	}
}

func TestEngineMatchNoCandidates(t *testing.T) {
	store := newTestStore(t, []*models.Trial{
		{TrialID: "NCT020", TrialTitle: "Pediatric Study", MaximumAge: intp(12), Sex: models.TrialSexAll},
	})
	engine := NewEngine(store, NewRanker(nil, embedding.NewMockEmbedder(testDims), nil), config.MatchConfig{CandidateLimit: 100}, nil)

	patient := &models.Patient{
		PatientID:    "P004",
		Demographics: models.Demographics{Age: intp(40)},
	}
	result, err := engine.Match(context.Background(), patient, models.MatchRequest{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(result.MatchedTrials) != 0 || result.TotalMatches != 0 {
		t.Errorf("got %d/%d, want empty result", len(result.MatchedTrials), result.TotalMatches)
	}
	if result.MatchedTrials == nil {
		t.Error("matched_trials must serialize as [], not null")
	}
}

func TestEngineMatchNilPatient(t *testing.T) {
	store := newTestStore(t, nil)
	engine := NewEngine(store, NewRanker(nil, nil, nil), config.MatchConfig{}, nil)
	if _, err := engine.Match(context.Background(), nil, models.MatchRequest{}); err == nil {
		t.Error("expected error for nil patient")
	}
}
