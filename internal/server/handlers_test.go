package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/corpus"
	"github.com/trialscope/trialscope/internal/embedding"
	"github.com/trialscope/trialscope/internal/keyword"
	"github.com/trialscope/trialscope/internal/match"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/trialstore"
	"github.com/trialscope/trialscope/internal/vector"
)

const testDims = 16

func intp(v int) *int { return &v }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	store, err := trialstore.Create(filepath.Join(dir, "trials.db"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	trials := []*models.Trial{
		{TrialID: "NCT001", TrialTitle: "Metformin in Type 2 Diabetes", Sex: models.TrialSexAll,
			MinimumAge: intp(18), Conditions: []string{"Type 2 Diabetes"}},
		{TrialID: "NCT002", TrialTitle: "Statin Therapy for Hyperlipidemia", Sex: models.TrialSexAll,
			Conditions: []string{"Hyperlipidemia"}},
	}
	for _, tr := range trials {
		if err := store.InsertTrial(context.Background(), tr); err != nil {
			t.Fatalf("InsertTrial: %v", err)
		}
	}

	emb := embedding.NewMockEmbedder(testDims)
	idx, err := vector.NewFlatIndex(testDims)
	if err != nil {
		t.Fatalf("NewFlatIndex: %v", err)
	}
	kw, err := keyword.Open(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatalf("keyword.Open: %v", err)
	}
	t.Cleanup(func() { kw.Close() })
	if _, err := corpus.NewBuilder(store, emb, idx, kw, 0, nil).Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	engine := match.NewEngine(store, match.NewRanker(idx, emb, nil), config.MatchConfig{CandidateLimit: 1000}, nil)
	return NewServer(engine, store, kw, idx, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleMatch(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	body := matchRequest{
		Patient: &models.Patient{
			PatientID:    "P001",
			Demographics: models.Demographics{Age: intp(58), Sex: models.SexMale},
			Conditions:   []models.Condition{{Name: "Type 2 Diabetes"}},
		},
		TopK: 1,
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/match", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result models.MatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.MatchedTrials) != 1 {
		t.Errorf("matched = %d, want 1 (top_k)", len(result.MatchedTrials))
	}
	if result.TotalMatches != 2 {
		t.Errorf("total_matches = %d, want 2", result.TotalMatches)
	}
	if result.Outcome != models.OutcomePrimary {
		t.Errorf("outcome = %s, want primary", result.Outcome)
	}
}

func TestHandleMatchBadRequest(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/match", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
	t.Run("missing patient", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/match", matchRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandleGetTrial(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/trials/NCT001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var trial models.Trial
	if err := json.Unmarshal(rec.Body.Bytes(), &trial); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trial.TrialID != "NCT001" || trial.MinimumAge == nil || *trial.MinimumAge != 18 {
		t.Errorf("trial = %+v", trial)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/trials/NCT999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown trial status = %d, want 404", rec.Code)
	}
}

func TestHandleSearchTrials(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/trials/search?q=metformin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Query   string            `json:"query"`
		Results []*keyword.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "NCT001" {
		t.Errorf("results = %v, want NCT001 first", resp.Results)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/trials/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", rec.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["trials"].(float64) != 2 {
		t.Errorf("trials = %v, want 2", status["trials"])
	}
	if status["vector_index_size"].(float64) != 2 {
		t.Errorf("vector_index_size = %v, want 2", status["vector_index_size"])
	}

	rec = doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
