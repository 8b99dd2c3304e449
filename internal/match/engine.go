package match

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/config"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/synth"
	"github.com/trialscope/trialscope/internal/trialstore"
)

// Engine orchestrates one matching run: synthesize the patient query,
// filter the trial store by demographics, rank the survivors, and package
// the result.
type Engine struct {
	store  *trialstore.Store
	ranker *Ranker
	cfg    config.MatchConfig
	logger *zap.Logger
}

// NewEngine wires the pipeline together.
func NewEngine(store *trialstore.Store, ranker *Ranker, cfg config.MatchConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, ranker: ranker, cfg: cfg, logger: logger}
}

// Match runs the full pipeline for one patient. Request fields override the
// configured defaults when positive.
func (e *Engine) Match(ctx context.Context, patient *models.Patient, req models.MatchRequest) (*models.MatchResult, error) {
	if patient == nil {
		return nil, fmt.Errorf("patient record is required")
	}
	start := time.Now()

	query := synth.Synthesize(patient)
	e.logger.Debug("synthesized patient query",
		zap.String("patient_id", patient.PatientID),
		zap.String("query", query))

	limit := req.CandidateLimit
	if limit <= 0 {
		limit = e.cfg.CandidateLimit
	}
	candidates, total, err := e.store.FilterByDemographics(ctx, patient.Demographics.Age, patient.MappedSex(), limit)
	if err != nil {
		return nil, fmt.Errorf("demographic filter: %w", err)
	}
	e.logger.Info("structured filter complete",
		zap.String("patient_id", patient.PatientID),
		zap.Int("candidates", len(candidates)),
		zap.Int("total", total))

	matches, outcome := e.ranker.Rank(ctx, query, candidates)

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	result := MergeResult(patient, query, matches, total, outcome, time.Since(start))
	e.logger.Info("match run complete",
		zap.String("run_id", result.RunID),
		zap.String("patient_id", patient.PatientID),
		zap.Int("matched", len(result.MatchedTrials)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("query_time_ms", result.QueryTimeMS))
	return result, nil
}
