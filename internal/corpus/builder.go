// Package corpus builds the searchable trial corpus: embedding documents in
// the vector index and full-text documents in the keyword index, sourced
// from the trial store.
package corpus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/embedding"
	"github.com/trialscope/trialscope/internal/keyword"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/trialstore"
	"github.com/trialscope/trialscope/internal/vector"
)

const defaultBatchSize = 100

// Builder streams trials from the store into the indices in batches.
type Builder struct {
	store     *trialstore.Store
	embedder  embedding.Embedder
	index     vector.Index
	keywords  *keyword.Index
	batchSize int
	logger    *zap.Logger
}

// NewBuilder wires a corpus builder. keywords may be nil to skip full-text
// indexing. batchSize <= 0 uses the default.
func NewBuilder(store *trialstore.Store, embedder embedding.Embedder, index vector.Index, keywords *keyword.Index, batchSize int, logger *zap.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		store:     store,
		embedder:  embedder,
		index:     index,
		keywords:  keywords,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Build indexes every trial in the store and returns the number indexed.
func (b *Builder) Build(ctx context.Context) (int, error) {
	ids, err := b.store.TrialIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trials: %w", err)
	}
	indexed := 0
	for start := 0; start < len(ids); start += b.batchSize {
		end := start + b.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		n, err := b.buildBatch(ctx, ids[start:end])
		if err != nil {
			return indexed, err
		}
		indexed += n
		b.logger.Info("indexed batch",
			zap.Int("batch_start", start),
			zap.Int("indexed", indexed),
			zap.Int("total", len(ids)))
	}
	return indexed, nil
}

func (b *Builder) buildBatch(ctx context.Context, ids []string) (int, error) {
	docs := make([]string, 0, len(ids))
	metas := make([]*vector.Metadata, 0, len(ids))
	trialIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		trial, err := b.store.GetTrial(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("load trial %s: %w", id, err)
		}
		docs = append(docs, Document(trial))
		metas = append(metas, metadataFor(trial))
		trialIDs = append(trialIDs, trial.TrialID)
		if b.keywords != nil {
			if err := b.keywords.Index(ctx, trial); err != nil {
				return 0, fmt.Errorf("keyword index %s: %w", id, err)
			}
		}
	}
	vecs, err := b.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if err := b.index.Add(ctx, trialIDs, vecs, metas); err != nil {
		return 0, fmt.Errorf("add to vector index: %w", err)
	}
	return len(trialIDs), nil
}

// Document renders the text that gets embedded for one trial.
func Document(t *models.Trial) string {
	interventions := make([]string, len(t.Interventions))
	for i, iv := range t.Interventions {
		interventions[i] = iv.Describe()
	}
	var sb strings.Builder
	sb.WriteString("Trial ID: " + t.TrialID + "\n")
	sb.WriteString("Title: " + t.TrialTitle + "\n")
	sb.WriteString("Age Range: " + ageBound(t.MinimumAge) + " to " + ageBound(t.MaximumAge) + "\n")
	sb.WriteString("Sex: " + t.Sex + "\n")
	sb.WriteString("Accepts Healthy Volunteers: " + yesNo(t.AcceptsHealthyVolunteers) + "\n")
	sb.WriteString("Participant Count: " + strconv.Itoa(t.ParticipantCount) + "\n")
	sb.WriteString("Conditions: " + strings.Join(t.Conditions, ", ") + "\n")
	sb.WriteString("Interventions: " + strings.Join(interventions, ", ") + "\n")
	sb.WriteString("Inclusion Criteria: " + strings.Join(t.InclusionCriteria, "; ") + "\n")
	sb.WriteString("Exclusion Criteria: " + strings.Join(t.ExclusionCriteria, "; "))
	return sb.String()
}

// metadataFor maps a trial to index metadata. Absent age bounds become the
// sentinel values; nothing outside the index layer sees them.
func metadataFor(t *models.Trial) *vector.Metadata {
	minAge := vector.MetaMinAgeUnbounded
	if t.MinimumAge != nil {
		minAge = *t.MinimumAge
	}
	maxAge := vector.MetaMaxAgeUnbounded
	if t.MaximumAge != nil {
		maxAge = *t.MaximumAge
	}
	return &vector.Metadata{
		TrialID:            t.TrialID,
		Title:              t.TrialTitle,
		MinAge:             minAge,
		MaxAge:             maxAge,
		Sex:                t.Sex,
		HealthyVolunteers:  t.AcceptsHealthyVolunteers,
		ParticipantCount:   t.ParticipantCount,
		ConditionsCount:    len(t.Conditions),
		InterventionsCount: len(t.Interventions),
	}
}

func ageBound(v *int) string {
	if v == nil {
		return "N/A"
	}
	return strconv.Itoa(*v)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
