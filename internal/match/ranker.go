// Package match runs the two-stage matching pipeline: structured
// demographic filtering followed by semantic re-ranking of the surviving
// candidates.
package match

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/trialscope/trialscope/internal/embedding"
	"github.com/trialscope/trialscope/internal/models"
	"github.com/trialscope/trialscope/internal/vector"
)

// unrestrictedSearchCap bounds the index-wide retry when the restricted
// search comes back empty.
const unrestrictedSearchCap = 100

// Ranker orders structurally eligible candidates by semantic similarity to
// the patient query. It degrades in stages: vector index first, direct
// embedding similarity second, unranked candidates as the last resort.
type Ranker struct {
	index    vector.Index
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewRanker builds a ranker. Index and embedder may be nil; ranking then
// settles on whichever path is still available.
func NewRanker(index vector.Index, embedder embedding.Embedder, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{index: index, embedder: embedder, logger: logger}
}

// Rank scores candidates against the query and returns them ordered by
// descending semantic score, along with the path that produced the order.
// It never fails: when no ranking path is usable the candidates come back
// unscored in their original order.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []*models.Trial) ([]*models.CandidateMatch, models.RankOutcome) {
	if len(candidates) == 0 {
		return []*models.CandidateMatch{}, models.OutcomePrimary
	}
	if r.embedder == nil {
		r.logger.Warn("no embedder configured, returning unranked candidates")
		return unranked(candidates), models.OutcomeDegraded
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, returning unranked candidates", zap.Error(err))
		return unranked(candidates), models.OutcomeDegraded
	}

	if matches, ok := r.rankWithIndex(ctx, queryVec, candidates); ok {
		return matches, models.OutcomePrimary
	}

	matches, err := r.rankByEmbedding(ctx, queryVec, candidates)
	if err != nil {
		r.logger.Warn("embedding fallback failed, returning unranked candidates", zap.Error(err))
		return unranked(candidates), models.OutcomeDegraded
	}
	return matches, models.OutcomeFallback
}

// rankWithIndex tries the vector index: a search restricted to the
// candidate set, then an index-wide search intersected with the candidates
// when the restricted search yields nothing.
func (r *Ranker) rankWithIndex(ctx context.Context, queryVec []float32, candidates []*models.Trial) ([]*models.CandidateMatch, bool) {
	if r.index == nil || r.index.Size() == 0 {
		return nil, false
	}
	byID := make(map[string]*models.Trial, len(candidates))
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		byID[c.TrialID] = c
		allowed[c.TrialID] = true
	}

	results, err := r.index.SearchWithin(ctx, queryVec, allowed, len(candidates))
	if err != nil {
		r.logger.Warn("restricted index search failed", zap.Error(err))
		return nil, false
	}
	if len(results) == 0 {
		k := unrestrictedSearchCap
		if size := r.index.Size(); size < k {
			k = size
		}
		results, err = r.index.Search(ctx, queryVec, k)
		if err != nil {
			r.logger.Warn("unrestricted index search failed", zap.Error(err))
			return nil, false
		}
	}

	matches := make([]*models.CandidateMatch, 0, len(results))
	for _, res := range results {
		trial, ok := byID[res.ID]
		if !ok {
			continue
		}
		matches = append(matches, &models.CandidateMatch{
			Trial:         *trial,
			SemanticScore: 1 - res.Distance,
			Scored:        true,
		})
	}
	if len(matches) == 0 {
		return nil, false
	}
	return matches, true
}

// rankByEmbedding embeds a short document per candidate and scores it by
// cosine similarity to the query vector.
func (r *Ranker) rankByEmbedding(ctx context.Context, queryVec []float32, candidates []*models.Trial) ([]*models.CandidateMatch, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = candidateDocument(c)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return nil, err
	}
	matches := make([]*models.CandidateMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = &models.CandidateMatch{
			Trial:         *c,
			SemanticScore: vector.CosineSimilarity(queryVec, vecs[i]),
			Scored:        true,
		}
	}
	// Stable so equal scores keep the filter order.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SemanticScore > matches[j].SemanticScore
	})
	return matches, nil
}

// candidateDocument is the compact text embedded on the fallback path.
func candidateDocument(t *models.Trial) string {
	if len(t.Conditions) == 0 {
		return t.TrialTitle
	}
	return t.TrialTitle + " " + strings.Join(t.Conditions, " ")
}

func unranked(candidates []*models.Trial) []*models.CandidateMatch {
	matches := make([]*models.CandidateMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = &models.CandidateMatch{Trial: *c}
	}
	return matches
}
