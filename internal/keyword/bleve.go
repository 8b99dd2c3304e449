// Package keyword provides a Bleve full-text index over trial descriptions,
// used by the registry search endpoint and CLI.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/trialscope/trialscope/internal/models"
)

// TrialDocument is the indexed projection of a trial.
type TrialDocument struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Conditions    string `json:"conditions"`
	Interventions string `json:"interventions"`
	Criteria      string `json:"criteria"`
}

// NewTrialDocument flattens a trial into its indexed form.
func NewTrialDocument(t *models.Trial) *TrialDocument {
	interventions := make([]string, len(t.Interventions))
	for i, iv := range t.Interventions {
		interventions[i] = iv.Describe()
	}
	criteria := append(append([]string{}, t.InclusionCriteria...), t.ExclusionCriteria...)
	return &TrialDocument{
		ID:            t.TrialID,
		Title:         t.TrialTitle,
		Conditions:    strings.Join(t.Conditions, "; "),
		Interventions: strings.Join(interventions, "; "),
		Criteria:      strings.Join(criteria, "; "),
	}
}

// Result is one full-text search hit.
type Result struct {
	ID    string  `json:"trial_id"`
	Score float64 `json:"score"`
}

// Index wraps a Bleve index over trial documents.
type Index struct {
	index bleve.Index
}

// Open creates or opens a Bleve index at path. An existing index is reused;
// remove the directory to force a rebuild after a mapping change.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open keyword index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so medical terms
	// match exactly as typed.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("conditions", textFieldMapping)
	docMapping.AddFieldMappingsAt("interventions", textFieldMapping)
	docMapping.AddFieldMappingsAt("criteria", textFieldMapping)
	docMapping.AddFieldMappingsAt("id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("trial", docMapping)
	im.DefaultType = "trial"
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &Index{index: index}, nil
}

// Index indexes one trial.
func (b *Index) Index(ctx context.Context, t *models.Trial) error {
	doc := NewTrialDocument(t)
	return b.index.Index(doc.ID, doc)
}

// Search runs a match query across all fields and returns up to limit hits
// by descending score. With fuzzy set, each term tolerates small typos.
func (b *Index) Search(ctx context.Context, query string, limit int, fuzzy bool) ([]*Result, error) {
	var q blevequery.Query
	if fuzzy {
		q = buildFuzzyQuery(query)
	} else {
		q = bleve.NewMatchQuery(query)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildFuzzyQuery creates a disjunction of per-term fuzzy queries so any
// term can match, mirroring MatchQuery OR semantics.
func buildFuzzyQuery(query string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return bleve.NewMatchQuery(query)
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(2)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a trial from the index.
func (b *Index) Delete(ctx context.Context, trialID string) error {
	return b.index.Delete(trialID)
}

// DocCount returns the number of indexed trials.
func (b *Index) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *Index) Close() error {
	return b.index.Close()
}
