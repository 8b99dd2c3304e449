// Package vector provides the trial vector index and similarity search.
package vector

import "context"

// Sentinel age bounds used in index metadata when a trial has no bound.
// These exist only at the index layer; matching predicates elsewhere use
// nil-means-unbounded semantics.
const (
	MetaMinAgeUnbounded = -1
	MetaMaxAgeUnbounded = 999
)

// Metadata is the per-document record stored alongside each trial embedding.
type Metadata struct {
	TrialID            string `json:"trial_id"`
	Title              string `json:"title"`
	MinAge             int    `json:"min_age"`
	MaxAge             int    `json:"max_age"`
	Sex                string `json:"sex"`
	HealthyVolunteers  bool   `json:"healthy_volunteers"`
	ParticipantCount   int    `json:"participant_count"`
	ConditionsCount    int    `json:"conditions_count"`
	InterventionsCount int    `json:"interventions_count"`
}

// Result is a single similarity search hit. Distance is cosine distance
// (1 - cosine similarity, in [0,2] for unit vectors); lower is closer.
type Result struct {
	ID       string
	Distance float64
	Meta     *Metadata
}

// Index defines vector storage and similarity search over trial documents.
type Index interface {
	// Add stores vectors with their IDs and metadata. All three slices must
	// have equal length; the batch is added atomically.
	Add(ctx context.Context, ids []string, vectors [][]float32, metas []*Metadata) error
	// Search returns up to k results ordered by ascending distance.
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	// SearchWithin is Search restricted to the given ID set.
	SearchWithin(ctx context.Context, query []float32, ids map[string]bool, k int) ([]*Result, error)
	Size() int
	Save(path string) error
	Load(path string) error
	Close() error
}
