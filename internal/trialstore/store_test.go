package trialstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/trialscope/trialscope/internal/models"
)

func intp(v int) *int { return &v }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "trials.db"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTrial(t *testing.T, s *Store, trial *models.Trial) {
	t.Helper()
	if err := s.InsertTrial(context.Background(), trial); err != nil {
		t.Fatalf("InsertTrial(%s): %v", trial.TrialID, err)
	}
}

func TestOpenMissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.db"))
	if !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("expected ErrStoreNotFound, got %v", err)
	}
}

func TestFilterByDemographics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedTrial(t, s, &models.Trial{
		TrialID:    "NCT001",
		TrialTitle: "Hypertension Study",
		MinimumAge: intp(18),
		MaximumAge: intp(65),
		Sex:        models.TrialSexAll,
		Conditions: []string{"Hypertension"},
		Interventions: []models.Intervention{
			{Type: "DRUG", Name: "Lisinopril"},
		},
	})
	seedTrial(t, s, &models.Trial{
		TrialID:    "NCT002",
		TrialTitle: "Pediatric Asthma Study",
		MaximumAge: intp(17),
		Sex:        models.TrialSexAll,
		Conditions: []string{"Asthma"},
	})
	seedTrial(t, s, &models.Trial{
		TrialID:    "NCT003",
		TrialTitle: "Prostate Cancer Study",
		MinimumAge: intp(50),
		Sex:        models.TrialSexMale,
		Conditions: []string{"Prostate Cancer"},
	})
	seedTrial(t, s, &models.Trial{
		TrialID:    "NCT004",
		TrialTitle: "Unbounded Observational Study",
		Sex:        models.TrialSexAll,
	})

	t.Run("age and sex applied", func(t *testing.T) {
		trials, total, err := s.FilterByDemographics(ctx, intp(45), models.TrialSexMale, 0)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		// NCT001 (18-65, ALL), NCT004 (unbounded) match; NCT002 (max 17)
		// and NCT003 (min 50) do not.
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
		ids := trialIDs(trials)
		if !ids["NCT001"] || !ids["NCT004"] {
			t.Errorf("unexpected candidates: %v", ids)
		}
		for _, tr := range trials {
			if tr.MinimumAge != nil && *tr.MinimumAge > 45 {
				t.Errorf("trial %s min age excludes patient", tr.TrialID)
			}
			if tr.MaximumAge != nil && *tr.MaximumAge < 45 {
				t.Errorf("trial %s max age excludes patient", tr.TrialID)
			}
			if tr.Sex != models.TrialSexMale && tr.Sex != models.TrialSexAll {
				t.Errorf("trial %s sex %q incompatible", tr.TrialID, tr.Sex)
			}
		}
	})

	t.Run("patient over max age excluded", func(t *testing.T) {
		trials, total, err := s.FilterByDemographics(ctx, intp(70), models.TrialSexFemale, 0)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		ids := trialIDs(trials)
		if ids["NCT001"] {
			t.Error("trial with max_age=65 should be excluded for age 70")
		}
		if ids["NCT003"] {
			t.Error("MALE trial should be excluded for female patient")
		}
		if total != 1 || !ids["NCT004"] {
			t.Errorf("want only unbounded trial, got total=%d ids=%v", total, ids)
		}
	})

	t.Run("unknown demographics never exclude", func(t *testing.T) {
		trials, total, err := s.FilterByDemographics(ctx, nil, "", 0)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		if total != 4 || len(trials) != 4 {
			t.Errorf("all trials should pass, got total=%d len=%d", total, len(trials))
		}
	})

	t.Run("unknown age still applies sex predicate", func(t *testing.T) {
		_, total, err := s.FilterByDemographics(ctx, nil, models.TrialSexFemale, 0)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		// NCT003 is MALE-only; everything else is ALL.
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	})

	t.Run("total invariant to limit", func(t *testing.T) {
		trials, total, err := s.FilterByDemographics(ctx, nil, "", 2)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		if total != 4 {
			t.Errorf("total = %d, want 4 (pre-cap)", total)
		}
		if len(trials) != 2 {
			t.Errorf("candidates = %d, want 2 (capped)", len(trials))
		}
		if total < len(trials) {
			t.Error("total must be >= len(candidates)")
		}
	})

	t.Run("associations aggregated", func(t *testing.T) {
		trials, _, err := s.FilterByDemographics(ctx, intp(45), models.TrialSexMale, 0)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		for _, tr := range trials {
			if tr.Conditions == nil || tr.Interventions == nil {
				t.Errorf("trial %s: associations must be empty lists, not nil", tr.TrialID)
			}
			if tr.TrialID == "NCT001" {
				if len(tr.Conditions) != 1 || tr.Conditions[0] != "Hypertension" {
					t.Errorf("NCT001 conditions = %v", tr.Conditions)
				}
				if len(tr.Interventions) != 1 || tr.Interventions[0].Type != "DRUG" ||
					tr.Interventions[0].Name != "Lisinopril" {
					t.Errorf("NCT001 interventions = %v", tr.Interventions)
				}
			}
		}
	})
}

func TestGetTrial(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedTrial(t, s, &models.Trial{
		TrialID:           "NCT100",
		TrialTitle:        "Diabetes Study",
		MinimumAge:        intp(21),
		Sex:               models.TrialSexAll,
		Conditions:        []string{"Type 2 Diabetes"},
		InclusionCriteria: []string{"HbA1c > 7.0%", "Age 21 or older"},
		ExclusionCriteria: []string{"Pregnancy"},
	})

	trial, err := s.GetTrial(ctx, "NCT100")
	if err != nil {
		t.Fatalf("GetTrial: %v", err)
	}
	if trial.TrialTitle != "Diabetes Study" {
		t.Errorf("title = %q", trial.TrialTitle)
	}
	if trial.MinimumAge == nil || *trial.MinimumAge != 21 {
		t.Errorf("minimum age = %v, want 21", trial.MinimumAge)
	}
	if trial.MaximumAge != nil {
		t.Errorf("maximum age should be nil (unbounded), got %v", *trial.MaximumAge)
	}
	if len(trial.InclusionCriteria) != 2 || trial.InclusionCriteria[0] != "HbA1c > 7.0%" {
		t.Errorf("inclusion criteria = %v (order must be preserved)", trial.InclusionCriteria)
	}
	if len(trial.ExclusionCriteria) != 1 {
		t.Errorf("exclusion criteria = %v", trial.ExclusionCriteria)
	}

	if _, err := s.GetTrial(ctx, "NCT999"); err == nil {
		t.Error("expected error for unknown trial")
	}
}

func TestTrialIDsAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedTrial(t, s, &models.Trial{TrialID: "NCT201", TrialTitle: "A", Sex: models.TrialSexAll})
	seedTrial(t, s, &models.Trial{TrialID: "NCT202", TrialTitle: "B", Sex: models.TrialSexAll})

	ids, err := s.TrialIDs(ctx)
	if err != nil {
		t.Fatalf("TrialIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func trialIDs(trials []*models.Trial) map[string]bool {
	out := make(map[string]bool, len(trials))
	for _, tr := range trials {
		out[tr.TrialID] = true
	}
	return out
}
