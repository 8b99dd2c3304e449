// Package trialstore provides the SQLite-backed clinical trial store and
// the structured demographic filter.
package trialstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trialscope/trialscope/internal/models"
)

// ErrStoreNotFound indicates the database file does not exist. Callers in the
// matching pipeline treat this as "no candidates" rather than a hard failure.
var ErrStoreNotFound = errors.New("trial store not found")

// Store wraps the SQLite trial database.
type Store struct {
	db *sql.DB
}

// Open opens an existing trial database at dbPath.
// Returns ErrStoreNotFound when the file does not exist.
func Open(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, dbPath)
	}
	return open(dbPath)
}

// Create opens or creates a trial database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func Create(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	s, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(s.db); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trials (
		trial_id TEXT PRIMARY KEY,
		trial_title TEXT NOT NULL,
		minimum_age INTEGER,
		maximum_age INTEGER,
		sex TEXT NOT NULL DEFAULT 'ALL',
		accepts_healthy_volunteers INTEGER NOT NULL DEFAULT 0,
		participant_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS conditions (
		trial_id TEXT NOT NULL,
		condition_name TEXT NOT NULL,
		FOREIGN KEY (trial_id) REFERENCES trials(trial_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conditions_trial_id ON conditions(trial_id);

	CREATE TABLE IF NOT EXISTS interventions (
		trial_id TEXT NOT NULL,
		intervention_type TEXT,
		intervention_name TEXT NOT NULL,
		FOREIGN KEY (trial_id) REFERENCES trials(trial_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_interventions_trial_id ON interventions(trial_id);

	CREATE TABLE IF NOT EXISTS inclusion_criteria (
		trial_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		criterion TEXT NOT NULL,
		FOREIGN KEY (trial_id) REFERENCES trials(trial_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_inclusion_trial_id ON inclusion_criteria(trial_id);

	CREATE TABLE IF NOT EXISTS exclusion_criteria (
		trial_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		criterion TEXT NOT NULL,
		FOREIGN KEY (trial_id) REFERENCES trials(trial_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_exclusion_trial_id ON exclusion_criteria(trial_id);

	CREATE INDEX IF NOT EXISTS idx_trials_age ON trials(minimum_age, maximum_age);
	CREATE INDEX IF NOT EXISTS idx_trials_sex ON trials(sex);
	`
	_, err := db.Exec(schema)
	return err
}

// InsertTrial inserts a trial and its associations in a single transaction.
func (s *Store) InsertTrial(ctx context.Context, t *models.Trial) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trials (trial_id, trial_title, minimum_age, maximum_age, sex,
		 accepts_healthy_volunteers, participant_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TrialID, t.TrialTitle, nullableInt(t.MinimumAge), nullableInt(t.MaximumAge),
		t.Sex, boolToInt(t.AcceptsHealthyVolunteers), t.ParticipantCount,
	)
	if err != nil {
		return fmt.Errorf("insert trial %s: %w", t.TrialID, err)
	}
	for _, c := range t.Conditions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conditions (trial_id, condition_name) VALUES (?, ?)`,
			t.TrialID, c); err != nil {
			return fmt.Errorf("insert condition for %s: %w", t.TrialID, err)
		}
	}
	for _, iv := range t.Interventions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO interventions (trial_id, intervention_type, intervention_name) VALUES (?, ?, ?)`,
			t.TrialID, iv.Type, iv.Name); err != nil {
			return fmt.Errorf("insert intervention for %s: %w", t.TrialID, err)
		}
	}
	for i, c := range t.InclusionCriteria {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO inclusion_criteria (trial_id, position, criterion) VALUES (?, ?, ?)`,
			t.TrialID, i, c); err != nil {
			return fmt.Errorf("insert inclusion criterion for %s: %w", t.TrialID, err)
		}
	}
	for i, c := range t.ExclusionCriteria {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exclusion_criteria (trial_id, position, criterion) VALUES (?, ?, ?)`,
			t.TrialID, i, c); err != nil {
			return fmt.Errorf("insert exclusion criterion for %s: %w", t.TrialID, err)
		}
	}
	return tx.Commit()
}

// FilterByDemographics returns trials compatible with the given patient
// demographics, plus the total match count before the limit is applied.
//
// age is nil when unknown; mappedSex is "" when unknown. An unknown attribute
// skips its predicate entirely, so missing information never excludes a trial.
// NULL age bounds in the store mean "unbounded" and never exclude either.
func (s *Store) FilterByDemographics(ctx context.Context, age *int, mappedSex string, limit int) ([]*models.Trial, int, error) {
	where, params := demographicPredicates(age, mappedSex)

	var total int
	countQuery := "SELECT COUNT(DISTINCT t.trial_id) FROM trials t WHERE 1=1" + where
	if err := s.db.QueryRowContext(ctx, countQuery, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count matching trials: %w", err)
	}

	query := `
	SELECT
		t.trial_id,
		t.trial_title,
		t.minimum_age,
		t.maximum_age,
		t.sex,
		t.accepts_healthy_volunteers,
		COALESCE(GROUP_CONCAT(DISTINCT c.condition_name), '') AS conditions,
		COALESCE(GROUP_CONCAT(DISTINCT i.intervention_type || ': ' || i.intervention_name), '') AS interventions
	FROM trials t
	LEFT JOIN conditions c ON t.trial_id = c.trial_id
	LEFT JOIN interventions i ON t.trial_id = i.trial_id
	WHERE 1=1` + where + `
	GROUP BY t.trial_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("query matching trials: %w", err)
	}
	defer rows.Close()

	var trials []*models.Trial
	for rows.Next() {
		var (
			t             models.Trial
			minAge        sql.NullInt64
			maxAge        sql.NullInt64
			healthy       int
			conditions    string
			interventions string
		)
		if err := rows.Scan(&t.TrialID, &t.TrialTitle, &minAge, &maxAge, &t.Sex,
			&healthy, &conditions, &interventions); err != nil {
			return nil, 0, fmt.Errorf("scan trial row: %w", err)
		}
		t.MinimumAge = intPtr(minAge)
		t.MaximumAge = intPtr(maxAge)
		t.AcceptsHealthyVolunteers = healthy == 1
		t.Conditions = splitConcat(conditions)
		t.Interventions = parseInterventions(interventions)
		trials = append(trials, &t)
	}
	return trials, total, rows.Err()
}

func demographicPredicates(age *int, mappedSex string) (string, []interface{}) {
	var (
		where  strings.Builder
		params []interface{}
	)
	if age != nil {
		where.WriteString(" AND (t.minimum_age IS NULL OR t.minimum_age <= ?)")
		params = append(params, *age)
		where.WriteString(" AND (t.maximum_age IS NULL OR t.maximum_age >= ?)")
		params = append(params, *age)
	}
	if mappedSex != "" {
		where.WriteString(" AND (t.sex = ? OR t.sex = 'ALL')")
		params = append(params, mappedSex)
	}
	return where.String(), params
}

// GetTrial returns a trial by ID including conditions, interventions, and
// eligibility criteria.
func (s *Store) GetTrial(ctx context.Context, id string) (*models.Trial, error) {
	var (
		t       models.Trial
		minAge  sql.NullInt64
		maxAge  sql.NullInt64
		healthy int
		count   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT trial_id, trial_title, minimum_age, maximum_age, sex,
		 accepts_healthy_volunteers, participant_count
		 FROM trials WHERE trial_id = ?`, id,
	).Scan(&t.TrialID, &t.TrialTitle, &minAge, &maxAge, &t.Sex, &healthy, &count)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trial not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	t.MinimumAge = intPtr(minAge)
	t.MaximumAge = intPtr(maxAge)
	t.AcceptsHealthyVolunteers = healthy == 1
	if count.Valid {
		t.ParticipantCount = int(count.Int64)
	}

	if t.Conditions, err = s.stringColumn(ctx,
		`SELECT condition_name FROM conditions WHERE trial_id = ?`, id); err != nil {
		return nil, err
	}
	if t.InclusionCriteria, err = s.stringColumn(ctx,
		`SELECT criterion FROM inclusion_criteria WHERE trial_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	if t.ExclusionCriteria, err = s.stringColumn(ctx,
		`SELECT criterion FROM exclusion_criteria WHERE trial_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT intervention_type, intervention_name FROM interventions WHERE trial_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var iv models.Intervention
		if err := rows.Scan(&iv.Type, &iv.Name); err != nil {
			return nil, err
		}
		t.Interventions = append(t.Interventions, iv)
	}
	return &t, rows.Err()
}

// TrialIDs returns all trial IDs in insertion order.
func (s *Store) TrialIDs(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT trial_id FROM trials`, nil)
}

// Count returns the number of trials in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trials`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stringColumn(ctx context.Context, query string, arg interface{}) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if arg != nil {
		rows, err = s.db.QueryContext(ctx, query, arg)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// splitConcat splits a GROUP_CONCAT value into entries; empty input yields an
// empty (non-nil) slice so callers always see a list.
func splitConcat(v string) []string {
	if v == "" {
		return []string{}
	}
	return strings.Split(v, ",")
}

// parseInterventions parses GROUP_CONCAT'd "TYPE: name" entries.
func parseInterventions(v string) []models.Intervention {
	if v == "" {
		return []models.Intervention{}
	}
	parts := strings.Split(v, ",")
	out := make([]models.Intervention, 0, len(parts))
	for _, p := range parts {
		typ, name, found := strings.Cut(p, ": ")
		if !found {
			out = append(out, models.Intervention{Name: p})
			continue
		}
		out = append(out, models.Intervention{Type: typ, Name: name})
	}
	return out
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
