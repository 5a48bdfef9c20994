package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/experiment"
)

// testColumns is the full ab_tests column list, in scanTest order.
const testColumns = `id, prompt_name, variant_a, variant_a_description, variant_b, variant_b_description,
	min_samples_per_variant, max_samples_total, significance_threshold, auto_adopt, min_improvement,
	status, results, created_by, created_at, started_at, completed_at`

// CreateTest persists a freshly built draft test.
func (s *Store) CreateTest(ctx context.Context, t *experiment.Test) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ab_tests (id, prompt_name, variant_a, variant_a_description, variant_b, variant_b_description,
		                       min_samples_per_variant, max_samples_total, significance_threshold, auto_adopt, min_improvement,
		                       status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at`,
		t.ID, t.PromptName, t.VariantA.PromptVersionID, t.VariantA.Description,
		t.VariantB.PromptVersionID, t.VariantB.Description,
		t.Config.MinSamplesPerVariant, t.Config.MaxSamplesTotal, t.Config.SignificanceThreshold,
		t.Config.AutoAdopt, t.Config.MinImprovement,
		string(t.Status), t.CreatedBy,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create test: %w", err)
	}
	return nil
}

// GetTest returns a test by ID.
func (s *Store) GetTest(ctx context.Context, id string) (*experiment.Test, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM ab_tests WHERE id = $1`, id)

	t, err := scanTest(row)
	if err != nil {
		return nil, notFoundWrap(err, "get test %s", id)
	}
	return &t, nil
}

// ListTests returns tests matching the filter, newest first. Zero filter
// fields match everything.
func (s *Store) ListTests(ctx context.Context, filter experiment.Filter) ([]experiment.Test, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+testColumns+` FROM ab_tests
		 WHERE ($1 = '' OR prompt_name = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		filter.PromptName, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var tests []experiment.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// GetRunningTestForPrompt returns the running test for a prompt, if any.
func (s *Store) GetRunningTestForPrompt(ctx context.Context, promptName string) (*experiment.Test, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM ab_tests WHERE prompt_name = $1 AND status = 'running'`, promptName)

	t, err := scanTest(row)
	if err != nil {
		return nil, notFoundWrap(err, "get running test for %s", promptName)
	}
	return &t, nil
}

// StartTest moves a test into running. started_at is set only on the first
// entry, so resuming from paused keeps the original start time. The partial
// unique index on running tests rejects a second concurrent start for the
// same prompt and surfaces as ErrConflict.
func (s *Store) StartTest(ctx context.Context, id string) (*experiment.Test, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE ab_tests SET status = 'running', started_at = COALESCE(started_at, now())
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+testColumns,
		id, statusStrings(experiment.TransitionSources(experiment.StatusRunning)))

	t, err := scanTest(row)
	if err == nil {
		return &t, nil
	}
	if isUniqueViolation(err, "ab_tests_one_running") {
		return nil, fmt.Errorf("start test %s: another test is already running for this prompt: %w", id, domain.ErrConflict)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("start test %s: %w", id, err)
	}
	return nil, s.transitionStateErr(ctx, id, experiment.StatusRunning, "start")
}

// PauseTest moves a running test into paused.
func (s *Store) PauseTest(ctx context.Context, id string) (*experiment.Test, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE ab_tests SET status = 'paused'
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+testColumns,
		id, statusStrings(experiment.TransitionSources(experiment.StatusPaused)))

	t, err := scanTest(row)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pause test %s: %w", id, err)
	}
	return nil, s.transitionStateErr(ctx, id, experiment.StatusPaused, "pause")
}

// CancelTest moves a non-terminal test into cancelled.
func (s *Store) CancelTest(ctx context.Context, id string) (*experiment.Test, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE ab_tests SET status = 'cancelled'
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+testColumns,
		id, statusStrings(experiment.TransitionSources(experiment.StatusCancelled)))

	t, err := scanTest(row)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel test %s: %w", id, err)
	}
	return nil, s.transitionStateErr(ctx, id, experiment.StatusCancelled, "cancel")
}

// CompleteTest moves a running test into completed and freezes the final
// results snapshot.
func (s *Store) CompleteTest(ctx context.Context, id string, results *experiment.Results) (*experiment.Test, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal test results: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE ab_tests SET status = 'completed', results = $2, completed_at = now()
		 WHERE id = $1 AND status = ANY($3)
		 RETURNING `+testColumns,
		id, resultsJSON, statusStrings(experiment.TransitionSources(experiment.StatusCompleted)))

	t, err := scanTest(row)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("complete test %s: %w", id, err)
	}
	return nil, s.transitionStateErr(ctx, id, experiment.StatusCompleted, "complete")
}

// UpdateTestResults overwrites the evaluation snapshot of a test that is
// still running or paused. Terminal tests keep their snapshot frozen.
func (s *Store) UpdateTestResults(ctx context.Context, id string, results *experiment.Results) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal test results: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ab_tests SET results = $2 WHERE id = $1 AND status IN ('running', 'paused')`,
		id, resultsJSON)
	if err != nil {
		return fmt.Errorf("update test results %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status experiment.Status
		if err := s.pool.QueryRow(ctx, `SELECT status FROM ab_tests WHERE id = $1`, id).Scan(&status); err != nil {
			return notFoundWrap(err, "update test results %s", id)
		}
		return fmt.Errorf("update test results %s: test is %s: %w", id, status, domain.ErrInvalidState)
	}
	return nil
}

// transitionStateErr explains a conditional transition that matched no rows:
// the test is either missing or in a state that does not allow the move.
func (s *Store) transitionStateErr(ctx context.Context, id string, to experiment.Status, op string) error {
	var status experiment.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM ab_tests WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "%s test %s", op, id)
	}
	if err := experiment.ValidateTransition(status, to); err != nil {
		return fmt.Errorf("%s test %s: %w", op, id, err)
	}
	// Status moved between the two queries; the caller may retry.
	return fmt.Errorf("%s test %s: %w", op, id, domain.ErrConflict)
}

// RecordResult appends one observation for a running test. The insert and the
// running-status check are a single statement, so a pause or completion that
// lands first cannot let a stray result slip in. A duplicate (test, job) pair
// leaves the existing row untouched and reports created=false.
func (s *Store) RecordResult(ctx context.Context, r *experiment.Result) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ab_results (ab_test_id, variant_id, job_id, quality_score_id)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (SELECT 1 FROM ab_tests WHERE id = $1 AND status = 'running')
		 ON CONFLICT (ab_test_id, job_id) DO NOTHING
		 RETURNING id, created_at`,
		r.TestID, string(r.VariantID), r.JobID, r.QualityScoreID,
	).Scan(&r.ID, &r.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("record result for test %s: %w", r.TestID, err)
	}

	// Nothing inserted: either this job is already recorded (idempotent
	// success) or the test is not accepting results.
	existing := s.pool.QueryRow(ctx,
		`SELECT id, ab_test_id, variant_id, job_id, quality_score_id, created_at
		 FROM ab_results WHERE ab_test_id = $1 AND job_id = $2`, r.TestID, r.JobID)
	prev, scanErr := scanResult(existing)
	if scanErr == nil {
		*r = prev
		return false, nil
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return false, fmt.Errorf("record result for test %s: %w", r.TestID, scanErr)
	}

	var status experiment.Status
	if err := s.pool.QueryRow(ctx, `SELECT status FROM ab_tests WHERE id = $1`, r.TestID).Scan(&status); err != nil {
		return false, notFoundWrap(err, "record result for test %s", r.TestID)
	}
	if status == experiment.StatusRunning {
		// Status moved between the two queries; the caller may retry.
		return false, fmt.Errorf("record result for test %s: %w", r.TestID, domain.ErrConflict)
	}
	return false, fmt.Errorf("record result for test %s: test is %s, not running: %w", r.TestID, status, domain.ErrInvalidState)
}

// CountResultsByVariant returns the number of recorded results per variant.
// Variants with no results are absent from the map.
func (s *Store) CountResultsByVariant(ctx context.Context, testID string) (map[experiment.VariantID]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT variant_id, COUNT(*) FROM ab_results WHERE ab_test_id = $1 GROUP BY variant_id`, testID)
	if err != nil {
		return nil, fmt.Errorf("count results for test %s: %w", testID, err)
	}
	defer rows.Close()

	counts := make(map[experiment.VariantID]int)
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		counts[experiment.VariantID(variant)] = n
	}
	return counts, rows.Err()
}

// ListResults returns all results of a test in recording order.
func (s *Store) ListResults(ctx context.Context, testID string) ([]experiment.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ab_test_id, variant_id, job_id, quality_score_id, created_at
		 FROM ab_results WHERE ab_test_id = $1 ORDER BY created_at ASC`, testID)
	if err != nil {
		return nil, fmt.Errorf("list results for test %s: %w", testID, err)
	}
	defer rows.Close()

	var results []experiment.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func statusStrings(statuses []experiment.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanTest(row scannable) (experiment.Test, error) {
	var t experiment.Test
	var resultsJSON []byte
	err := row.Scan(&t.ID, &t.PromptName,
		&t.VariantA.PromptVersionID, &t.VariantA.Description,
		&t.VariantB.PromptVersionID, &t.VariantB.Description,
		&t.Config.MinSamplesPerVariant, &t.Config.MaxSamplesTotal, &t.Config.SignificanceThreshold,
		&t.Config.AutoAdopt, &t.Config.MinImprovement,
		&t.Status, &resultsJSON, &t.CreatedBy,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return t, err
	}
	t.VariantA.ID, t.VariantB.ID = experiment.VariantA, experiment.VariantB
	if resultsJSON != nil {
		var r experiment.Results
		if err := json.Unmarshal(resultsJSON, &r); err != nil {
			return t, fmt.Errorf("unmarshal test results: %w", err)
		}
		t.Results = &r
	}
	return t, nil
}

func scanResult(row scannable) (experiment.Result, error) {
	var r experiment.Result
	err := row.Scan(&r.ID, &r.TestID, &r.VariantID, &r.JobID, &r.QualityScoreID, &r.CreatedAt)
	return r, err
}
