// Package experiment defines the A/B test domain: two prompt versions of the
// same prompt name compared on externally supplied quality scores, with a
// lifecycle state machine and a statistical promote/no-promote decision.
package experiment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/domain"
)

// Status represents the lifecycle state of an A/B test.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// VariantID identifies one arm of an experiment.
type VariantID string

const (
	VariantA VariantID = "A"
	VariantB VariantID = "B"
)

// Winner is the outcome of a decided evaluation. By convention variant A is
// the pre-experiment control, variant B the challenger.
type Winner string

const (
	WinnerA    Winner = "A"
	WinnerB    Winner = "B"
	WinnerNone Winner = "none"
)

// Variant pins one arm of a test to a specific prompt version.
type Variant struct {
	ID              VariantID `json:"variant_id"`
	PromptVersionID string    `json:"prompt_version_id"`
	Description     string    `json:"description,omitempty"`
}

// Config holds the statistical contract of a test. Fields are explicit and
// validated; thresholds are never passed around as opaque maps.
type Config struct {
	MinSamplesPerVariant  int     `json:"min_samples_per_variant"`
	MaxSamplesTotal       int     `json:"max_samples_total,omitempty"` // 0 = uncapped
	SignificanceThreshold float64 `json:"significance_threshold"`
	AutoAdopt             bool    `json:"auto_adopt"`
	MinImprovement        float64 `json:"min_improvement"`
}

// Validate checks the statistical contract.
func (c *Config) Validate() error {
	if c.MinSamplesPerVariant < 1 {
		return fmt.Errorf("min_samples_per_variant must be >= 1: %w", domain.ErrValidation)
	}
	if c.MaxSamplesTotal < 0 {
		return fmt.Errorf("max_samples_total must be >= 0: %w", domain.ErrValidation)
	}
	if c.SignificanceThreshold <= 0 || c.SignificanceThreshold >= 1 {
		return fmt.Errorf("significance_threshold must be in (0,1): %w", domain.ErrValidation)
	}
	if c.MinImprovement < 0 {
		return fmt.Errorf("min_improvement must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// CriterionOutcome holds per-criterion pass rates for both variants, for
// scores that carry criterion-level detail.
type CriterionOutcome struct {
	VariantAPassRate float64 `json:"variant_a_pass_rate"`
	VariantBPassRate float64 `json:"variant_b_pass_rate"`
}

// Results is the evaluation snapshot persisted on a test. Overwritable while
// the test is running, frozen once completed.
type Results struct {
	VariantASamples  int                         `json:"variant_a_samples"`
	VariantBSamples  int                         `json:"variant_b_samples"`
	VariantAAvgScore float64                     `json:"variant_a_avg_score"`
	VariantBAvgScore float64                     `json:"variant_b_avg_score"`
	PValue           float64                     `json:"p_value"`
	Significant      bool                        `json:"significant"`
	Winner           Winner                      `json:"winner"`
	PerCriterion     map[string]CriterionOutcome `json:"per_criterion,omitempty"`
	EvaluatedAt      time.Time                   `json:"evaluated_at"`
}

// Test is one experiment comparing two prompt versions of the same prompt name.
type Test struct {
	ID          string     `json:"id"`
	PromptName  string     `json:"prompt_name"`
	VariantA    Variant    `json:"variant_a"`
	VariantB    Variant    `json:"variant_b"`
	Status      Status     `json:"status"`
	Config      Config     `json:"config"`
	Results     *Results   `json:"results,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Result is one observation: a single job's outcome under a single variant.
// At most one result exists per (test, job) pair.
type Result struct {
	ID             string    `json:"id"`
	TestID         string    `json:"ab_test_id"`
	VariantID      VariantID `json:"variant_id"`
	JobID          string    `json:"job_id"`
	QualityScoreID string    `json:"quality_score_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows test listings. Zero fields match everything.
type Filter struct {
	PromptName string
	Status     Status
}

// CreateRequest holds the fields needed to create a new test.
type CreateRequest struct {
	PromptName string  `json:"prompt_name"`
	VariantA   Variant `json:"variant_a"`
	VariantB   Variant `json:"variant_b"`
	Config     Config  `json:"config"`
	CreatedBy  string  `json:"created_by,omitempty"`
}

// Validate checks request shape. Existence and ownership of the referenced
// prompt versions is checked against the store by the service.
func (r *CreateRequest) Validate() error {
	if r.PromptName == "" {
		return fmt.Errorf("prompt_name is required: %w", domain.ErrValidation)
	}
	if r.VariantA.PromptVersionID == "" || r.VariantB.PromptVersionID == "" {
		return fmt.Errorf("both variant prompt_version_ids are required: %w", domain.ErrValidation)
	}
	if r.VariantA.PromptVersionID == r.VariantB.PromptVersionID {
		return fmt.Errorf("variant prompt_version_ids must be distinct: %w", domain.ErrValidation)
	}
	return r.Config.Validate()
}

// New builds a draft Test from a validated request.
func New(req CreateRequest) (*Test, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a, b := req.VariantA, req.VariantB
	a.ID, b.ID = VariantA, VariantB

	return &Test{
		ID:         uuid.NewString(),
		PromptName: req.PromptName,
		VariantA:   a,
		VariantB:   b,
		Status:     StatusDraft,
		Config:     req.Config,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  now,
	}, nil
}

// Variant returns the arm with the given ID.
func (t *Test) Variant(id VariantID) (Variant, error) {
	switch id {
	case VariantA:
		return t.VariantA, nil
	case VariantB:
		return t.VariantB, nil
	default:
		return Variant{}, fmt.Errorf("unknown variant %q: %w", id, domain.ErrValidation)
	}
}

// validTransitions enumerates the lifecycle state machine.
// completed and cancelled are terminal.
var validTransitions = map[Status][]Status{
	StatusDraft:   {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidateTransition checks that from → to is a legal lifecycle move.
func ValidateTransition(from, to Status) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition test from %q to %q: %w", from, to, domain.ErrInvalidState)
}

// TransitionSources returns the statuses from which a test may move into to.
// The store uses this to guard transitions atomically in SQL.
func TransitionSources(to Status) []Status {
	var from []Status
	for s, targets := range validTransitions {
		for _, t := range targets {
			if t == to {
				from = append(from, s)
			}
		}
	}
	return from
}
