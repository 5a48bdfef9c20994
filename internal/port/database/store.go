// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
)

// Store is the port interface for database operations.
type Store interface {
	// Prompt versions.
	//
	// CreatePromptVersion assigns the next contiguous version number and
	// converges on the existing row when the content hash already exists for
	// the prompt name (created=false). The first version of a prompt is
	// auto-activated.
	CreatePromptVersion(ctx context.Context, req prompt.CreateRequest) (v *prompt.Version, created bool, err error)
	GetActiveVersion(ctx context.Context, promptName string) (*prompt.Version, error)
	GetVersionByNumber(ctx context.Context, promptName string, version int) (*prompt.Version, error)
	GetVersionByID(ctx context.Context, id string) (*prompt.Version, error)
	ListVersions(ctx context.Context, promptName string) ([]prompt.Version, error)
	ListPromptNames(ctx context.Context) ([]string, error)
	// SetActiveVersion atomically deactivates every other version of the
	// prompt and activates the target, as one transaction.
	SetActiveVersion(ctx context.Context, promptName string, version int) (*prompt.Version, error)

	// A/B tests.
	CreateTest(ctx context.Context, t *experiment.Test) error
	GetTest(ctx context.Context, id string) (*experiment.Test, error)
	ListTests(ctx context.Context, filter experiment.Filter) ([]experiment.Test, error)
	GetRunningTestForPrompt(ctx context.Context, promptName string) (*experiment.Test, error)
	// StartTest moves draft|paused → running, setting started_at only on the
	// first entry; the one-running-per-prompt invariant is enforced
	// atomically with the write.
	StartTest(ctx context.Context, id string) (*experiment.Test, error)
	PauseTest(ctx context.Context, id string) (*experiment.Test, error)
	CancelTest(ctx context.Context, id string) (*experiment.Test, error)
	CompleteTest(ctx context.Context, id string, results *experiment.Results) (*experiment.Test, error)
	// UpdateTestResults overwrites the evaluation snapshot while the test is
	// still running or paused; frozen in terminal states.
	UpdateTestResults(ctx context.Context, id string, results *experiment.Results) error

	// Results.
	//
	// RecordResult appends one observation; a duplicate (test, job) pair is
	// reported via created=false without error.
	RecordResult(ctx context.Context, r *experiment.Result) (created bool, err error)
	CountResultsByVariant(ctx context.Context, testID string) (map[experiment.VariantID]int, error)
	ListResults(ctx context.Context, testID string) ([]experiment.Result, error)
}
