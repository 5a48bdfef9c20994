// Package event defines the audit events this subsystem emits. Events are
// fire-and-forget notifications for external audit consumers; nothing here
// depends on their delivery.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of audit event.
type Type string

const (
	TypeVersionCreated   Type = "prompt.version.created"
	TypeVersionActivated Type = "prompt.version.activated"

	TypeTestCreated   Type = "experiment.created"
	TypeTestStarted   Type = "experiment.started"
	TypeTestPaused    Type = "experiment.paused"
	TypeTestCompleted Type = "experiment.completed"
	TypeTestCancelled Type = "experiment.cancelled"
)

// Event is a single immutable audit notification.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	PromptName string          `json:"prompt_name,omitempty"`
	TestID     string          `json:"ab_test_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// VersionPayload details a version creation or activation.
type VersionPayload struct {
	VersionID     string `json:"version_id"`
	Version       int    `json:"version"`
	ContentHash   string `json:"content_hash"`
	Author        string `json:"author,omitempty"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

// TestPayload details an experiment lifecycle event.
type TestPayload struct {
	Status    string  `json:"status"`
	Winner    string  `json:"winner,omitempty"`
	PValue    float64 `json:"p_value,omitempty"`
	CreatedBy string  `json:"created_by,omitempty"`
}
