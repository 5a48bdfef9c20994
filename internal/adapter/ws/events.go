package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventVersionCreated   = "prompt.version_created"
	EventVersionActivated = "prompt.version_activated"
	EventExperimentStatus = "experiment.status"
	EventEvaluation       = "experiment.evaluation"
)

// VersionEvent is broadcast when a prompt version is created or activated.
type VersionEvent struct {
	PromptName string `json:"prompt_name"`
	VersionID  string `json:"version_id"`
	Version    int    `json:"version"`
	IsActive   bool   `json:"is_active"`
}

// ExperimentStatusEvent is broadcast when a test changes lifecycle state.
type ExperimentStatusEvent struct {
	TestID     string `json:"ab_test_id"`
	PromptName string `json:"prompt_name"`
	Status     string `json:"status"`
}

// EvaluationEvent is broadcast when a test's samples are evaluated.
type EvaluationEvent struct {
	TestID     string  `json:"ab_test_id"`
	PromptName string  `json:"prompt_name"`
	Outcome    string  `json:"outcome"`
	PValue     float64 `json:"p_value,omitempty"`
	Winner     string  `json:"winner,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
