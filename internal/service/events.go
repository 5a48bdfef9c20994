package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/domain/event"
	"github.com/promptdeck/promptdeck/internal/port/messagequeue"
)

// publishEvent emits a fire-and-forget audit event on the queue. Publish
// failures are logged, never propagated: audit delivery must not fail the
// write that triggered it.
func publishEvent(ctx context.Context, q messagequeue.Queue, subject string, ev event.Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal audit event", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.Error("publish audit event", "subject", subject, "error", err)
	}
}
