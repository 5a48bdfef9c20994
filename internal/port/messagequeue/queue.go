// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes one delivered message. A non-nil error tells the
// transport to redeliver.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue carries the audit event stream. The production implementation
// is NATS JetStream; publishes are acknowledged by the server, so a nil
// error means the event is persisted in the stream.
type Queue interface {
	// Publish sends data on subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. Wildcard subjects are
	// allowed. The returned func cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain lets in-flight deliveries finish, then closes.
	Drain() error

	// Close drops the connection without waiting.
	Close() error

	// IsConnected reports broker reachability for health checks.
	IsConnected() bool
}

// Subject constants for audit events. Subjects mirror event types; audit
// consumers subscribe with the wildcards "prompts.>" and "experiments.>".
const (
	SubjectVersionCreated   = "prompts.version.created"
	SubjectVersionActivated = "prompts.version.activated"

	SubjectTestCreated   = "experiments.created"
	SubjectTestStarted   = "experiments.started"
	SubjectTestPaused    = "experiments.paused"
	SubjectTestCompleted = "experiments.completed"
	SubjectTestCancelled = "experiments.cancelled"
)
