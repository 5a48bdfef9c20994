// Package broadcast defines the port for pushing live updates to dashboards.
package broadcast

import "context"

// Broadcaster fans a typed event out to every subscribed client. Delivery is
// best-effort: version activations and evaluation snapshots are also persisted
// and published on the audit stream, so a dropped frame loses nothing.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
