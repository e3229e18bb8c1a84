// Package events defines the server lifecycle event feed pushed by the
// fleet orchestrator. The Pub/Sub implementation lives in events/pubsub.
package events

import "context"

// Type is a kind of server lifecycle event.
type Type string

const (
	// Allocated indicates a matchmaker has requested a game server from the
	// fleet and this process has been chosen to host a match.
	Allocated Type = "Allocated"

	// Deallocated indicates the matchmaker no longer requires this process
	// to host a match.
	Deallocated Type = "Deallocated"

	// Error carries an orchestrator-side failure report.
	Error Type = "Error"
)

// AllocationEvent is one lifecycle notification for this server process.
type AllocationEvent struct {
	Type         Type   `json:"type"`
	AllocationID string `json:"allocationId,omitempty"`
	ServerID     string `json:"serverId,omitempty"`
	EventID      string `json:"eventId,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Subscriber delivers lifecycle events until ctx is cancelled.
type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *AllocationEvent) error) error
}
