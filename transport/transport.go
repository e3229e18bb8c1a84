// Package transport defines the substrate contract a dedicated server runs
// on: a listener with a synchronous connection-approval hook and reliable
// connect/disconnect callbacks. The websocket implementation lives in
// transport/ws.
package transport

// Decision is the approval verdict for one connecting client.
type Decision struct {
	Accept             bool
	CreatePlayerEntity bool
}

// ApprovalFunc decides whether to accept a connection given its opaque
// identity payload. It must fully install any per-connection state before
// returning acceptance.
type ApprovalFunc func(connectionID uint64, payload []byte) Decision

// DisconnectFunc is invoked exactly once when a previously-approved
// connection goes away.
type DisconnectFunc func(connectionID uint64)

// Transport is the server-side listener surface.
type Transport interface {
	// OpenListener binds and starts accepting clients. Returns false when
	// the listener cannot be opened; that is fatal for the server instance.
	OpenListener(ip string, port int) bool

	// Shutdown drops all connections and stops the listener. Idempotent.
	Shutdown()
}
