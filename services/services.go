// Package services defines the wire types and client interfaces for the
// remote collaborators of a dedicated game server: the matchmaking backend,
// the fleet orchestrator (multiplay), and the lobby/relay directory used by
// the peer-hosted path. Implementations live in services/rest.
package services

import "context"

// Matchmaker covers both the seeking-party ticket protocol and the
// running-match backfill protocol; both are served by the same backend.
type Matchmaker interface {
	CreateTicket(ctx context.Context, players []Player, opts CreateTicketOptions) (string, error)
	GetTicket(ctx context.Context, ticketID string) (*TicketStatus, error)
	DeleteTicket(ctx context.Context, ticketID string) error

	CreateBackfillTicket(ctx context.Context, opts CreateBackfillOptions) (string, error)
	UpdateBackfillTicket(ctx context.Context, ticketID string, ticket *BackfillTicket) error
	ApproveBackfillTicket(ctx context.Context, ticketID string) (*BackfillTicket, error)
	DeleteBackfillTicket(ctx context.Context, ticketID string) error
}

// QueryHandler pushes the advertised server status to the orchestrator's
// query protocol. Obtained from Multiplay.StartQueryHandler.
type QueryHandler interface {
	Push(ctx context.Context, state QueryState) error
}

// Multiplay is the fleet orchestrator that allocated this server process.
type Multiplay interface {
	ServerConfig(ctx context.Context) (*ServerConfig, error)
	PayloadAllocation(ctx context.Context) (*AllocationPayload, error)
	StartQueryHandler(ctx context.Context, capacity int, serverName, buildID string) (QueryHandler, error)
}

// LobbyDirectory publishes discoverable session records for peer-hosted
// games and keeps them alive via heartbeats.
type LobbyDirectory interface {
	CreateLobby(ctx context.Context, name string, maxPlayers int, opts CreateLobbyOptions) (*Lobby, error)
	Heartbeat(ctx context.Context, lobbyID string) error
	DeleteLobby(ctx context.Context, lobbyID string) error
	QueryLobbies(ctx context.Context) ([]Lobby, error)
}

// Relay reserves traffic-forwarding endpoints for peer-hosted sessions.
type Relay interface {
	CreateAllocation(ctx context.Context, maxConnections int) (*RelayAllocation, error)
	JoinCode(ctx context.Context, allocationID string) (string, error)
}
