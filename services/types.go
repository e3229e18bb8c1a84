package services

// GameQueue selects which matchmaking pool a player is placed into.
type GameQueue string

const (
	CasualQueue GameQueue = "casual-queue"
	RankedQueue GameQueue = "ranked-queue"
)

// GamePreferences travels inside the connection payload and the matchmaking
// ticket so the backend can route the player to a compatible match.
type GamePreferences struct {
	GameQueue GameQueue `json:"gameQueue"`
	Map       string    `json:"map,omitempty"`
	GameMode  string    `json:"gameMode,omitempty"`
}

// QueueName resolves the preference to a concrete queue, defaulting to casual.
func (p GamePreferences) QueueName() string {
	if p.GameQueue == "" {
		return string(CasualQueue)
	}
	return string(p.GameQueue)
}

// UserData is the identity record a client sends as its opaque connection
// payload. It must round-trip through connection approval unchanged.
type UserData struct {
	UserName        string          `json:"userName"`
	UserAuthID      string          `json:"userAuthId"`
	GamePreferences GamePreferences `json:"userGamePreferences"`
}

// Player is one roster entry tracked by the matchmaking backend.
type Player struct {
	ID          string          `json:"id"`
	Preferences GamePreferences `json:"customData,omitempty"`
}

// Team groups roster entries; the default match layout uses a single team.
type Team struct {
	Name      string   `json:"teamName"`
	ID        string   `json:"teamId"`
	PlayerIDs []string `json:"playerIds"`
}

// MatchProperties is the roster state shared between the allocation payload
// and backfill tickets.
type MatchProperties struct {
	Teams            []Team   `json:"teams"`
	Players          []Player `json:"players"`
	Region           string   `json:"region,omitempty"`
	BackfillTicketID string   `json:"backfillTicketId,omitempty"`
}

// AllocationPayload is the matchmaking result delivered to an allocated
// server. Immutable once received.
type AllocationPayload struct {
	AllocationID    string          `json:"allocationId"`
	QueueName       string          `json:"queueName"`
	MatchProperties MatchProperties `json:"matchProperties"`
}

// BackfillTicketProperties wraps the roster carried by a backfill ticket.
type BackfillTicketProperties struct {
	MatchProperties MatchProperties `json:"matchProperties"`
}

// BackfillTicket represents one running match seeking more players.
type BackfillTicket struct {
	ID         string                   `json:"id"`
	Connection string                   `json:"connection,omitempty"`
	Properties BackfillTicketProperties `json:"properties"`
}

// CreateBackfillOptions parameterizes backfill ticket creation.
type CreateBackfillOptions struct {
	Connection string                   `json:"connection"`
	QueueName  string                   `json:"queueName"`
	Properties BackfillTicketProperties `json:"properties"`
}

// CreateTicketOptions parameterizes matchmaking ticket creation.
type CreateTicketOptions struct {
	QueueName string `json:"queueName"`
}

// AssignmentStatus is the matchmaking backend's verdict for a ticket.
type AssignmentStatus string

const (
	AssignmentInProgress AssignmentStatus = "InProgress"
	AssignmentFound      AssignmentStatus = "Found"
	AssignmentTimeout    AssignmentStatus = "Timeout"
	AssignmentFailed     AssignmentStatus = "Failed"
)

// Assignment carries the connection details for a found match. Port is a
// pointer: the backend may report Found before the port is published.
type Assignment struct {
	Status  AssignmentStatus `json:"status"`
	IP      string           `json:"ip,omitempty"`
	Port    *int             `json:"port,omitempty"`
	Message string           `json:"message,omitempty"`
}

// TicketStatus is one poll result for an outstanding matchmaking ticket.
type TicketStatus struct {
	ID         string      `json:"id"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// ServerConfig is the orchestrator-provisioned identity of this server
// process.
type ServerConfig struct {
	ServerID     string `json:"serverId"`
	AllocationID string `json:"allocationId"`
	Port         int    `json:"port"`
	QueryPort    int    `json:"queryPort"`
	LogDirectory string `json:"serverLogDirectory,omitempty"`
}

// QueryState is the advertised status pushed to the orchestrator's query
// protocol on every server-check tick.
type QueryState struct {
	ServerName     string `json:"serverName"`
	BuildID        string `json:"buildId"`
	Map            string `json:"map"`
	GameType       string `json:"gameType"`
	MaxPlayers     int    `json:"maxPlayers"`
	CurrentPlayers int    `json:"currentPlayers"`
}

// Lobby is a discoverable session record for the peer-hosted path.
type Lobby struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	MaxPlayers int               `json:"maxPlayers"`
	IsPrivate  bool              `json:"isPrivate"`
	Data       map[string]string `json:"data,omitempty"`
}

// CreateLobbyOptions parameterizes lobby creation.
type CreateLobbyOptions struct {
	IsPrivate bool              `json:"isPrivate"`
	Data      map[string]string `json:"data,omitempty"`
}

// RelayAllocation reserves a relay endpoint for a peer-hosted session.
type RelayAllocation struct {
	AllocationID string `json:"allocationId"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
}
