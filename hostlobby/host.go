// Package hostlobby runs the peer-hosted session path: a relay allocation
// plus a discoverable lobby kept alive by periodic heartbeats.
package hostlobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matchplay-gameserver/metrics"
	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// HeartbeatInterval keeps the lobby from being reaped by the directory.
const HeartbeatInterval = 15 * time.Second

// HostedSession is what a started host hands back to its caller.
type HostedSession struct {
	Lobby    *services.Lobby
	JoinCode string
	Relay    *services.RelayAllocation
}

// Coordinator creates and maintains one hosted lobby at a time.
type Coordinator struct {
	relay   services.Relay
	lobbies services.LobbyDirectory

	// Interval overrides the heartbeat cadence, for tests.
	Interval time.Duration

	mu      sync.Mutex
	lobbyID string
	cancel  context.CancelFunc
}

func NewCoordinator(relay services.Relay, lobbies services.LobbyDirectory) *Coordinator {
	return &Coordinator{relay: relay, lobbies: lobbies, Interval: HeartbeatInterval}
}

// StartHost allocates a relay endpoint, publishes a lobby carrying its join
// code and begins heartbeating. Only one hosted session may be active.
func (c *Coordinator) StartHost(ctx context.Context, hostName string, maxPlayers int) (*HostedSession, error) {
	c.mu.Lock()
	if c.lobbyID != "" {
		c.mu.Unlock()
		return nil, fmt.Errorf("lobby %s is already hosted", c.lobbyID)
	}
	c.mu.Unlock()

	alloc, err := c.relay.CreateAllocation(ctx, maxPlayers)
	if err != nil {
		return nil, fmt.Errorf("could not create relay allocation: %w", err)
	}
	code, err := c.relay.JoinCode(ctx, alloc.AllocationID)
	if err != nil {
		return nil, fmt.Errorf("could not fetch relay join code: %w", err)
	}

	lobbyName := fmt.Sprintf("%s's Lobby", hostName)
	lobby, err := c.lobbies.CreateLobby(ctx, lobbyName, maxPlayers, services.CreateLobbyOptions{
		IsPrivate: false,
		Data:      map[string]string{"JoinCode": code},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create lobby %q: %w", lobbyName, err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.lobbyID = lobby.ID
	c.cancel = cancel
	c.mu.Unlock()
	go c.heartbeatLoop(hbCtx, lobby.ID)

	log.Info().Str("lobbyId", lobby.ID).Str("lobbyName", lobbyName).Str("joinCode", code).Msg("hosted lobby created")
	return &HostedSession{Lobby: lobby, JoinCode: code, Relay: alloc}, nil
}

// Lobbies lists the currently discoverable lobbies.
func (c *Coordinator) Lobbies(ctx context.Context) ([]services.Lobby, error) {
	return c.lobbies.QueryLobbies(ctx)
}

// Shutdown stops the heartbeat and deletes the lobby. Safe to call more
// than once.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	lobbyID := c.lobbyID
	cancel := c.cancel
	c.lobbyID = ""
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if lobbyID == "" {
		return
	}
	if err := c.lobbies.DeleteLobby(ctx, lobbyID); err != nil {
		log.Error().Err(err).Str("lobbyId", lobbyID).Msg("could not delete lobby")
		return
	}
	log.Info().Str("lobbyId", lobbyID).Msg("hosted lobby deleted")
}

// heartbeatLoop pings the directory until cancelled. A failed heartbeat is
// logged and retried on the next tick rather than tearing the lobby down.
func (c *Coordinator) heartbeatLoop(ctx context.Context, lobbyID string) {
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := c.lobbies.Heartbeat(ctx, lobbyID); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("lobbyId", lobbyID).Msg("lobby heartbeat failed")
			continue
		}
		metrics.LobbyHeartbeatsTotal.Inc()
	}
}
