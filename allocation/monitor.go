// Package allocation tracks the fleet orchestrator's view of this server:
// it awaits the allocation payload and keeps the advertised query status
// pushed for the lifetime of the process.
package allocation

import (
	"context"
	"sync"
	"time"

	"matchplay-gameserver/events"
	"matchplay-gameserver/metrics"
	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

const (
	// ConfigPollInterval is the delay between allocation id polls.
	ConfigPollInterval = 100 * time.Millisecond
	// ServerCheckInterval is the delay between query status pushes.
	ServerCheckInterval = 100 * time.Millisecond
)

// Monitor awaits the orchestrator's allocation and runs the periodic
// server-check push. It is the only component that talks to the Multiplay
// service directly.
type Monitor struct {
	svc services.Multiplay
	sub events.Subscriber

	// PollInterval and PushInterval override the defaults, for tests.
	PollInterval time.Duration
	PushInterval time.Duration

	mu           sync.Mutex
	allocationID string
	state        services.QueryState
	handler      services.QueryHandler
	cancelSub    context.CancelFunc
	cancelPush   context.CancelFunc
}

func NewMonitor(svc services.Multiplay, sub events.Subscriber) *Monitor {
	return &Monitor{
		svc:          svc,
		sub:          sub,
		PollInterval: ConfigPollInterval,
		PushInterval: ServerCheckInterval,
	}
}

// AwaitAllocation subscribes to lifecycle events and polls the server config
// until an allocation id appears, then fetches and returns the allocation
// payload. The caller bounds the wait through ctx; on cancellation the
// context error is returned.
func (m *Monitor) AwaitAllocation(ctx context.Context) (*services.AllocationPayload, error) {
	start := time.Now()

	if m.sub != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.cancelSub = cancel
		m.mu.Unlock()
		go func() {
			err := m.sub.Start(subCtx, m.onEvent)
			if err != nil && subCtx.Err() == nil {
				log.Error().Err(err).Msg("lifecycle event subscriber exited")
			}
		}()
	}

	if cfg, err := m.svc.ServerConfig(ctx); err == nil {
		log.Info().
			Str("serverId", cfg.ServerID).
			Str("allocationId", cfg.AllocationID).
			Int("port", cfg.Port).
			Int("queryPort", cfg.QueryPort).
			Str("logs", cfg.LogDirectory).
			Msg("awaiting allocation")
	} else {
		log.Warn().Err(err).Msg("server config unavailable; polling for allocation")
	}

	for {
		if id := m.currentAllocationID(); id == "" {
			cfg, err := m.svc.ServerConfig(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("server config poll failed")
			} else if cfg.AllocationID != "" {
				log.Info().Str("allocationId", cfg.AllocationID).Msg("server config carries allocation id")
				m.setAllocationID(cfg.AllocationID)
			}
		}

		if m.currentAllocationID() != "" {
			payload, err := m.svc.PayloadAllocation(ctx)
			if err != nil {
				log.Error().Err(err).Msg("fetching allocation payload failed")
				return nil, err
			}
			if payload != nil {
				metrics.AllocationWaitDuration.Observe(time.Since(start).Seconds())
				log.Info().Str("allocationId", payload.AllocationID).Str("queue", payload.QueueName).Int("players", len(payload.MatchProperties.Players)).Msg("allocation payload received")
				return payload, nil
			}
			// The id can land before the agent publishes the payload;
			// keep polling until it appears or the deadline hits.
			log.Debug().Str("allocationId", m.currentAllocationID()).Msg("allocation id known but payload not yet published")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.PollInterval):
		}
	}
}

// BeginServerCheck registers the advertised name, build and capacity with
// the query protocol and starts the periodic status push. The push loop runs
// until Dispose.
func (m *Monitor) BeginServerCheck(ctx context.Context, capacity int, serverName, buildID string) error {
	handler, err := m.svc.StartQueryHandler(ctx, capacity, serverName, buildID)
	if err != nil {
		log.Error().Err(err).Msg("starting query handler failed")
		return err
	}

	pushCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.handler = handler
	m.state.ServerName = serverName
	m.state.BuildID = buildID
	m.state.MaxPlayers = capacity
	m.cancelPush = cancel
	m.mu.Unlock()

	go m.serverCheckLoop(pushCtx)
	return nil
}

// SetMap updates the advertised map; takes effect on the next push.
func (m *Monitor) SetMap(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Map = name
}

// SetMode updates the advertised game mode; takes effect on the next push.
func (m *Monitor) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.GameType = mode
}

// AddPlayer increments the advertised player count.
func (m *Monitor) AddPlayer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentPlayers++
}

// RemovePlayer decrements the advertised player count.
func (m *Monitor) RemovePlayer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.CurrentPlayers > 0 {
		m.state.CurrentPlayers--
	}
}

// Dispose stops the event subscription and the push loop. Safe to call more
// than once and on a monitor that never started.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	cancelSub := m.cancelSub
	cancelPush := m.cancelPush
	m.cancelSub = nil
	m.cancelPush = nil
	m.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	if cancelPush != nil {
		cancelPush()
	}
}

func (m *Monitor) serverCheckLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.PushInterval):
		}

		m.mu.Lock()
		handler := m.handler
		state := m.state
		m.mu.Unlock()

		if err := handler.Push(ctx, state); err != nil && ctx.Err() == nil {
			// The liveness push must survive transient backend trouble.
			log.Warn().Err(err).Msg("server check push failed")
		}
	}
}

func (m *Monitor) onEvent(_ context.Context, ev *events.AllocationEvent) error {
	switch ev.Type {
	case events.Allocated:
		log.Info().Str("allocationId", ev.AllocationID).Msg("allocation event received")
		m.setAllocationID(ev.AllocationID)
	case events.Deallocated:
		log.Info().Str("allocationId", ev.AllocationID).Str("eventId", ev.EventID).Str("serverId", ev.ServerID).Msg("deallocation event received")
	case events.Error:
		log.Warn().Str("message", ev.Message).Msg("orchestrator reported an error event")
	}
	return nil
}

func (m *Monitor) currentAllocationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocationID
}

func (m *Monitor) setAllocationID(id string) {
	if id == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocationID == "" {
		m.allocationID = id
	}
}
