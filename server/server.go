// Package server composes the session registry, backfill coordinator and
// allocation monitor into the dedicated-server lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"matchplay-gameserver/allocation"
	"matchplay-gameserver/matchplay"
	"matchplay-gameserver/metrics"
	"matchplay-gameserver/services"
	"matchplay-gameserver/session"
	"matchplay-gameserver/transport"

	"github.com/rs/zerolog/log"
)

// AllocationDeadline bounds the wait for the allocation payload at startup.
// On timeout the server still opens for direct connections.
const AllocationDeadline = 20 * time.Second

// ErrListenerOpen is returned when the transport listener cannot be opened.
// Fatal for the server instance.
var ErrListenerOpen = errors.New("transport listener failed to open")

// State is the authoritative lifecycle phase of the server. Only Manager
// transitions it.
type State string

const (
	StateStarting           State = "Starting"
	StateAwaitingAllocation State = "AwaitingAllocation"
	StateBackfilling        State = "Backfilling"
	StateRunning            State = "Running"
	StateDraining           State = "Draining"
	StateShutdown           State = "Shutdown"
)

// Settings carries the launch parameters of one server instance.
type Settings struct {
	IP         string
	Port       int
	QueryPort  int
	ServerName string
	BuildID    string
	Map        string
	GameMode   string
	MaxPlayers int

	// AllocationDeadline overrides the default, for tests.
	AllocationDeadline time.Duration
}

// BackfillerFactory builds the backfill coordinator for an allocated match.
type BackfillerFactory func(connection, queueName string, props services.MatchProperties, maxPlayers int) *matchplay.Backfiller

// Manager drives the startup, running, draining and shutdown sequence of a
// dedicated server. All collaborators are injected.
type Manager struct {
	settings      Settings
	registry      *session.Registry
	monitor       *allocation.Monitor
	newBackfiller BackfillerFactory
	tr            transport.Transport

	mu         sync.Mutex
	state      State
	backfiller *matchplay.Backfiller
	unsubs     []func()
	done       chan struct{}
}

func NewManager(settings Settings, registry *session.Registry, monitor *allocation.Monitor, factory BackfillerFactory, tr transport.Transport) *Manager {
	if settings.AllocationDeadline <= 0 {
		settings.AllocationDeadline = AllocationDeadline
	}
	return &Manager{
		settings:      settings,
		registry:      registry,
		monitor:       monitor,
		newBackfiller: factory,
		tr:            tr,
		state:         StateStarting,
		done:          make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the server is accepting players.
func (m *Manager) Ready() bool {
	s := m.State()
	return s == StateRunning || s == StateBackfilling
}

// Done is closed once the server has fully shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Start runs the startup sequence: begin the server-check push, await the
// allocation payload, start backfilling and open the listener. A missing
// payload degrades to direct-connect mode; a listener failure is fatal.
func (m *Manager) Start(ctx context.Context) error {
	m.setState(StateStarting)
	if err := m.monitor.BeginServerCheck(ctx, m.settings.MaxPlayers, m.settings.ServerName, m.settings.BuildID); err != nil {
		log.Error().Err(err).Msg("server check could not start")
		return err
	}
	m.monitor.SetMap(m.settings.Map)
	m.monitor.SetMode(m.settings.GameMode)

	m.setState(StateAwaitingAllocation)
	payloadCtx, cancel := context.WithTimeout(ctx, m.settings.AllocationDeadline)
	payload, err := m.monitor.AwaitAllocation(payloadCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("matchmaker payload timed out; serving direct connections only")
	}

	if payload != nil {
		m.setState(StateBackfilling)
		if err := m.startBackfill(ctx, payload); err != nil {
			log.Warn().Err(err).Msg("backfill could not start; continuing without it")
		}
		m.subscribe(ctx)
	}

	if !m.tr.OpenListener(m.settings.IP, m.settings.Port) {
		log.Error().Str("ip", m.settings.IP).Int("port", m.settings.Port).Msg("server did not start as expected")
		return fmt.Errorf("%w: %s:%d", ErrListenerOpen, m.settings.IP, m.settings.Port)
	}

	m.setState(StateRunning)
	log.Info().Str("ip", m.settings.IP).Int("port", m.settings.Port).Int("maxPlayers", m.settings.MaxPlayers).Msg("server running")
	return nil
}

func (m *Manager) startBackfill(ctx context.Context, payload *services.AllocationPayload) error {
	connection := fmt.Sprintf("%s:%d", m.settings.IP, m.settings.Port)
	b := m.newBackfiller(connection, payload.QueueName, payload.MatchProperties, m.settings.MaxPlayers)

	m.mu.Lock()
	m.backfiller = b
	m.mu.Unlock()

	if !b.NeedsPlayers() {
		return nil
	}
	return b.BeginBackfilling(ctx)
}

func (m *Manager) subscribe(ctx context.Context) {
	unsubJoined := m.registry.OnUserJoined(func(s session.Session) { m.userJoined(ctx, s) })
	unsubLeft := m.registry.OnUserLeft(func(s session.Session) { m.userLeft(ctx, s) })
	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubJoined, unsubLeft)
	m.mu.Unlock()
}

func (m *Manager) userJoined(ctx context.Context, s session.Session) {
	m.mu.Lock()
	b := m.backfiller
	m.mu.Unlock()

	if b != nil {
		b.AddPlayer(services.UserData{
			UserName:        s.DisplayName,
			UserAuthID:      s.AuthID,
			GamePreferences: s.Preferences,
		})
	}
	m.monitor.AddPlayer()
	metrics.PlayersConnected.Inc()

	if b != nil && !b.NeedsPlayers() && b.IsBackfilling() {
		if err := b.StopBackfill(ctx); err != nil {
			log.Error().Err(err).Msg("stopping backfill on full roster failed")
		}
	}
}

func (m *Manager) userLeft(ctx context.Context, s session.Session) {
	m.mu.Lock()
	b := m.backfiller
	m.mu.Unlock()

	count := 0
	if b != nil {
		count = b.RemovePlayer(s.AuthID)
	}
	m.monitor.RemovePlayer()
	metrics.PlayersConnected.Dec()

	if count <= 0 {
		log.Info().Msg("last player left; draining server")
		m.Drain(ctx)
		return
	}
	if b != nil && b.NeedsPlayers() && !b.IsBackfilling() {
		if err := b.BeginBackfilling(ctx); err != nil {
			log.Error().Err(err).Msg("resuming backfill failed")
		}
	}
}

// Drain tears the server down: stop backfill, detach event handlers,
// dispose the monitor and close the transport. Safe to call repeatedly and
// on a partially-started manager.
func (m *Manager) Drain(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateDraining || m.state == StateShutdown {
		m.mu.Unlock()
		return
	}
	m.state = StateDraining
	b := m.backfiller
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	log.Info().Str("state", string(StateDraining)).Msg("server state changed")

	if b != nil {
		b.Dispose(ctx)
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if m.monitor != nil {
		m.monitor.Dispose()
	}
	if m.tr != nil {
		m.tr.Shutdown()
	}

	m.setState(StateShutdown)
	close(m.done)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	log.Info().Str("state", string(s)).Msg("server state changed")
}
