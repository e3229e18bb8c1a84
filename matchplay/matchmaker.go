// Package matchplay implements the two halves of the matchmaking ticket
// protocol: the seeking-party ticket client and the running-match backfiller.
package matchplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matchplay-gameserver/metrics"
	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// TicketPollInterval is the delay between ticket status polls.
const TicketPollInterval = time.Second

// ResultKind classifies the terminal outcome of one matchmaking attempt.
type ResultKind string

const (
	ResultSuccess                 ResultKind = "Success"
	ResultTicketCreationError     ResultKind = "TicketCreationError"
	ResultTicketCancellationError ResultKind = "TicketCancellationError"
	ResultTicketRetrievalError    ResultKind = "TicketRetrievalError"
	ResultMatchAssignmentError    ResultKind = "MatchAssignmentError"
)

// MatchResult is the terminal outcome of Matchmake. IP and Port are set only
// when Kind is ResultSuccess.
type MatchResult struct {
	Kind    ResultKind
	IP      string
	Port    int
	Message string
}

// Matchmaker manages one outstanding matchmaking ticket for a seeking party.
// Single-flight discipline belongs to the caller: a second Matchmake while
// one is in flight is not supported.
type Matchmaker struct {
	svc services.Matchmaker

	// PollInterval overrides TicketPollInterval, for tests.
	PollInterval time.Duration

	mu            sync.Mutex
	isMatchmaking bool
	lastTicket    string
	cancel        context.CancelFunc
}

func NewMatchmaker(svc services.Matchmaker) *Matchmaker {
	return &Matchmaker{svc: svc, PollInterval: TicketPollInterval}
}

// IsMatchmaking reports whether a ticket is in flight.
func (m *Matchmaker) IsMatchmaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMatchmaking
}

// Matchmake creates a ticket for the user's preferred queue and polls it to
// a terminal outcome. Cancellation via Cancel is observed within one poll
// interval.
func (m *Matchmaker) Matchmake(parent context.Context, user services.UserData) MatchResult {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.mu.Lock()
	m.isMatchmaking = true
	m.lastTicket = ""
	m.cancel = cancel
	m.mu.Unlock()

	queueName := user.GamePreferences.QueueName()
	players := []services.Player{{ID: user.UserAuthID, Preferences: user.GamePreferences}}
	log.Info().Str("queue", queueName).Str("authId", user.UserAuthID).Msg("creating matchmaking ticket")

	ticketID, err := m.svc.CreateTicket(ctx, players, services.CreateTicketOptions{QueueName: queueName})
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("ticket creation failed")
		return m.finish(MatchResult{Kind: ResultTicketCreationError, Message: err.Error()})
	}

	m.mu.Lock()
	if !m.isMatchmaking {
		// Cancel landed while the create was in flight; it had no ticket
		// id to delete, so the cleanup falls to us.
		m.mu.Unlock()
		log.Info().Str("ticketId", ticketID).Msg("cancelled during ticket creation; deleting ticket")
		if derr := m.svc.DeleteTicket(parent, ticketID); derr != nil {
			log.Error().Err(derr).Str("ticketId", ticketID).Msg("ticket delete failed")
		}
		return m.finish(MatchResult{Kind: ResultTicketRetrievalError, Message: "matchmaking cancelled"})
	}
	m.lastTicket = ticketID
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return m.finish(MatchResult{Kind: ResultTicketRetrievalError, Message: "matchmaking cancelled"})
		default:
		}

		status, err := m.svc.GetTicket(ctx, ticketID)
		if err != nil {
			log.Error().Err(err).Str("ticketId", ticketID).Msg("ticket retrieval failed")
			return m.finish(MatchResult{Kind: ResultTicketRetrievalError, Message: err.Error()})
		}

		if status.Assignment != nil {
			switch status.Assignment.Status {
			case services.AssignmentFound:
				return m.finish(resultForAssignment(status.Assignment))
			case services.AssignmentTimeout, services.AssignmentFailed:
				msg := fmt.Sprintf("ticket %s - %s - %s", ticketID, status.Assignment.Status, status.Assignment.Message)
				return m.finish(MatchResult{Kind: ResultMatchAssignmentError, Message: msg})
			}
			log.Debug().Str("ticketId", ticketID).Str("status", string(status.Assignment.Status)).Msg("polled ticket")
		}

		select {
		case <-ctx.Done():
			return m.finish(MatchResult{Kind: ResultTicketRetrievalError, Message: "matchmaking cancelled"})
		case <-time.After(m.PollInterval):
		}
	}
}

// Cancel ends an in-flight matchmaking attempt and deletes the remote ticket
// if one was created. Fire-once: later calls are no-ops.
func (m *Matchmaker) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if !m.isMatchmaking {
		m.mu.Unlock()
		return nil
	}
	m.isMatchmaking = false
	cancel := m.cancel
	ticketID := m.lastTicket
	m.lastTicket = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticketID == "" {
		return nil
	}

	log.Info().Str("ticketId", ticketID).Msg("cancelling matchmaking ticket")
	if err := m.svc.DeleteTicket(ctx, ticketID); err != nil {
		log.Error().Err(err).Str("ticketId", ticketID).Msg("ticket delete failed")
		metrics.MatchResultsTotal.WithLabelValues(string(ResultTicketCancellationError)).Inc()
		return fmt.Errorf("deleting ticket %s: %w", ticketID, err)
	}
	return nil
}

func (m *Matchmaker) finish(res MatchResult) MatchResult {
	m.mu.Lock()
	m.isMatchmaking = false
	m.mu.Unlock()
	metrics.MatchResultsTotal.WithLabelValues(string(res.Kind)).Inc()
	log.Info().Str("result", string(res.Kind)).Str("message", res.Message).Msg("matchmaking finished")
	return res
}

func resultForAssignment(a *services.Assignment) MatchResult {
	if a.Port == nil {
		return MatchResult{
			Kind:    ResultMatchAssignmentError,
			Message: fmt.Sprintf("assignment missing port - %s", a.Message),
		}
	}
	return MatchResult{Kind: ResultSuccess, IP: a.IP, Port: *a.Port, Message: a.Message}
}
