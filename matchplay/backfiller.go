package matchplay

import (
	"context"
	"sync"
	"time"

	"matchplay-gameserver/metrics"
	"matchplay-gameserver/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BackfillPollInterval is the delay between reconciliation iterations.
const BackfillPollInterval = time.Second

// Backfiller manages one outstanding backfill ticket for a running match.
// The roster is mutated by connection events while the reconciliation loop
// runs; all roster and dirty-flag access is serialized under one lock so a
// mutation arriving mid-iteration is applied either before or after the
// current network call but never lost.
type Backfiller struct {
	svc        services.Matchmaker
	createOpts services.CreateBackfillOptions
	maxPlayers int

	// Interval overrides BackfillPollInterval, for tests.
	Interval time.Duration

	mu     sync.Mutex
	ticket services.BackfillTicket
	dirty  bool
	active bool
	stop   context.CancelFunc
}

// NewBackfiller builds a coordinator for a match described by the allocation
// payload's properties. A payload that already carries a backfill ticket id
// resumes that ticket instead of creating a new one.
func NewBackfiller(svc services.Matchmaker, connection, queueName string, props services.MatchProperties, maxPlayers int) *Backfiller {
	if len(props.Teams) == 0 {
		props.Teams = []services.Team{{Name: "default", ID: uuid.NewString()}}
	}
	backfillProps := services.BackfillTicketProperties{MatchProperties: props}
	return &Backfiller{
		svc:        svc,
		maxPlayers: maxPlayers,
		Interval:   BackfillPollInterval,
		ticket: services.BackfillTicket{
			ID:         props.BackfillTicketID,
			Connection: connection,
			Properties: backfillProps,
		},
		createOpts: services.CreateBackfillOptions{
			Connection: connection,
			QueueName:  queueName,
			Properties: backfillProps,
		},
	}
}

// IsBackfilling reports whether the reconciliation loop is active.
func (b *Backfiller) IsBackfilling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// PlayerCount returns the current roster size.
func (b *Backfiller) PlayerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticket.Properties.MatchProperties.Players)
}

// NeedsPlayers reports whether the roster is below capacity.
func (b *Backfiller) NeedsPlayers() bool {
	return b.PlayerCount() < b.maxPlayers
}

// BeginBackfilling creates the remote ticket if absent and starts the
// reconciliation loop. Calling it while already active logs a warning and
// does nothing.
func (b *Backfiller) BeginBackfilling(ctx context.Context) error {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		log.Warn().Msg("already backfilling, no need to start another")
		return nil
	}
	ticketID := b.ticket.ID
	opts := b.createOpts
	opts.Properties = cloneTicket(b.ticket).Properties
	count := len(opts.Properties.MatchProperties.Players)
	b.mu.Unlock()

	log.Info().Int("players", count).Int("maxPlayers", b.maxPlayers).Msg("starting backfill")

	if ticketID == "" {
		id, err := b.svc.CreateBackfillTicket(ctx, opts)
		if err != nil {
			log.Error().Err(err).Str("queue", b.createOpts.QueueName).Msg("backfill ticket creation failed")
			return err
		}
		metrics.BackfillOpsTotal.WithLabelValues("create").Inc()
		b.mu.Lock()
		b.ticket.ID = id
		b.mu.Unlock()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.active = true
	b.stop = cancel
	b.mu.Unlock()

	go b.loop(loopCtx)
	return nil
}

// AddPlayer appends a user to the roster and the first team, marking local
// state dirty. Rejected with a warning if backfilling is not active; adding
// an id already present is an idempotent no-op.
func (b *Backfiller) AddPlayer(user services.UserData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		log.Warn().Str("authId", user.UserAuthID).Msg("can't add users to the backfill ticket before it's been created")
		return
	}
	props := &b.ticket.Properties.MatchProperties
	if playerIndex(props.Players, user.UserAuthID) >= 0 {
		log.Warn().Str("userName", user.UserName).Str("authId", user.UserAuthID).Msg("user already in match, ignoring add")
		return
	}
	props.Players = append(props.Players, services.Player{ID: user.UserAuthID, Preferences: user.GamePreferences})
	props.Teams[0].PlayerIDs = append(props.Teams[0].PlayerIDs, user.UserAuthID)
	b.dirty = true
}

// RemovePlayer drops an id from the roster and returns the new roster size.
// It works whether or not backfilling is active so callers can detect the
// roster reaching zero after backfill has stopped. Removing an unknown id
// returns the unchanged count without marking state dirty.
func (b *Backfiller) RemovePlayer(authID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	props := &b.ticket.Properties.MatchProperties
	i := playerIndex(props.Players, authID)
	if i < 0 {
		log.Warn().Str("authId", authID).Msg("no such user in local backfill data")
		return len(props.Players)
	}
	props.Players = append(props.Players[:i], props.Players[i+1:]...)
	for t := range props.Teams {
		if j := indexOf(props.Teams[t].PlayerIDs, authID); j >= 0 {
			props.Teams[t].PlayerIDs = append(props.Teams[t].PlayerIDs[:j], props.Teams[t].PlayerIDs[j+1:]...)
			break
		}
	}
	b.dirty = true
	return len(props.Players)
}

// StopBackfill deletes the remote ticket and marks the coordinator inactive.
// Calling it while not active logs an error and does nothing, which also
// guards against a double delete.
func (b *Backfiller) StopBackfill(ctx context.Context) error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		log.Error().Msg("can't stop backfilling before it begins")
		return nil
	}
	b.active = false
	ticketID := b.ticket.ID
	b.ticket.ID = ""
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ticketID == "" {
		return nil
	}
	if err := b.svc.DeleteBackfillTicket(ctx, ticketID); err != nil {
		log.Error().Err(err).Str("ticketId", ticketID).Msg("backfill ticket delete failed")
		return err
	}
	metrics.BackfillOpsTotal.WithLabelValues("delete").Inc()
	log.Info().Str("ticketId", ticketID).Msg("backfill stopped")
	return nil
}

// Dispose tears the coordinator down; safe to call when never started.
func (b *Backfiller) Dispose(ctx context.Context) {
	if b.IsBackfilling() {
		_ = b.StopBackfill(ctx)
	}
}

// loop reconciles local and remote ticket state once per interval: a dirty
// local ticket is pushed, otherwise the remote-approved ticket is pulled and
// adopted. At most one push or one pull happens per iteration.
func (b *Backfiller) loop(ctx context.Context) {
	for {
		b.mu.Lock()
		if !b.active {
			b.mu.Unlock()
			return
		}
		push := b.dirty
		var snapshot services.BackfillTicket
		if push {
			b.dirty = false
			snapshot = cloneTicket(b.ticket)
		}
		ticketID := b.ticket.ID
		b.mu.Unlock()

		if push {
			if err := b.svc.UpdateBackfillTicket(ctx, ticketID, &snapshot); err != nil {
				log.Error().Err(err).Str("ticketId", ticketID).Msg("backfill update failed; stopping loop")
				b.deactivate()
				return
			}
			metrics.BackfillOpsTotal.WithLabelValues("update").Inc()
		} else {
			remote, err := b.svc.ApproveBackfillTicket(ctx, ticketID)
			if err != nil {
				log.Error().Err(err).Str("ticketId", ticketID).Msg("backfill approval failed; stopping loop")
				b.deactivate()
				return
			}
			metrics.BackfillOpsTotal.WithLabelValues("approve").Inc()
			b.mu.Lock()
			// A mutation that raced the pull wins; its push happens next
			// iteration and the remote response is stale anyway.
			if !b.dirty && b.active {
				remote.ID = ticketID
				b.ticket = cloneTicket(*remote)
				// A remote ticket without teams would leave AddPlayer
				// with nowhere to slot joins.
				if len(b.ticket.Properties.MatchProperties.Teams) == 0 {
					b.ticket.Properties.MatchProperties.Teams = []services.Team{{Name: "default", ID: uuid.NewString()}}
				}
			}
			b.mu.Unlock()
		}

		if !b.NeedsPlayers() {
			if err := b.StopBackfill(ctx); err != nil {
				log.Error().Err(err).Msg("stopping backfill at capacity failed")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Interval):
		}
	}
}

func (b *Backfiller) deactivate() {
	b.mu.Lock()
	b.active = false
	b.ticket.ID = ""
	b.stop = nil
	b.mu.Unlock()
}

func playerIndex(players []services.Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func cloneTicket(t services.BackfillTicket) services.BackfillTicket {
	out := t
	props := &out.Properties.MatchProperties
	props.Players = append([]services.Player(nil), props.Players...)
	teams := make([]services.Team, len(props.Teams))
	for i, team := range props.Teams {
		team.PlayerIDs = append([]string(nil), team.PlayerIDs...)
		teams[i] = team
	}
	props.Teams = teams
	return out
}
