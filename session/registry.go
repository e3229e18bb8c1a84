// Package session owns connection approval and the mapping between
// transport connections and authenticated users.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// Session is one approved connection's identity record.
type Session struct {
	ConnectionID uint64
	AuthID       string
	DisplayName  string
	Preferences  services.GamePreferences
	JoinedAt     time.Time
}

// Decision is the approval verdict returned to the transport substrate.
type Decision struct {
	Accept             bool
	CreatePlayerEntity bool
}

// Registry maps transport connection ids to authenticated users and emits
// join/leave notifications. The connection-to-auth and auth-to-session maps
// are always updated together under one lock, so a disconnect racing an
// approval can never observe a half-written mapping.
type Registry struct {
	mu            sync.Mutex
	connToAuth    map[uint64]string
	authToSession map[string]*Session

	nextHandlerID int
	joined        map[int]func(Session)
	left          map[int]func(Session)
}

func NewRegistry() *Registry {
	return &Registry{
		connToAuth:    make(map[uint64]string),
		authToSession: make(map[string]*Session),
		joined:        make(map[int]func(Session)),
		left:          make(map[int]func(Session)),
	}
}

// OnUserJoined registers a join handler and returns its idempotent
// deregistration func. Handlers fire synchronously at the end of Approve.
func (r *Registry) OnUserJoined(fn func(Session)) func() {
	return r.subscribe(fn, true)
}

// OnUserLeft registers a leave handler and returns its idempotent
// deregistration func.
func (r *Registry) OnUserLeft(fn func(Session)) func() {
	return r.subscribe(fn, false)
}

func (r *Registry) subscribe(fn func(Session), joined bool) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextHandlerID
	r.nextHandlerID++
	if joined {
		r.joined[id] = fn
	} else {
		r.left[id] = fn
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.joined, id)
		delete(r.left, id)
	}
}

// Approve deserializes the identity payload for a connecting client and
// decides whether to accept it. The session mapping is fully installed
// before the accept decision is returned.
func (r *Registry) Approve(connectionID uint64, payload []byte) Decision {
	var user services.UserData
	if err := json.Unmarshal(payload, &user); err != nil {
		log.Warn().Err(err).Uint64("connectionId", connectionID).Msg("rejecting connection: malformed identity payload")
		return Decision{}
	}
	if user.UserAuthID == "" {
		log.Warn().Uint64("connectionId", connectionID).Msg("rejecting connection: identity payload missing auth id")
		return Decision{}
	}

	sess := Session{
		ConnectionID: connectionID,
		AuthID:       user.UserAuthID,
		DisplayName:  user.UserName,
		Preferences:  user.GamePreferences,
		JoinedAt:     time.Now(),
	}

	r.mu.Lock()
	if _, live := r.authToSession[user.UserAuthID]; live {
		r.mu.Unlock()
		log.Warn().Uint64("connectionId", connectionID).Str("authId", user.UserAuthID).Msg("rejecting connection: auth id already has a live session")
		return Decision{}
	}
	r.connToAuth[connectionID] = user.UserAuthID
	r.authToSession[user.UserAuthID] = &sess
	handlers := r.joinedHandlers()
	r.mu.Unlock()

	log.Info().Uint64("connectionId", connectionID).Str("authId", user.UserAuthID).Str("userName", user.UserName).Msg("connection approved")
	for _, fn := range handlers {
		fn(sess)
	}
	// The player entity is spawned by the game layer, not the transport.
	return Decision{Accept: true}
}

// OnDisconnect removes the session for a connection and emits UserLeft once.
// Unknown connection ids are a no-op.
func (r *Registry) OnDisconnect(connectionID uint64) {
	r.mu.Lock()
	authID, ok := r.connToAuth[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess := *r.authToSession[authID]
	delete(r.connToAuth, connectionID)
	delete(r.authToSession, authID)
	handlers := r.leftHandlers()
	r.mu.Unlock()

	log.Info().Uint64("connectionId", connectionID).Str("authId", authID).Msg("connection closed")
	for _, fn := range handlers {
		fn(sess)
	}
}

// Lookup returns the session for a connection id. Non-mutating; intended for
// gameplay collaborators resolving display names.
func (r *Registry) Lookup(connectionID uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	authID, ok := r.connToAuth[connectionID]
	if !ok {
		return Session{}, false
	}
	return *r.authToSession[authID], true
}

// LookupAuth returns the session for an auth id.
func (r *Registry) LookupAuth(authID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.authToSession[authID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.authToSession)
}

func (r *Registry) joinedHandlers() []func(Session) {
	out := make([]func(Session), 0, len(r.joined))
	for _, fn := range r.joined {
		out = append(out, fn)
	}
	return out
}

func (r *Registry) leftHandlers() []func(Session) {
	out := make([]func(Session), 0, len(r.left))
	for _, fn := range r.left {
		out = append(out, fn)
	}
	return out
}
