// Package ws implements the transport substrate over websockets: clients
// connect to /connect, send their identity payload as the first message and
// stay connected until they or the server close the socket.
package ws

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"matchplay-gameserver/transport"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// handshakeTimeout bounds how long a client may take to send its identity
// payload after the websocket upgrade.
const handshakeTimeout = 5 * time.Second

// Listener accepts websocket clients and drives the approval hook and
// disconnect callback for each of them.
type Listener struct {
	approve      transport.ApprovalFunc
	onDisconnect transport.DisconnectFunc

	mu     sync.Mutex
	srv    *http.Server
	nextID uint64
	conns  map[uint64]*websocket.Conn
	closed bool
}

func NewListener(approve transport.ApprovalFunc, onDisconnect transport.DisconnectFunc) *Listener {
	return &Listener{
		approve:      approve,
		onDisconnect: onDisconnect,
		conns:        make(map[uint64]*websocket.Conn),
	}
}

// OpenListener binds ip:port and starts serving connections. Returns false
// when the bind fails.
func (l *Listener) OpenListener(ip string, port int) bool {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("failed to open listener")
		return false
	}

	r := chi.NewRouter()
	r.Get("/connect", l.handleConnect)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	l.mu.Lock()
	l.srv = srv
	l.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("listener stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", addr).Msg("listener open")
	return true
}

// Shutdown closes every live connection and stops the listener. Safe to
// call repeatedly and before OpenListener.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	srv := l.srv
	conns := make([]*websocket.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("listener graceful shutdown failed")
		}
	}
	log.Info().Msg("listener shut down")
}

func (l *Listener) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}

	// The first client message is the opaque identity payload.
	readCtx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
	_, payload, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("client never sent identity payload")
		_ = conn.Close(websocket.StatusPolicyViolation, "identity payload required")
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	decision := l.approve(id, payload)
	if !decision.Accept {
		_ = conn.Close(websocket.StatusPolicyViolation, "connection rejected")
		return
	}

	l.mu.Lock()
	l.conns[id] = conn
	l.mu.Unlock()

	// Hold the connection open until the client goes away, then fire the
	// disconnect callback exactly once.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}

	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
	l.onDisconnect(id)
}
