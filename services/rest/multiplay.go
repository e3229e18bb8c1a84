package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// MultiplayClient talks to the fleet orchestrator's local machine agent.
type MultiplayClient struct {
	api *api
}

func NewMultiplayClient(baseURL, token string) *MultiplayClient {
	return &MultiplayClient{api: newAPI(baseURL, token)}
}

func (c *MultiplayClient) ServerConfig(ctx context.Context) (*services.ServerConfig, error) {
	var out services.ServerConfig
	if err := c.api.do(ctx, http.MethodGet, "/v1/server-config", nil, &out); err != nil {
		return nil, fmt.Errorf("multiplay: server config: %w", err)
	}
	return &out, nil
}

// PayloadAllocation fetches the matchmaker payload for the current
// allocation. A 404 means no allocation has been made yet and is not an
// error.
func (c *MultiplayClient) PayloadAllocation(ctx context.Context) (*services.AllocationPayload, error) {
	var out services.AllocationPayload
	if err := c.api.do(ctx, http.MethodGet, "/v1/payload", nil, &out); err != nil {
		var nf *errNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("multiplay: allocation payload: %w", err)
	}
	return &out, nil
}

type startQueryRequest struct {
	MaxPlayers int    `json:"maxPlayers"`
	ServerName string `json:"serverName"`
	BuildID    string `json:"buildId"`
}

// StartQueryHandler registers this server with the query protocol and
// returns the handle used to push state updates.
func (c *MultiplayClient) StartQueryHandler(ctx context.Context, capacity int, serverName, buildID string) (services.QueryHandler, error) {
	req := startQueryRequest{MaxPlayers: capacity, ServerName: serverName, BuildID: buildID}
	if err := c.api.do(ctx, http.MethodPost, "/v1/query", req, nil); err != nil {
		return nil, fmt.Errorf("multiplay: start query handler: %w", err)
	}
	log.Debug().Str("serverName", serverName).Int("maxPlayers", capacity).Msg("multiplay: query handler started")
	return &queryHandler{api: c.api}, nil
}

type queryHandler struct {
	api *api
}

func (q *queryHandler) Push(ctx context.Context, state services.QueryState) error {
	if err := q.api.do(ctx, http.MethodPut, "/v1/query", state, nil); err != nil {
		return fmt.Errorf("multiplay: push query state: %w", err)
	}
	return nil
}
