package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// LobbyClient talks to the lobby directory service.
type LobbyClient struct {
	api *api
}

func NewLobbyClient(baseURL, token string) *LobbyClient {
	return &LobbyClient{api: newAPI(baseURL, token)}
}

type createLobbyRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	services.CreateLobbyOptions
}

func (c *LobbyClient) CreateLobby(ctx context.Context, name string, maxPlayers int, opts services.CreateLobbyOptions) (*services.Lobby, error) {
	var out services.Lobby
	req := createLobbyRequest{Name: name, MaxPlayers: maxPlayers, CreateLobbyOptions: opts}
	if err := c.api.do(ctx, http.MethodPost, "/v1/lobbies", req, &out); err != nil {
		return nil, fmt.Errorf("lobby: create %q: %w", name, err)
	}
	log.Debug().Str("lobbyId", out.ID).Str("lobbyName", name).Msg("lobby: created")
	return &out, nil
}

func (c *LobbyClient) Heartbeat(ctx context.Context, lobbyID string) error {
	if err := c.api.do(ctx, http.MethodPost, "/v1/lobbies/"+url.PathEscape(lobbyID)+"/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("lobby: heartbeat %s: %w", lobbyID, err)
	}
	return nil
}

func (c *LobbyClient) DeleteLobby(ctx context.Context, lobbyID string) error {
	if err := c.api.do(ctx, http.MethodDelete, "/v1/lobbies/"+url.PathEscape(lobbyID), nil, nil); err != nil {
		return fmt.Errorf("lobby: delete %s: %w", lobbyID, err)
	}
	return nil
}

type queryLobbiesResponse struct {
	Results []services.Lobby `json:"results"`
}

func (c *LobbyClient) QueryLobbies(ctx context.Context) ([]services.Lobby, error) {
	var out queryLobbiesResponse
	if err := c.api.do(ctx, http.MethodGet, "/v1/lobbies", nil, &out); err != nil {
		return nil, fmt.Errorf("lobby: query: %w", err)
	}
	return out.Results, nil
}
