package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"matchplay-gameserver/services"

	"github.com/rs/zerolog/log"
)

// MatchmakerClient talks to the matchmaking backend's ticket and backfill
// endpoints.
type MatchmakerClient struct {
	api *api
}

func NewMatchmakerClient(baseURL, token string) *MatchmakerClient {
	return &MatchmakerClient{api: newAPI(baseURL, token)}
}

type createTicketRequest struct {
	Players []services.Player `json:"players"`
	services.CreateTicketOptions
}

type createTicketResponse struct {
	ID string `json:"id"`
}

func (c *MatchmakerClient) CreateTicket(ctx context.Context, players []services.Player, opts services.CreateTicketOptions) (string, error) {
	var out createTicketResponse
	err := c.api.do(ctx, http.MethodPost, "/v1/tickets", createTicketRequest{Players: players, CreateTicketOptions: opts}, &out)
	if err != nil {
		return "", fmt.Errorf("matchmaker: create ticket: %w", err)
	}
	log.Debug().Str("ticketId", out.ID).Str("queue", opts.QueueName).Msg("matchmaker: ticket created")
	return out.ID, nil
}

func (c *MatchmakerClient) GetTicket(ctx context.Context, ticketID string) (*services.TicketStatus, error) {
	var out services.TicketStatus
	if err := c.api.do(ctx, http.MethodGet, "/v1/tickets/"+url.PathEscape(ticketID), nil, &out); err != nil {
		return nil, fmt.Errorf("matchmaker: get ticket %s: %w", ticketID, err)
	}
	return &out, nil
}

func (c *MatchmakerClient) DeleteTicket(ctx context.Context, ticketID string) error {
	if err := c.api.do(ctx, http.MethodDelete, "/v1/tickets/"+url.PathEscape(ticketID), nil, nil); err != nil {
		return fmt.Errorf("matchmaker: delete ticket %s: %w", ticketID, err)
	}
	return nil
}

type createBackfillResponse struct {
	ID string `json:"id"`
}

func (c *MatchmakerClient) CreateBackfillTicket(ctx context.Context, opts services.CreateBackfillOptions) (string, error) {
	var out createBackfillResponse
	if err := c.api.do(ctx, http.MethodPost, "/v1/backfill", opts, &out); err != nil {
		return "", fmt.Errorf("matchmaker: create backfill ticket: %w", err)
	}
	log.Debug().Str("backfillTicketId", out.ID).Str("queue", opts.QueueName).Msg("matchmaker: backfill ticket created")
	return out.ID, nil
}

func (c *MatchmakerClient) UpdateBackfillTicket(ctx context.Context, ticketID string, ticket *services.BackfillTicket) error {
	if err := c.api.do(ctx, http.MethodPut, "/v1/backfill/"+url.PathEscape(ticketID), ticket, nil); err != nil {
		return fmt.Errorf("matchmaker: update backfill ticket %s: %w", ticketID, err)
	}
	return nil
}

func (c *MatchmakerClient) ApproveBackfillTicket(ctx context.Context, ticketID string) (*services.BackfillTicket, error) {
	var out services.BackfillTicket
	if err := c.api.do(ctx, http.MethodPost, "/v1/backfill/"+url.PathEscape(ticketID)+"/approvals", nil, &out); err != nil {
		return nil, fmt.Errorf("matchmaker: approve backfill ticket %s: %w", ticketID, err)
	}
	return &out, nil
}

func (c *MatchmakerClient) DeleteBackfillTicket(ctx context.Context, ticketID string) error {
	if err := c.api.do(ctx, http.MethodDelete, "/v1/backfill/"+url.PathEscape(ticketID), nil, nil); err != nil {
		return fmt.Errorf("matchmaker: delete backfill ticket %s: %w", ticketID, err)
	}
	return nil
}
