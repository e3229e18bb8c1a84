package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"matchplay-gameserver/services"
)

// RelayClient reserves traffic-forwarding endpoints for peer-hosted
// sessions.
type RelayClient struct {
	api *api
}

func NewRelayClient(baseURL, token string) *RelayClient {
	return &RelayClient{api: newAPI(baseURL, token)}
}

type createAllocationRequest struct {
	MaxConnections int `json:"maxConnections"`
}

func (c *RelayClient) CreateAllocation(ctx context.Context, maxConnections int) (*services.RelayAllocation, error) {
	var out services.RelayAllocation
	req := createAllocationRequest{MaxConnections: maxConnections}
	if err := c.api.do(ctx, http.MethodPost, "/v1/relay/allocations", req, &out); err != nil {
		return nil, fmt.Errorf("relay: create allocation: %w", err)
	}
	return &out, nil
}

type joinCodeResponse struct {
	JoinCode string `json:"joinCode"`
}

func (c *RelayClient) JoinCode(ctx context.Context, allocationID string) (string, error) {
	var out joinCodeResponse
	path := "/v1/relay/allocations/" + url.PathEscape(allocationID) + "/join-code"
	if err := c.api.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("relay: join code for %s: %w", allocationID, err)
	}
	return out.JoinCode, nil
}
