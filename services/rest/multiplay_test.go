package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"matchplay-gameserver/services"
)

func TestMultiplayClient_PayloadNotFoundIsNotError(t *testing.T) {
	backend := &scriptedBackend{status: http.StatusNotFound}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := NewMultiplayClient(srv.URL, "")
	payload, err := c.PayloadAllocation(context.Background())
	if err != nil {
		t.Fatalf("PayloadAllocation() err: %#v, want 404 treated as no allocation", err)
	}
	if payload != nil {
		t.Errorf("payload = %#v, want nil", payload)
	}
}

func TestMultiplayClient_QueryHandlerPush(t *testing.T) {
	backend := &scriptedBackend{status: http.StatusNoContent}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := NewMultiplayClient(srv.URL, "")
	qh, err := c.StartQueryHandler(context.Background(), 20, "tanks-1", "build-1")
	if err != nil {
		t.Fatalf("StartQueryHandler() err: %#v", err)
	}
	if req := backend.last(t); req.method != http.MethodPost || req.path != "/v1/query" {
		t.Errorf("request = %s %s, want POST /v1/query", req.method, req.path)
	}

	state := services.QueryState{ServerName: "tanks-1", BuildID: "build-1", Map: "canyon", MaxPlayers: 20, CurrentPlayers: 3}
	if err := qh.Push(context.Background(), state); err != nil {
		t.Fatalf("Push() err: %#v", err)
	}
	if req := backend.last(t); req.method != http.MethodPut || req.path != "/v1/query" {
		t.Errorf("request = %s %s, want PUT /v1/query", req.method, req.path)
	}
}

func TestMultiplayClient_ServerConfig(t *testing.T) {
	backend := &scriptedBackend{body: `{"serverId":"srv-1","allocationId":"alloc-1","port":7777,"queryPort":7787}`}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	c := NewMultiplayClient(srv.URL, "")
	cfg, err := c.ServerConfig(context.Background())
	if err != nil {
		t.Fatalf("ServerConfig() err: %#v", err)
	}
	if cfg.AllocationID != "alloc-1" || cfg.Port != 7777 {
		t.Errorf("config = %#v, want allocation and port decoded", cfg)
	}
}
