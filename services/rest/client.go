// Package rest implements the backend service interfaces over HTTP/JSON.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errNotFound marks a 404 so callers can map it to an absent resource.
type errNotFound struct{ path string }

func (e *errNotFound) Error() string { return fmt.Sprintf("%s: not found", e.path) }

// api is the shared request plumbing for all service clients. The HTTP
// client is created on first use.
type api struct {
	base  string
	token string
	c     *http.Client
}

func newAPI(baseURL, token string) *api {
	return &api{base: strings.TrimRight(baseURL, "/"), token: token}
}

func (a *api) client() *http.Client {
	if a.c == nil {
		a.c = &http.Client{Timeout: 10 * time.Second}
	}
	return a.c
}

// do issues one JSON request. in and out may each be nil. Non-2xx
// responses come back as errors carrying the response body.
func (a *api) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &errNotFound{path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
