package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/server"
	"github.com/joshp123/flairbridge/plugins/flair"
)

// apiClient talks to the bridge's HTTP surface.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.Status, e.Message)
}

type reconcileReply struct {
	flair.Result
	Error string `json:"error,omitempty"`
}

func (c *apiClient) Accessories(ctx context.Context) ([]accessory.Snapshot, error) {
	var out []accessory.Snapshot
	err := c.do(ctx, http.MethodGet, "/accessories", nil, &out)
	return out, err
}

func (c *apiClient) Accessory(ctx context.Context, uuid string) (accessory.Snapshot, error) {
	var out accessory.Snapshot
	err := c.do(ctx, http.MethodGet, "/accessories/"+url.PathEscape(uuid), nil, &out)
	return out, err
}

func (c *apiClient) Set(ctx context.Context, uuid string, req server.SetRequest) (accessory.Snapshot, error) {
	var out accessory.Snapshot
	err := c.do(ctx, http.MethodPost, "/accessories/"+url.PathEscape(uuid)+"/set", req, &out)
	return out, err
}

// Reconcile returns the pass result even when the bridge reports a
// partial failure.
func (c *apiClient) Reconcile(ctx context.Context) (reconcileReply, error) {
	var out reconcileReply
	err := c.do(ctx, http.MethodPost, "/reconcile", nil, &out)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway && out.Error != "" {
		return out, nil
	}
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) > 0 && out != nil {
		// Error replies may still carry a usable body.
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	return nil
}
