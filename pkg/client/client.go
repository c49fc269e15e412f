// Package client is the HTTP client for the relay API, used by the remote
// execution client to authenticate, poll for commands, and report results.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pentagent/pentagent/pkg/types"
)

// Client talks to the relay server. After Connect it carries the
// connection-scoped access token on every request.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a new relay API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// doRequest performs an HTTP request with bearer authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// Connect performs the one-time authentication with the long-lived token.
// On success the returned connection-scoped token is stored for all later
// calls.
func (c *Client) Connect(ctx context.Context, req types.ConnectRequest) (*types.ConnectResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/connect", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var connectResp types.ConnectResponse
	if err := json.NewDecoder(resp.Body).Decode(&connectResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !connectResp.Success {
		if connectResp.Error != "" {
			return nil, fmt.Errorf("connect rejected: %s", connectResp.Error)
		}
		return nil, fmt.Errorf("connect failed (status %d)", resp.StatusCode)
	}

	c.accessToken = connectResp.AccessToken
	return &connectResp, nil
}

// Heartbeat sends a liveness signal for the connection.
func (c *Client) Heartbeat(ctx context.Context, connectionID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/connections/%s/heartbeat", connectionID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("heartbeat failed (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Disconnect notifies the backend that the connection is going away.
func (c *Client) Disconnect(ctx context.Context, connectionID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/connections/%s/disconnect", connectionID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PendingCommands fetches commands waiting for this connection.
func (c *Client) PendingCommands(ctx context.Context, connectionID string) ([]types.Command, error) {
	resp, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/api/connections/%s/commands/pending", connectionID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll failed (status %d): %s", resp.StatusCode, string(body))
	}

	var cmds []types.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return cmds, nil
}

// MarkExecuting claims a command so duplicate polls cannot re-run it.
func (c *Client) MarkExecuting(ctx context.Context, connectionID, commandID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/connections/%s/commands/%s/executing", connectionID, commandID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mark executing failed (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// SubmitResult reports a command result. Safe to retry: the backend keeps
// the last write.
func (c *Client) SubmitResult(ctx context.Context, connectionID string, result types.CommandResult) error {
	resp, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/connections/%s/commands/%s/result", connectionID, result.CommandID), result)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("submit result failed (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}
