package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/health"
)

// Client talks to a running node's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr, given as host:port or a full URL.
// A zero timeout means no client-side timeout; use ctx instead.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (domain.NodeStatus, error) {
	var st domain.NodeStatus
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// Peers returns the node's peer table.
func (c *Client) Peers(ctx context.Context) ([]domain.PeerRecord, error) {
	var peers []domain.PeerRecord
	err := c.do(ctx, http.MethodGet, "/v1/peers", nil, &peers)
	return peers, err
}

// Connect asks the node to dial each multiaddr.
func (c *Client) Connect(ctx context.Context, addrs []string) ([]ConnectResult, error) {
	var results []ConnectResult
	err := c.do(ctx, http.MethodPost, "/v1/peers", ConnectRequest{Addrs: addrs}, &results)
	return results, err
}

// SubmitTask distributes a task through the node.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest) (TaskResponse, error) {
	var resp TaskResponse
	err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &resp)
	return resp, err
}

// Result fetches a task result. A nil envelope with a nil error means the
// task is still pending.
func (c *Client) Result(ctx context.Context, taskID string) (*domain.ResultEnvelope, error) {
	var env domain.ResultEnvelope
	status, err := c.doStatus(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID)+"/result", nil, &env)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, nil
	}
	return &env, nil
}

// Balance returns an account; an empty address means the node's own.
func (c *Client) Balance(ctx context.Context, address string) (domain.Account, error) {
	var acct domain.Account
	err := c.do(ctx, http.MethodGet, "/v1/balance"+query("address", address), nil, &acct)
	return acct, err
}

// Leaderboard returns the top n earners.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	var entries []domain.LeaderboardEntry
	err := c.do(ctx, http.MethodGet, "/v1/leaderboard"+query("limit", strconv.Itoa(n)), nil, &entries)
	return entries, err
}

// HealthChecks returns the node's latest health results.
func (c *Client) HealthChecks(ctx context.Context) (bool, []health.Status, error) {
	var body struct {
		Healthy bool            `json:"healthy"`
		Checks  []health.Status `json:"checks"`
	}
	_, err := c.doStatus(ctx, http.MethodGet, "/v1/health/checks", nil, &body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && body.Checks != nil {
		return false, body.Checks, nil
	}
	return body.Healthy, body.Checks, err
}

func query(key, value string) string {
	if value == "" {
		return ""
	}
	return "?" + url.Values{key: {value}}.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.doStatus(ctx, method, path, in, out)
	return err
}

func (c *Client) doStatus(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("is the node running? %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Message, apiErr.Type = eb.Error.Message, eb.Error.Type
		}
		// Some error statuses still carry a useful body (health checks).
		if out != nil && apiErr.Type == "" {
			_ = json.Unmarshal(raw, out)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && resp.StatusCode != http.StatusAccepted && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
