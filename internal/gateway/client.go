// Package gateway implements the control-plane client: agent
// registration, configuration and health reporting, and per-measurement
// progress reporting. Grounded directly on the teacher's
// controlplane/monitor/internal/2z-oracle client+watcher pair, with a
// wider endpoint surface and bearer-token auth.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the gateway HTTP surface this agent consumes.
type Client interface {
	GetAgent(ctx context.Context, agentID string) (AgentInfo, int, error)
	RegisterAgent(ctx context.Context, agentID, secret string) (int, error)
	PostConfig(ctx context.Context, agentID string, req ConfigRequest) (int, error)
	PostHealth(ctx context.Context, agentID string, req HealthRequest) (int, error)
	PostMeasurementStatus(ctx context.Context, agentID, measurementID string, req MeasurementStatusRequest) (int, error)
}

type httpClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient builds a gateway Client against baseURL, authenticating
// every request with an Authorization: Bearer token header.
func NewClient(hc *http.Client, baseURL, token string) Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpClient{http: hc, baseURL: baseURL, token: token}
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("gateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("gateway: %s %s: unexpected status %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *httpClient) GetAgent(ctx context.Context, agentID string) (AgentInfo, int, error) {
	var out AgentInfo
	status, err := c.do(ctx, http.MethodGet, "/agent-api/agent/"+agentID, nil, &out)
	return out, status, err
}

func (c *httpClient) RegisterAgent(ctx context.Context, agentID, secret string) (int, error) {
	return c.do(ctx, http.MethodPost, "/agent-api/agent/register", RegisterRequest{ID: agentID, Secret: secret}, nil)
}

func (c *httpClient) PostConfig(ctx context.Context, agentID string, req ConfigRequest) (int, error) {
	return c.do(ctx, http.MethodPost, "/agent-api/agent/"+agentID+"/config", req, nil)
}

func (c *httpClient) PostHealth(ctx context.Context, agentID string, req HealthRequest) (int, error) {
	return c.do(ctx, http.MethodPost, "/agent-api/agent/"+agentID+"/health", req, nil)
}

func (c *httpClient) PostMeasurementStatus(ctx context.Context, agentID, measurementID string, req MeasurementStatusRequest) (int, error) {
	return c.do(ctx, http.MethodPost, "/agent-api/agent/"+agentID+"/measurement/"+measurementID+"/status", req, nil)
}
