// Package client is a Go client for the orchestrator's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/appforge/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Kind    domain.ErrorKind
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Client talks to one orchestrator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Start begins a run for userRequest.
func (c *Client) Start(ctx context.Context, userRequest string) (*domain.State, error) {
	var st domain.State
	err := c.do(ctx, http.MethodPost, "/v1/pipeline/start", domain.StartRequest{UserRequest: userRequest}, &st, nil)
	return &st, err
}

// ApprovePlan approves the proposed plan, or plan when it is non-nil.
func (c *Client) ApprovePlan(ctx context.Context, plan *domain.Plan) (*domain.State, error) {
	var body interface{}
	if plan != nil {
		body = domain.ApprovePlanRequest{Summary: plan.Summary, Steps: plan.Steps}
	}
	var st domain.State
	err := c.do(ctx, http.MethodPost, "/v1/pipeline/approve", body, &st, nil)
	return &st, err
}

// ToolCall applies a tool call.
func (c *Client) ToolCall(ctx context.Context, name string, params map[string]interface{}) (*domain.State, error) {
	var st domain.State
	err := c.do(ctx, http.MethodPost, "/v1/pipeline/tool_calls", domain.ToolCallRequest{ToolName: name, Parameters: params}, &st, nil)
	return &st, err
}

// State returns the current snapshot and the poll interval the server
// advertises (zero when absent).
func (c *Client) State(ctx context.Context) (*domain.State, time.Duration, error) {
	var st domain.State
	var header http.Header
	if err := c.do(ctx, http.MethodGet, "/v1/pipeline/state", nil, &st, &header); err != nil {
		return nil, 0, err
	}
	var interval time.Duration
	if v, err := strconv.Atoi(header.Get("X-Poll-Interval")); err == nil && v > 0 {
		interval = time.Duration(v) * time.Second
	}
	return &st, interval, nil
}

// Reset discards the active run.
func (c *Client) Reset(ctx context.Context) (*domain.State, error) {
	var st domain.State
	err := c.do(ctx, http.MethodPost, "/v1/pipeline/reset", nil, &st, nil)
	return &st, err
}

// Agents lists the pipeline's agents.
func (c *Client) Agents(ctx context.Context) ([]domain.AgentDescriptor, error) {
	var resp struct {
		Agents []domain.AgentDescriptor `json:"agents"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &resp, nil)
	return resp.Agents, err
}

// Tools lists the tool registry.
func (c *Client) Tools(ctx context.Context) ([]domain.ToolListItem, error) {
	var resp domain.ListToolsResponse
	err := c.do(ctx, http.MethodGet, "/v1/tools", nil, &resp, nil)
	return resp.Tools, err
}

// Runs lists journaled runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	var resp struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	path := "/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp, nil)
	return resp.Runs, err
}

// Events returns a run's journaled events after version afterVersion.
func (c *Client) Events(ctx context.Context, runID string, afterVersion uint64) ([]domain.Event, error) {
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	path := "/v1/runs/" + runID + "/events"
	if afterVersion > 0 {
		path += "?after_version=" + strconv.FormatUint(afterVersion, 10)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp, nil)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, header *http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errResp domain.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Kind = errResp.Kind
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if header != nil {
		*header = resp.Header
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
