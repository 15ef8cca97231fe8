// Package agentclient invokes agents hosted behind an HTTP endpoint that
// streams their reply as server-sent events.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/appforge/internal/domain"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// EventHandler is called for each SSE event from the agent.
type EventHandler func(event SSEEvent) error

// Client is an HTTP client for invoking agents.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new agent client. The engine bounds each call with its
// own timeout; the HTTP timeout is only a backstop.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke posts inv to the agent's /invoke endpoint and streams SSE events.
func (c *Client) Invoke(ctx context.Context, endpoint string, inv *domain.Invocation, handler EventHandler) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Run-ID", inv.RunID)
	httpReq.Header.Set("X-Agent-ID", inv.Agent.ID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return c.parseSSE(resp.Body, handler)
}

// Collect invokes the agent and returns its full reply text. Delta text is
// concatenated; a done event's final_message wins when present.
func (c *Client) Collect(ctx context.Context, endpoint string, inv *domain.Invocation) (string, error) {
	var (
		text  strings.Builder
		final string
		done  bool
	)
	err := c.Invoke(ctx, endpoint, inv, func(event SSEEvent) error {
		switch event.Event {
		case "delta":
			delta, err := ParseDeltaEvent(event.Data)
			if err != nil {
				return err
			}
			text.WriteString(delta.Text)
		case "done":
			d, err := ParseDoneEvent(event.Data)
			if err != nil {
				return err
			}
			final = d.FinalMessage
			done = true
		case "error":
			e, err := ParseErrorEvent(event.Data)
			if err != nil {
				return err
			}
			return fmt.Errorf("agent error %s: %s", e.Code, e.Message)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !done {
		return "", fmt.Errorf("agent stream ended without a done event")
	}
	if final != "" {
		return final, nil
	}
	return text.String(), nil
}

// parseSSE parses an SSE stream and calls the handler for each event.
func (c *Client) parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ParseDeltaEvent parses a delta event data.
func ParseDeltaEvent(data string) (*domain.DeltaEventData, error) {
	var delta domain.DeltaEventData
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return nil, fmt.Errorf("failed to parse delta event: %w", err)
	}
	return &delta, nil
}

// ParseDoneEvent parses a done event data.
func ParseDoneEvent(data string) (*domain.DoneEventData, error) {
	var done domain.DoneEventData
	if err := json.Unmarshal([]byte(data), &done); err != nil {
		return nil, fmt.Errorf("failed to parse done event: %w", err)
	}
	return &done, nil
}

// ParseErrorEvent parses an error event data.
func ParseErrorEvent(data string) (*domain.ErrorEventData, error) {
	var errEvt domain.ErrorEventData
	if err := json.Unmarshal([]byte(data), &errEvt); err != nil {
		return nil, fmt.Errorf("failed to parse error event: %w", err)
	}
	return &errEvt, nil
}
