// Package client talks to a running queenflow server over HTTP and SSE.
package client

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

	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/internal/stream"
	"github.com/ShayCichocki/queenflow/internal/version"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Frame is one decoded stream event. Fields not carried by a given type
// are left empty.
type Frame struct {
	Type      string                     `json:"type"`
	Agent     models.AgentID             `json:"agent,omitempty"`
	Status    models.AgentStatus         `json:"status,omitempty"`
	Message   string                     `json:"message,omitempty"`
	Content   string                     `json:"content,omitempty"`
	Stage     models.Stage               `json:"stage,omitempty"`
	Details   string                     `json:"details,omitempty"`
	SessionID string                     `json:"sessionId,omitempty"`
	Stages    *orchestrator.StageOutputs `json:"stages,omitempty"`
}

// Terminal reports whether the frame ends its stream.
func (f Frame) Terminal() bool {
	switch f.Type {
	case orchestrator.WireComplete, orchestrator.WireError, orchestrator.WireOrchestrationComplete:
		return true
	}
	return false
}

// HandlerFunc receives stream frames in order. Returning an error stops
// the stream and closes the connection.
type HandlerFunc func(Frame) error

// Client is a queenflow API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Streams can run for
// minutes, so the client should not set a short Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope mirrors the server's REST response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Submit creates an orchestration session and returns its ID.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/orchestrations", promptBody(prompt), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.SessionID == "" {
		return "", errors.New("submit response has no session id")
	}
	return out.SessionID, nil
}

// Events subscribes to a session's stream. A fresh session is run; a
// finished one replays its terminal event.
func (c *Client) Events(ctx context.Context, sessionID string, fn HandlerFunc) error {
	return c.stream(ctx, http.MethodGet, "/api/v1/orchestrations/"+url.PathEscape(sessionID)+"/events", nil, fn)
}

// MultiAgent submits and runs a prompt in a single streamed request.
func (c *Client) MultiAgent(ctx context.Context, prompt string, fn HandlerFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/multi-agent", promptBody(prompt), fn)
}

// Ask sends a prompt to the single-agent endpoint.
func (c *Client) Ask(ctx context.Context, prompt string, fn HandlerFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/claude", promptBody(prompt), fn)
}

// Cancel asks the server to stop a running session.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/orchestrations/"+url.PathEscape(sessionID)+"/cancel", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Agents lists the status of every agent.
func (c *Client) Agents(ctx context.Context) ([]models.AgentStatusRecord, error) {
	var out []models.AgentStatusRecord
	if err := c.getData(ctx, "/api/v1/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetAgentStatus updates one agent's status.
func (c *Client) SetAgentStatus(ctx context.Context, id models.AgentID, status models.AgentStatus) (*models.AgentStatusRecord, error) {
	body, err := json.Marshal(map[string]models.AgentStatus{"status": status})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPut, "/api/v1/agents/"+url.PathEscape(string(id))+"/status", bytes.NewReader(body), "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec models.AgentStatusRecord
	if err := decodeEnvelope(resp.Body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Sessions lists the most recent sessions. A limit of zero uses the server default.
func (c *Client) Sessions(ctx context.Context, limit int) ([]state.OrchestrationSession, error) {
	path := "/api/v1/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []state.OrchestrationSession
	if err := c.getData(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, id string) (*state.OrchestrationSession, error) {
	var out state.OrchestrationSession
	if err := c.getData(ctx, "/api/v1/sessions/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches stored-state counters.
func (c *Client) Stats(ctx context.Context) (*state.Stats, error) {
	var out state.Stats
	if err := c.getData(ctx, "/api/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getData(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Body, v)
}

func decodeEnvelope(r io.Reader, v any) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, method, path string, body io.Reader, fn HandlerFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.do(ctx, method, path, body, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	r := stream.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}

		var f Frame
		if err := ev.Decode(&f); err != nil {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
		if f.Terminal() {
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env envelope
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&env); err == nil && env.Error != "" {
			apiErr.Message = env.Error
			apiErr.Details = env.Details
		}
		return nil, apiErr
	}
	return resp, nil
}

func promptBody(prompt string) io.Reader {
	b, _ := json.Marshal(map[string]string{"prompt": prompt})
	return bytes.NewReader(b)
}
