// Package services implements the integrations around the conversation core: the transport
// strategies that carry queries to the RAG backend and tokens back, the credential provider,
// and the persistent history store.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

const errLoggerKey = "err"

// ErrUnauthorized reports that the backend rejected the bearer credential. The stored credential
// has already been invalidated when this is returned; callers must not retry automatically.
var ErrUnauthorized = errors.New("credential rejected")

// Client talks to the RAG backend's plain request/response surface: the atomic ask endpoint used
// when incremental delivery is unavailable, and the liveness probe.
type Client struct {
	baseURL string
	creds   *Credentials
	client  *http.Client

	logger *slog.Logger
}

// AskResponse is the backend's atomic answer to a query.
type AskResponse struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// HealthStatus is the backend's liveness report.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type askRequest struct {
	Query string `json:"query"`
}

// NewClient creates a Client for the backend at baseURL. A nil creds means unauthenticated
// requests.
func NewClient(baseURL string, creds *Credentials, logger *slog.Logger) *Client {
	if creds == nil {
		creds = NewCredentials("")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "backend")),
	}
}

// Ask submits a query to the atomic answer endpoint. An authentication failure invalidates the
// stored credential and returns ErrUnauthorized.
func (c *Client) Ask(ctx context.Context, query string) (AskResponse, error) {
	jsonBody, err := json.Marshal(askRequest{Query: query})
	if err != nil {
		return AskResponse{}, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewBuffer(jsonBody))
	if err != nil {
		return AskResponse{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.creds.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return AskResponse{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.creds.Invalidate()
		c.logger.Warn("Backend rejected credential, clearing it")
		return AskResponse{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return AskResponse{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var res AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return AskResponse{}, fmt.Errorf("error decoding response: %w", err)
	}
	return res, nil
}

// Health probes the backend's liveness endpoint. It has no effect on conversation state.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("error creating request: %w", err)
	}
	c.creds.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var res HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return HealthStatus{}, fmt.Errorf("error decoding response: %w", err)
	}
	return res, nil
}

// Oneshot adapts the atomic ask endpoint to the streaming contract, for backends without
// incremental delivery. The whole answer arrives as a single token, so the conversation applies
// the same single-flight and history semantics with the assistant message populated in one
// mutation.
type Oneshot struct {
	Client *Client
}

// Tokens implements the chat.Streamer contract over the atomic endpoint.
func (o Oneshot) Tokens(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		res, err := o.Client.Ask(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", err)
			return
		}
		yield(res.Answer, nil)
	}
}
