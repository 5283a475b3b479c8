package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nelwhix/ragchat-web-ui/internal/stream"
)

// SSE streams answers from the backend's server-push endpoint. Each query is one outbound GET
// whose response body is the incremental token stream, decoded by the stream package. The
// channel lives exactly as long as the response body.
type SSE struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// NewSSE creates an SSE strategy for the backend at baseURL.
func NewSSE(baseURL string, logger *slog.Logger) SSE {
	return SSE{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "sse")),
	}
}

// Tokens opens the push stream for one query and yields its tokens in arrival order. The
// iterator ends on the terminator frame, yields stream.ErrUnterminated when the server closes
// early, and yields a transport error on connection failure. Cancelling the context closes the
// channel without an error.
func (s SSE) Tokens(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		u := s.baseURL + "/api/chat/stream?query=" + url.QueryEscape(query)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := s.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("connection error: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		s.logger.Debug("Stream opened", slog.String("query", query))

		for token, err := range stream.Decode(resp.Body) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", err)
				return
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}
