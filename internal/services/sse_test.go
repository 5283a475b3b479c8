package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/nelwhix/ragchat-web-ui/internal/services"
	"github.com/nelwhix/ragchat-web-ui/internal/stream"
)

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		if r.URL.Path != "/api/chat/stream" {
			t.Errorf("path = %s, want /api/chat/stream", r.URL.Path)
		}
		if r.URL.Query().Get("query") == "" {
			t.Error("query parameter missing")
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer is not a flusher")
		}
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

func TestSSETokens(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		"data: Yes \n\n",
		"data: it \ndata: is \n\n",
		"data: [DONE]\n\n",
	}))
	defer srv.Close()

	sse := services.NewSSE(srv.URL, discardLogger())

	var tokens []string
	for token, err := range sse.Tokens(context.Background(), "is the sky blue") {
		if err != nil {
			t.Fatalf("Tokens() error = %v", err)
		}
		tokens = append(tokens, token)
	}

	want := []string{"Yes", "it", "is"}
	if !slices.Equal(tokens, want) {
		t.Errorf("Tokens() = %q, want %q", tokens, want)
	}
}

func TestSSETokensUnterminated(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"data: half \n", "data: done \n"}))
	defer srv.Close()

	sse := services.NewSSE(srv.URL, discardLogger())

	var tokens []string
	var last error
	for token, err := range sse.Tokens(context.Background(), "query") {
		if err != nil {
			last = err
			continue
		}
		tokens = append(tokens, token)
	}

	if !slices.Equal(tokens, []string{"half", "done"}) {
		t.Errorf("Tokens() = %q", tokens)
	}
	if !errors.Is(last, stream.ErrUnterminated) {
		t.Errorf("final error = %v, want ErrUnterminated", last)
	}
}

func TestSSETokensServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sse := services.NewSSE(srv.URL, discardLogger())

	var last error
	for _, err := range sse.Tokens(context.Background(), "query") {
		last = err
	}

	if last == nil || errors.Is(last, stream.ErrUnterminated) {
		t.Errorf("final error = %v, want a transport error", last)
	}
}

func TestSSETokensCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: first \n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	sse := services.NewSSE(srv.URL, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tokens []string
	for token, err := range sse.Tokens(ctx, "query") {
		if err != nil {
			t.Fatalf("Tokens() error = %v, want cancellation to end the stream silently", err)
		}
		tokens = append(tokens, token)
		cancel()
	}

	if !slices.Equal(tokens, []string{"first"}) {
		t.Errorf("Tokens() = %q, want only the token before cancellation", tokens)
	}
}
