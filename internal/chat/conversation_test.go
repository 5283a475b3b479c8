package chat_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nelwhix/ragchat-web-ui/internal/chat"
	"github.com/nelwhix/ragchat-web-ui/internal/models"
	"github.com/nelwhix/ragchat-web-ui/internal/stream"
)

// fixedStreamer yields a fixed token sequence, then ends with final (nil means clean
// completion).
type fixedStreamer struct {
	tokens []string
	final  error
}

// step is one scripted event delivered through chanStreamer.
type step struct {
	token string
	err   error
}

// chanStreamer yields whatever the test sends on ch, ending when ch is closed or the context is
// cancelled.
type chanStreamer struct {
	ch chan step
}

type memStore struct {
	mu       sync.Mutex
	messages []models.Message
}

func TestSubmitQueryRoundTrip(t *testing.T) {
	streamer := &fixedStreamer{tokens: []string{"Yes", "it", "is"}}
	c := newConversation(t, streamer)

	if !c.SubmitQuery("is the sky blue") {
		t.Fatal("SubmitQuery() = false, want true")
	}
	waitIdle(t, c)

	messages := c.Messages()
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3 (greeting, user, assistant)", len(messages))
	}
	if messages[1].Origin != models.OriginUser || messages[1].Text != "is the sky blue" {
		t.Errorf("user message = %+v, want origin user with query text", messages[1])
	}
	if messages[2].Origin != models.OriginAssistant || messages[2].Text != "Yes it is" {
		t.Errorf("assistant message = %q, want %q", messages[2].Text, "Yes it is")
	}
}

func TestSubmitQueryRejectsEmptyInput(t *testing.T) {
	c := newConversation(t, &fixedStreamer{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if c.SubmitQuery(text) {
			t.Errorf("SubmitQuery(%q) = true, want false", text)
		}
	}
	if len(c.Messages()) != 1 {
		t.Errorf("got %d messages, want just the greeting", len(c.Messages()))
	}
}

func TestSubmitQuerySingleFlight(t *testing.T) {
	streamer := &chanStreamer{ch: make(chan step, 1)}
	c := newConversation(t, streamer)

	if !c.SubmitQuery("first") {
		t.Fatal("first SubmitQuery() = false, want true")
	}
	before := len(c.Messages())

	if c.SubmitQuery("second") {
		t.Error("SubmitQuery() while busy = true, want false")
	}
	if len(c.Messages()) != before {
		t.Errorf("rejected submission changed history length: got %d, want %d", len(c.Messages()), before)
	}

	close(streamer.ch)
	waitIdle(t, c)

	// The single-flight lock is released exactly once per terminated session.
	if !c.SubmitQuery("third") {
		t.Error("SubmitQuery() after completion = false, want true")
	}
	waitIdle(t, c)
}

func TestStreamErrorReplacesMessageAndReleasesLock(t *testing.T) {
	streamer := &fixedStreamer{tokens: []string{"partial"}, final: errors.New("connection error")}
	c := newConversation(t, streamer)

	c.SubmitQuery("query")
	waitIdle(t, c)

	messages := c.Messages()
	last := messages[len(messages)-1]
	if last.Text != "⚠️ Error streaming response. Please try again." {
		t.Errorf("assistant message = %q, want the fixed error marker", last.Text)
	}

	streamer.final = nil
	streamer.tokens = []string{"recovered"}
	if !c.SubmitQuery("again") {
		t.Error("SubmitQuery() after error = false, want true")
	}
	waitIdle(t, c)
}

func TestUnterminatedStreamCompletesNormally(t *testing.T) {
	streamer := &fixedStreamer{tokens: []string{"A", "B"}, final: stream.ErrUnterminated}
	c := newConversation(t, streamer)

	c.SubmitQuery("query")
	waitIdle(t, c)

	messages := c.Messages()
	last := messages[len(messages)-1]
	if last.Text != "A B" {
		t.Errorf("assistant message = %q, want %q", last.Text, "A B")
	}
	if !c.SubmitQuery("again") {
		t.Error("SubmitQuery() after early close = false, want true")
	}
	waitIdle(t, c)
}

func TestClear(t *testing.T) {
	c := newConversation(t, &fixedStreamer{tokens: []string{"answer"}})

	c.SubmitQuery("query")
	waitIdle(t, c)
	c.Clear()

	messages := c.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d messages after Clear(), want 1", len(messages))
	}
	if messages[0].Origin != models.OriginAssistant {
		t.Errorf("greeting origin = %q, want assistant", messages[0].Origin)
	}
}

func TestLateCallbackFromSupersededSession(t *testing.T) {
	streamer := &chanStreamer{ch: make(chan step, 2)}
	c := newConversation(t, streamer)

	c.SubmitQuery("query")
	streamer.ch <- step{token: "early"}
	waitText(t, c, "early")

	c.Clear()

	// Tokens still buffered for the cancelled session must not touch the new state.
	streamer.ch <- step{token: "late"}
	close(streamer.ch)
	time.Sleep(50 * time.Millisecond)

	messages := c.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want just the greeting", len(messages))
	}
	if messages[0].Text == "late" || messages[0].Text == "early" {
		t.Errorf("stale session mutated the cleared conversation: %q", messages[0].Text)
	}
	if c.Busy() {
		t.Error("Busy() = true after Clear(), want false")
	}
}

func newConversation(t *testing.T, streamer chat.Streamer) *chat.Conversation {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := chat.NewConversation(streamer, &memStore{}, "", logger)
	if err != nil {
		t.Fatalf("NewConversation() error = %v", err)
	}
	return c
}

func waitIdle(t *testing.T, c *chat.Conversation) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("conversation still busy")
		}
		time.Sleep(time.Millisecond)
	}
}

// waitText blocks until the last message's text contains want.
func waitText(t *testing.T, c *chat.Conversation, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		messages := c.Messages()
		if len(messages) > 0 && strings.Contains(messages[len(messages)-1].Text, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("message text never contained %q", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixedStreamer) Tokens(_ context.Context, _ string) iter.Seq2[string, error] {
	tokens := slices.Clone(f.tokens)
	final := f.final
	return func(yield func(string, error) bool) {
		for _, token := range tokens {
			if !yield(token, nil) {
				return
			}
		}
		if final != nil {
			yield("", final)
		}
	}
}

func (s *chanStreamer) Tokens(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-s.ch:
				if !ok {
					return
				}
				if st.err != nil {
					yield("", st.err)
					return
				}
				if !yield(st.token, nil) {
					return
				}
			}
		}
	}
}

func (m *memStore) Messages(_ context.Context) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages), nil
}

func (m *memStore) AddMessage(_ context.Context, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *memStore) UpdateMessage(_ context.Context, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.messages, func(c models.Message) bool { return c.ID == msg.ID })
	if idx == -1 {
		return errors.New("message not found")
	}
	m.messages[idx] = msg
	return nil
}

func (m *memStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	return nil
}
