// Package chat owns the visible conversation and the lifecycle of the stream session feeding it.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nelwhix/ragchat-web-ui/internal/models"
	"github.com/nelwhix/ragchat-web-ui/internal/stream"
)

// Streamer opens one response channel per query and yields answer tokens in arrival order. The
// iterator ends when the backend signals completion; it yields stream.ErrUnterminated when the
// channel closed without an explicit terminator, and any other error when the transport failed.
// Cancelling the context stops the stream without an error.
type Streamer interface {
	Tokens(ctx context.Context, query string) iter.Seq2[string, error]
}

// Store defines the interface for persisting the conversation history. Messages returns the
// stored history in insertion order, AddMessage returns the identifier under which the message
// was stored, and Reset discards the whole history.
type Store interface {
	Messages(ctx context.Context) ([]models.Message, error)
	AddMessage(ctx context.Context, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, message models.Message) error
	Reset(ctx context.Context) error
}

// DefaultGreeting is the assistant message seeded into an empty conversation.
const DefaultGreeting = "Hello! I'm your RAG-powered assistant. " +
	"I can stream responses token by token. What would you like to know?"

const (
	clearedGreeting = "Chat cleared! Ready to stream a fresh response."
	errorText       = "⚠️ Error streaming response. Please try again."
)

const errLoggerKey = "err"

// Conversation is the single authoritative owner of the message history and the active stream
// session. At most one session is in flight at a time; queries submitted while a session is
// active are rejected. All mutation funnels through one mutex, and every effect coming from a
// session is dropped unless that session is still the active one, so late callbacks from a
// cancelled or superseded stream can never touch newer state.
type Conversation struct {
	streamer Streamer
	store    Store
	logger   *slog.Logger

	mu       sync.Mutex
	messages []models.Message
	active   *session
	onUpdate func()
}

// session is the ephemeral state of one in-flight query. Identity is the pointer itself: effects
// carry their session and are ignored once the conversation has moved on to another (or none).
type session struct {
	messageID     string
	cancel        context.CancelFunc
	gotFirstToken bool
}

// NewConversation creates a Conversation backed by the given streamer and store. The stored
// history is loaded on construction; an empty history is seeded with the greeting, or with
// DefaultGreeting when greeting is empty.
func NewConversation(streamer Streamer, store Store, greeting string, logger *slog.Logger) (*Conversation, error) {
	if greeting == "" {
		greeting = DefaultGreeting
	}

	c := &Conversation{
		streamer: streamer,
		store:    store,
		logger:   logger.With(slog.String("module", "chat")),
	}

	messages, err := store.Messages(context.Background())
	if err != nil {
		return nil, err
	}
	c.messages = messages

	if len(c.messages) == 0 {
		c.seed(greeting)
	}

	return c, nil
}

// OnUpdate registers a callback invoked after every visible state change. The callback is called
// without the conversation lock held and must not block for long; it is how the browser layer
// learns that the chatbox needs re-rendering.
func (c *Conversation) OnUpdate(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Messages returns a snapshot of the conversation history in display order.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// Busy reports whether a stream session is currently in flight.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Waiting reports whether a session is in flight that has not yet received its first token. It
// gates the loading indicator.
func (c *Conversation) Waiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && !c.active.gotFirstToken
}

// SubmitQuery starts a new query. The text is trimmed; empty input is rejected, and so is any
// submission while a session is in flight. On acceptance the user message and an empty assistant
// message are appended, and a session begins streaming tokens into the assistant message. The
// return value reports whether the query was accepted.
func (c *Conversation) SubmitQuery(text string) bool {
	query := strings.TrimSpace(text)
	if query == "" {
		return false
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return false
	}

	c.appendLocked(models.Message{
		ID:        uuid.New().String(),
		Origin:    models.OriginUser,
		Text:      query,
		CreatedAt: time.Now(),
	})
	assistantID := c.appendLocked(models.Message{
		ID:        uuid.New().String(),
		Origin:    models.OriginAssistant,
		CreatedAt: time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		messageID: assistantID,
		cancel:    cancel,
	}
	c.active = s
	c.mu.Unlock()

	c.notify()
	go c.run(ctx, s, query)

	return true
}

// Clear discards the whole history and resets to a single assistant greeting. An in-flight
// session is cancelled as a side effect; a user-initiated reset is never blocked by a stuck
// stream.
func (c *Conversation) Clear() {
	c.mu.Lock()
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}
	c.messages = nil
	if err := c.store.Reset(context.Background()); err != nil {
		c.logger.Error("Failed to reset store", slog.String(errLoggerKey, err.Error()))
	}
	c.seed(clearedGreeting)
	c.mu.Unlock()

	c.notify()
}

func (c *Conversation) run(ctx context.Context, s *session, query string) {
	defer s.cancel()

	for token, err := range c.streamer.Tokens(ctx, query) {
		if err != nil {
			switch {
			case errors.Is(err, stream.ErrUnterminated):
				// The backend closed without a terminator; treat it as completion.
				c.finish(s)
			case errors.Is(err, context.Canceled):
				// Deliberate cancellation; the session has already been detached.
			default:
				c.fail(s, err)
			}
			return
		}
		c.appendToken(s, token)
	}

	c.finish(s)
}

// appendToken adds one token to the open assistant message, in arrival order, separated by a
// single space.
func (c *Conversation) appendToken(s *session, token string) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}
	s.gotFirstToken = true

	idx := c.indexLocked(s.messageID)
	c.messages[idx].Text += token + " "
	msg := c.messages[idx]
	c.mu.Unlock()

	c.persist(msg)
	c.notify()
}

// finish freezes the open assistant message and releases the single-flight lock.
func (c *Conversation) finish(s *session) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}
	c.active = nil

	idx := c.indexLocked(s.messageID)
	c.messages[idx].Text = strings.TrimRight(c.messages[idx].Text, " ")
	msg := c.messages[idx]
	c.mu.Unlock()

	c.persist(msg)
	c.notify()
}

// fail replaces the open assistant message with the fixed error marker and releases the
// single-flight lock. The conversation remains usable afterwards.
func (c *Conversation) fail(s *session, err error) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}
	c.active = nil

	c.logger.Error("Streaming failed", slog.String(errLoggerKey, err.Error()))

	idx := c.indexLocked(s.messageID)
	c.messages[idx].Text = errorText
	msg := c.messages[idx]
	c.mu.Unlock()

	c.persist(msg)
	c.notify()
}

// appendLocked stores the message and appends it to the in-memory history, returning the
// identifier it ended up with. A store failure is logged and the in-memory copy kept, so a disk
// problem degrades persistence but never the conversation itself.
func (c *Conversation) appendLocked(msg models.Message) string {
	id, err := c.store.AddMessage(context.Background(), msg)
	if err != nil {
		c.logger.Error("Failed to store message", slog.String(errLoggerKey, err.Error()))
	} else {
		msg.ID = id
	}
	c.messages = append(c.messages, msg)
	return msg.ID
}

func (c *Conversation) seed(greeting string) {
	c.appendLocked(models.Message{
		ID:        uuid.New().String(),
		Origin:    models.OriginAssistant,
		Text:      greeting,
		CreatedAt: time.Now(),
	})
}

func (c *Conversation) indexLocked(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) persist(msg models.Message) {
	if err := c.store.UpdateMessage(context.Background(), msg); err != nil {
		c.logger.Error("Failed to update stored message", slog.String(errLoggerKey, err.Error()))
	}
}

func (c *Conversation) notify() {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
