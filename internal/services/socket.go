package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nelwhix/ragchat-web-ui/internal/stream"
)

// Socket maintains one persistent bidirectional session with the backend. The socket is dialed
// on first use and reused across queries; the query goes out as a raw text message, and every
// inbound text message is a token for the most recent outstanding query. There is no terminator
// frame on this path: a closing socket is the only completion signal. Queries are not
// multiplexed; the conversation's single-flight guard ensures one outstanding query at a time.
type Socket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	// OnConnect and OnDisconnect, when set, observe the persistent session lifecycle. They are
	// invoked from the socket's own goroutines and must not block.
	OnConnect    func()
	OnDisconnect func()

	mu      sync.Mutex
	conn    *websocket.Conn
	inbound chan socketFrame
}

type socketFrame struct {
	text string
	err  error
}

// NewSocket creates a Socket strategy for the backend at baseURL. The http(s) scheme is
// rewritten to ws(s) and the chat socket path appended.
func NewSocket(baseURL string, logger *slog.Logger) *Socket {
	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &Socket{
		url:    wsURL + "/api/ws/chat",
		dialer: websocket.DefaultDialer,
		logger: logger.With(slog.String("module", "socket")),
	}
}

// Tokens sends one query over the persistent socket and yields inbound messages as tokens. The
// iterator ends with stream.ErrUnterminated when the socket closes (the only completion signal
// on this path), with a transport error on write or abnormal read failure, and silently when the
// context is cancelled.
func (s *Socket) Tokens(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		conn, inbound, err := s.ensureConnected(ctx)
		if err != nil {
			yield("", err)
			return
		}

		// Frames left over from a superseded query belong to nobody; drop them before the new
		// query goes out.
	drain:
		for {
			select {
			case fr, ok := <-inbound:
				if !ok || fr.err != nil {
					yield("", fmt.Errorf("connection error: socket closed"))
					return
				}
			default:
				break drain
			}
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(query)); err != nil {
			s.detach(conn)
			yield("", fmt.Errorf("connection error: %w", err))
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case fr, ok := <-inbound:
				if !ok {
					yield("", stream.ErrUnterminated)
					return
				}
				if fr.err != nil {
					if isSocketClosed(fr.err) {
						yield("", stream.ErrUnterminated)
						return
					}
					yield("", fmt.Errorf("connection error: %w", fr.err))
					return
				}
				if !yield(fr.text, nil) {
					return
				}
			}
		}
	}
}

// Close tears the persistent socket down. The next query dials a fresh one.
func (s *Socket) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.inbound = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Socket) ensureConnected(ctx context.Context) (*websocket.Conn, chan socketFrame, error) {
	s.mu.Lock()
	if s.conn != nil {
		conn, inbound := s.conn, s.inbound
		s.mu.Unlock()
		return conn, inbound, nil
	}
	s.mu.Unlock()

	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, nil, fmt.Errorf("connection error: %w", err)
	}

	inbound := make(chan socketFrame, 16)

	s.mu.Lock()
	s.conn = conn
	s.inbound = inbound
	s.mu.Unlock()

	s.logger.Debug("Socket connected", slog.String("url", s.url))
	if s.OnConnect != nil {
		s.OnConnect()
	}

	go s.readPump(conn, inbound)

	return conn, inbound, nil
}

// readPump is the socket's single reader. It forwards inbound frames until the connection dies,
// then reports the failure and closes the channel.
func (s *Socket) readPump(conn *websocket.Conn, inbound chan socketFrame) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.detach(conn)
			inbound <- socketFrame{err: err}
			close(inbound)
			s.logger.Debug("Socket disconnected", slog.String(errLoggerKey, err.Error()))
			if s.OnDisconnect != nil {
				s.OnDisconnect()
			}
			return
		}
		inbound <- socketFrame{text: string(data)}
	}
}

func (s *Socket) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.inbound = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// isSocketClosed reports whether the read failure is an orderly shutdown rather than a
// transport fault.
func isSocketClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
