package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"strings"
	"time"

	ragchatwebui "github.com/nelwhix/ragchat-web-ui"
	"github.com/nelwhix/ragchat-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Conversation is the chat core the handlers render and drive. It accepts queries, exposes the
// current history, and reports whether the assistant is still working on its first token.
type Conversation interface {
	SubmitQuery(text string) bool
	Clear()
	Messages() []models.Message
	Waiting() bool
	OnUpdate(fn func())
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and the conversation they render.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	conversation Conversation

	logger *slog.Logger
}

const conversationSSETopic = "conversation"

var messagesSSEType = sse.Type("messages")

const errLoggerKey = "err"

// NewMain creates a new Main instance around the provided Conversation. It parses the HTML
// templates from the embedded filesystem and configures the SSE server so every client follows
// the conversation topic. The conversation's update hook is wired to broadcast a re-rendered
// chatbox to all connected clients.
func NewMain(conversation Conversation, logger *slog.Logger) (Main, error) {
	tmpl := template.New("").Funcs(template.FuncMap{
		"renderText": func(text string) (template.HTML, error) {
			html, err := models.RenderText(text)
			return template.HTML(html), err
		},
		"formatTime": func(t time.Time) string {
			return t.Format("15:04")
		},
	})
	tmpl, err := tmpl.ParseFS(
		ragchatwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, conversationSSETopic},
				}, true
			},
		},
		templates:    tmpl,
		conversation: conversation,
		logger:       logger.With(slog.String("module", "handlers")),
	}

	conversation.OnUpdate(m.publishChatbox)

	return m, nil
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message
// to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// A close event still needs data to comply with the SSE spec
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// publishChatbox renders the whole chatbox partial and broadcasts it on the conversation topic.
func (m Main) publishChatbox() {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chatbox", m.chatboxData()); err != nil {
		m.logger.Error("Failed to render chatbox", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: messagesSSEType}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, conversationSSETopic); err != nil {
		m.logger.Error("Failed to publish chatbox", slog.String(errLoggerKey, err.Error()))
	}
}

type message struct {
	ID        string
	Origin    string
	Text      string
	CreatedAt time.Time
}

type chatboxData struct {
	Messages []message
	Waiting  bool
}

func (m Main) chatboxData() chatboxData {
	history := m.conversation.Messages()
	msgs := make([]message, len(history))
	for i, msg := range history {
		msgs[i] = message{
			ID:        msg.ID,
			Origin:    string(msg.Origin),
			Text:      strings.TrimSpace(msg.Text),
			CreatedAt: msg.CreatedAt,
		}
	}
	return chatboxData{
		Messages: msgs,
		Waiting:  m.conversation.Waiting(),
	}
}
