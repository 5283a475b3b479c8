package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HandleQuery accepts the user's next query through an HTTP POST form submission. The "message"
// form field carries the query. A submission while the assistant is still answering is silently
// ignored; the conversation accepts one query at a time. Updates reach the browser through the
// SSE stream, so the response body is empty either way.
func (m Main) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if !m.conversation.SubmitQuery(msg) {
		m.logger.Debug("Query ignored, a session is already in flight")
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleClear discards the conversation history, cancelling any in-flight session.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.conversation.Clear()

	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth reports liveness. It has no effect on conversation state.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
