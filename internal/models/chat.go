package models

import "time"

// Message represents an individual entry within the conversation. It carries a unique identifier,
// the origin of the message, the accumulated text content, and the precise time when the message
// was created. The ID and CreatedAt fields are stable for the message's lifetime; only the text
// of an assistant message still receiving tokens is mutated.
type Message struct {
	ID        string
	Origin    Origin
	Text      string
	CreatedAt time.Time
}

// Origin represents which side of the conversation produced a message.
type Origin string

const (
	// OriginUser marks a message submitted by the user. Its text is fixed at creation.
	OriginUser Origin = "user"
	// OriginAssistant marks a message produced by the assistant. Its text starts empty and grows
	// token by token until the stream completes.
	OriginAssistant Origin = "assistant"
)
