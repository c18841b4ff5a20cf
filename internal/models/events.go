package models

import "time"

// TypingSignal is ephemeral presence state. It lives only in the broadcaster
// and is never written to durable storage.
type TypingSignal struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Event types emitted over conversation subscriptions.
const (
	EventMessage = "message"
	EventStatus  = "status"
	EventTyping  = "typing"
)

// TypingEvent tells subscribers that a participant started or stopped typing.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Event is broadcast through websocket subscriptions.
type Event struct {
	Type    string       `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Typing  *TypingEvent `json:"typing,omitempty"`
}
