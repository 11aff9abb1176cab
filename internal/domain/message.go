// Package domain contains core domain types for the batch assistant chat client.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies who authored a message.
type Origin string

const (
	// OriginUser marks a message typed by the person at the keyboard.
	OriginUser Origin = "user"
	// OriginAssistant marks a reply, or an error entry written on the assistant's behalf.
	OriginAssistant Origin = "assistant"
)

// Message is one immutable entry in a conversation.
// ID is the stable key of the entry; CreatedAt is for display only,
// conversation order is append order.
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh unique ID.
func NewMessage(origin Origin, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		Origin:    origin,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(body string) Message {
	return NewMessage(OriginUser, body)
}

// NewAssistantMessage creates an assistant-authored message.
func NewAssistantMessage(body string) Message {
	return NewMessage(OriginAssistant, body)
}

// IsUser returns true if the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Origin == OriginUser
}
