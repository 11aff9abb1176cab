// Package agent implements the stub batch-tracking assistant that the chat
// client talks to over HTTP and WebSocket.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/batch-assistant/internal/store"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("query is required")

// AnswerKind categorizes assistant answers.
type AnswerKind string

const (
	// AnswerGreeting is a canned reply to small talk.
	AnswerGreeting AnswerKind = "greeting"
	// AnswerRows carries the result of a resolved question, possibly empty.
	AnswerRows AnswerKind = "rows"
	// AnswerUnresolved means no query could be built for the question.
	AnswerUnresolved AnswerKind = "unresolved"
	// AnswerFailed means the query was built but execution failed.
	AnswerFailed AnswerKind = "failed"
)

// Answer is the outcome of one question.
type Answer struct {
	Kind  AnswerKind  `json:"kind"`
	Text  string      `json:"text,omitempty"`
	SQL   string      `json:"sql,omitempty"`
	Rows  []store.Row `json:"rows,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ChatRequest is the body of POST /chat. Both field names are accepted.
type ChatRequest struct {
	Query   string `json:"query"`
	Message string `json:"message"`
}

// Text returns the question, preferring query.
func (r ChatRequest) Text() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Message
}

// DefaultGreeting answers small talk.
const DefaultGreeting = "👋 Hi! I'm your Batch Control Assistant. How can I help you today?"

// Config holds stub assistant behaviour.
type Config struct {
	Greeting string
	// TypingDelay is the pause between the typing signal and the reply on the socket.
	TypingDelay        time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
}
