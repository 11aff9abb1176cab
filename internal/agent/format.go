package agent

import (
	"strings"

	"github.com/ashureev/batch-assistant/internal/store"
)

// Socket reply texts.
const (
	noResultsText     = "📭 No results found for your query."
	resultsHeader     = "📦 Here are the results:"
	unresolvedText    = "🤖 Sorry, I couldn't understand your question."
	executionFailText = "❌ SQL execution failed:\n"
)

// unresolvedDetail is the error field returned over HTTP for unresolved questions.
const unresolvedDetail = "could not understand the question; try asking about batches, employees, or products"

// chatPayload is the JSON reply of POST /chat for resolved questions.
type chatPayload struct {
	Result []store.Row `json:"result"`
	Query  string      `json:"query,omitempty"`
}

// errorPayload is the JSON reply of POST /chat for failures.
type errorPayload struct {
	Error string `json:"error"`
	Query string `json:"query,omitempty"`
}

// Payload returns the HTTP reply body for a.
func Payload(a Answer) any {
	switch a.Kind {
	case AnswerGreeting:
		return a.Text
	case AnswerUnresolved:
		return errorPayload{Error: unresolvedDetail}
	case AnswerFailed:
		return errorPayload{Error: a.Error, Query: a.SQL}
	default:
		rows := a.Rows
		if rows == nil {
			rows = []store.Row{}
		}
		return chatPayload{Result: rows, Query: a.SQL}
	}
}

// SocketText returns the WebSocket reply for a.
func SocketText(a Answer) string {
	switch a.Kind {
	case AnswerGreeting:
		return a.Text
	case AnswerUnresolved:
		return unresolvedText
	case AnswerFailed:
		return executionFailText + a.Error
	}

	switch len(a.Rows) {
	case 0:
		return noResultsText
	case 1:
		return a.Rows[0].String()
	default:
		lines := make([]string, 0, len(a.Rows)+1)
		lines = append(lines, resultsHeader)
		for _, row := range a.Rows {
			lines = append(lines, "• "+row.String())
		}
		return strings.Join(lines, "\n")
	}
}
