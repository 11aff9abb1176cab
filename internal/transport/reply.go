package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Fixed strings used when rendering replies.
const (
	// FallbackText is shown when the assistant returned nothing usable.
	FallbackText = "🤖 Sorry, I didn't understand that."
	// WarningMarker prefixes errors reported by the assistant itself.
	WarningMarker = "⚠️ Error: "
	// ErrorMarker prefixes transport failures written into the conversation.
	ErrorMarker = "❌ Error: "
)

// Reply is a decoded request/response payload. Exactly one of the concrete
// types below is produced per response.
type Reply interface {
	isReply()
}

// ResultReply carries a non-empty result collection.
type ResultReply struct {
	Rows []json.RawMessage
}

// QueryReply carries the query the assistant generated for the question.
type QueryReply struct {
	Query string
}

// ErrorReply carries an error reported in the payload.
type ErrorReply struct {
	Message string
}

// TextReply is a plain reply string.
type TextReply struct {
	Text string
}

// AckReply is a well-formed payload with none of the recognized fields.
type AckReply struct{}

// EmptyReply is an absent, empty or undecodable payload.
type EmptyReply struct{}

func (ResultReply) isReply() {}
func (QueryReply) isReply()  {}
func (ErrorReply) isReply()  {}
func (TextReply) isReply()   {}
func (AckReply) isReply()    {}
func (EmptyReply) isReply()  {}

// DecodeReply turns a response body into a Reply. The precedence of the
// recognized fields is fixed here: result, then query, then error. Each field
// is decoded on its own, so a mistyped field is skipped rather than hiding
// the next one.
func DecodeReply(contentType string, body []byte) Reply {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return EmptyReply{}
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/plain" {
		return TextReply{Text: string(trimmed)}
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil || strings.TrimSpace(text) == "" {
			return EmptyReply{}
		}
		return TextReply{Text: text}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return EmptyReply{}
		}
		var rows []json.RawMessage
		if decodeField(fields, "result", &rows) && len(rows) > 0 {
			return ResultReply{Rows: rows}
		}
		var query string
		if decodeField(fields, "query", &query) && query != "" {
			return QueryReply{Query: query}
		}
		var message string
		if decodeField(fields, "error", &message) && message != "" {
			return ErrorReply{Message: message}
		}
		return AckReply{}
	default:
		return EmptyReply{}
	}
}

// decodeField unmarshals fields[name] into v and reports whether it fit.
func decodeField(fields map[string]json.RawMessage, name string, v any) bool {
	raw, ok := fields[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Render produces the single display string for a reply to userText.
func Render(userText string, r Reply) string {
	switch v := r.(type) {
	case ResultReply:
		return renderRow(v.Rows[0])
	case QueryReply:
		return fmt.Sprintf("You said: \"%s\". Here's the SQL:\n%s", userText, v.Query)
	case ErrorReply:
		return WarningMarker + v.Message
	case TextReply:
		return v.Text
	case AckReply:
		return fmt.Sprintf("You said: \"%s\". The assistant returned no answer for it.", userText)
	default:
		return FallbackText
	}
}

// renderRow formats one result element as indented JSON. Bare strings are
// shown without quotes.
func renderRow(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}
