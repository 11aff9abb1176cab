package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/batch-assistant/internal/conversation"
	"github.com/ashureev/batch-assistant/internal/domain"
)

// renderer prints conversation changes as they appear. It is not safe for
// concurrent use.
type renderer struct {
	w       io.Writer
	printed int
	mode    domain.Mode
	typing  bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

// render writes everything in snap that has not been shown yet.
func (r *renderer) render(snap conversation.Snapshot) {
	if snap.Mode != r.mode {
		fmt.Fprintf(r.w, "[%s]\n", snap.Mode)
		r.mode = snap.Mode
	}

	for _, m := range snap.Messages[min(r.printed, len(snap.Messages)):] {
		if m.IsUser() {
			continue
		}
		fmt.Fprintf(r.w, "assistant> %s\n", indentContinuation(m.Body))
	}
	r.printed = len(snap.Messages)

	if snap.Typing && !r.typing {
		fmt.Fprintln(r.w, "assistant is typing...")
	}
	r.typing = snap.Typing
}

// indentContinuation aligns multi-line bodies under the prompt.
func indentContinuation(body string) string {
	return strings.ReplaceAll(body, "\n", "\n           ")
}
