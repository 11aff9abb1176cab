package conversation

import (
	"errors"
	"testing"

	"github.com/ashureev/batch-assistant/internal/domain"
)

func TestLogAppendKeepsOrder(t *testing.T) {
	l := NewLog()
	first := domain.NewUserMessage("one")
	second := domain.NewAssistantMessage("two")

	if err := l.Append(first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs := l.Messages()
	if len(msgs) != 2 || msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Fatalf("unexpected order %+v", msgs)
	}
	last, ok := l.Last()
	if !ok || last.ID != second.ID {
		t.Fatalf("unexpected last %+v", last)
	}
}

func TestLogRejectsDuplicateID(t *testing.T) {
	l := NewLog()
	m := domain.NewUserMessage("one")
	if err := l.Append(m); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(m); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}
}

func TestLogMessagesIsACopy(t *testing.T) {
	l := NewLog(domain.NewAssistantMessage("hello"))
	msgs := l.Messages()
	msgs[0].Body = "mutated"

	if got := l.Messages()[0].Body; got != "hello" {
		t.Fatalf("log was mutated through a copy: %q", got)
	}
}

func TestLogEmptyLast(t *testing.T) {
	if _, ok := NewLog().Last(); ok {
		t.Fatal("expected no last message on an empty log")
	}
}
