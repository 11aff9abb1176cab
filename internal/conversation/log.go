// Package conversation holds the ordered conversation log and the controller
// that is its only writer.
package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/batch-assistant/internal/domain"
)

// ErrDuplicateID is returned when appending a message whose ID is already logged.
var ErrDuplicateID = errors.New("message id already in log")

// Log is an append-only ordered sequence of messages.
// Insertion order is conversation order.
type Log struct {
	mu      sync.RWMutex
	entries []domain.Message
	ids     map[string]struct{}
}

// NewLog creates a log seeded with the given messages.
func NewLog(seed ...domain.Message) *Log {
	l := &Log{ids: make(map[string]struct{}, len(seed))}
	for _, m := range seed {
		_ = l.Append(m)
	}
	return l
}

// Append adds m to the end of the log.
func (l *Log) Append(m domain.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.ids[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}
	l.ids[m.ID] = struct{}{}
	l.entries = append(l.entries, m)
	return nil
}

// Len returns the number of logged messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Messages returns a copy of the log in order.
func (l *Log) Messages() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent message, if any.
func (l *Log) Last() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return domain.Message{}, false
	}
	return l.entries[len(l.entries)-1], true
}
