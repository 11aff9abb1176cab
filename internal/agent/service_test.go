package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/batch-assistant/internal/store"
)

func newTestService(t *testing.T, opts ServiceOptions) *Service {
	t.Helper()
	repo, err := store.NewSQLite(store.MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return NewService(repo, opts)
}

// countingRepo wraps a repository and counts queries.
type countingRepo struct {
	store.Repository
	mu      sync.Mutex
	queries []string
}

func (c *countingRepo) Query(ctx context.Context, q string) ([]store.Row, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	return c.Repository.Query(ctx, q)
}

func (c *countingRepo) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

func TestServiceGreeting(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	for _, q := range []string{"hello", "Hi", "  thank you  "} {
		a, err := s.Answer(context.Background(), q)
		if err != nil {
			t.Fatalf("Answer(%q) failed: %v", q, err)
		}
		if a.Kind != AnswerGreeting || a.Text != DefaultGreeting {
			t.Fatalf("Answer(%q) = %+v, want greeting", q, a)
		}
	}
}

func TestServiceBlankQuestion(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	if _, err := s.Answer(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestServiceBatchLocation(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	a, err := s.Answer(context.Background(), "Where is batch VDT-052025-A now?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if a.Kind != AnswerRows || len(a.Rows) != 1 {
		t.Fatalf("expected one row, got %+v", a)
	}
	if got := a.Rows[0].String(); got != "batch_code: VDT-052025-A, department: Delivery, status: Dispatched" {
		t.Fatalf("unexpected row %q", got)
	}
}

func TestServiceRemembersBatchContext(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	ctx := context.Background()

	if _, err := s.Answer(ctx, "Show the history of PRG-052025-B"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if s.LastBatch() != "PRG-052025-B" {
		t.Fatalf("expected batch to be remembered, got %q", s.LastBatch())
	}

	a, err := s.Answer(ctx, "who handled it?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if a.Kind != AnswerRows || len(a.Rows) != 3 {
		t.Fatalf("expected three handlers for PRG-052025-B, got %+v", a)
	}
	if v, _ := a.Rows[2].Get("employee"); v != "Riya" {
		t.Fatalf("expected Riya to have stored the batch, got %v", v)
	}
}

func TestServiceUnresolved(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	a, err := s.Answer(context.Background(), "what's the weather like?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if a.Kind != AnswerUnresolved {
		t.Fatalf("expected unresolved, got %+v", a)
	}
}

func TestServiceExecutionFailure(t *testing.T) {
	broken := PlannerFunc(func(string) (string, bool) { return "SELECT missing FROM nowhere", true })
	s := newTestService(t, ServiceOptions{Planner: broken})

	a, err := s.Answer(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if a.Kind != AnswerFailed || a.SQL != "SELECT missing FROM nowhere" || a.Error == "" {
		t.Fatalf("expected failure with query, got %+v", a)
	}
}

func TestServiceCachesResults(t *testing.T) {
	base, err := store.NewSQLite(store.MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = base.Close() }()
	repo := &countingRepo{Repository: base}
	s := NewService(repo, ServiceOptions{CacheTTL: time.Minute})
	ctx := context.Background()

	first, err := s.Answer(ctx, "list all products")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	second, err := s.Answer(ctx, "list all products")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if repo.count() != 1 {
		t.Fatalf("expected one database query, got %d", repo.count())
	}
	if SocketText(first) != SocketText(second) {
		t.Fatalf("cached answer differs:\n%s\n%s", SocketText(first), SocketText(second))
	}
	if !strings.Contains(SocketText(second), "name: Cough Syrup, code: CSY") {
		t.Fatalf("unexpected cached answer %q", SocketText(second))
	}
}

func TestServicePing(t *testing.T) {
	s := newTestService(t, ServiceOptions{})
	for name, err := range s.Ping(context.Background()) {
		if err != nil {
			t.Errorf("%s unhealthy: %v", name, err)
		}
	}
}
