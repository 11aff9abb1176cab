package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batch-assistant/internal/store"
)

var (
	greetings             = []string{"hello", "hi", "hey", "how are you", "thank you"}
	batchReferencePattern = regexp.MustCompile(`\bit\b|\bthat batch\b`)
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Planner  Planner
	Cache    Cache
	CacheTTL time.Duration
	Greeting string
	Logger   *slog.Logger
}

// Service answers batch-tracking questions.
type Service struct {
	repo     store.Repository
	planner  Planner
	cache    Cache
	cacheTTL time.Duration
	greeting string
	logger   *slog.Logger

	mu        sync.Mutex
	lastBatch string
}

// NewService creates a Service over repo. A nil planner uses RulePlanner,
// a nil cache uses a MemoryCache.
func NewService(repo store.Repository, opts ServiceOptions) *Service {
	if opts.Planner == nil {
		opts.Planner = RulePlanner{}
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		planner:  opts.Planner,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		greeting: opts.Greeting,
		logger:   opts.Logger,
	}
}

// Answer resolves one question. Only a blank question is an error; every
// other outcome is described by the returned Answer.
func (s *Service) Answer(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	if isGreeting(question) {
		return Answer{Kind: AnswerGreeting, Text: s.greeting}, nil
	}

	question = s.withBatchContext(question)
	key := CacheKey(question)
	if cached, ok := s.loadCached(ctx, key); ok {
		return cached, nil
	}

	sql, ok := s.planner.Plan(question)
	if !ok {
		s.logger.Info("Question not resolved", "length", len(question))
		return Answer{Kind: AnswerUnresolved}, nil
	}

	rows, err := s.repo.Query(ctx, sql)
	if err != nil {
		s.logger.Warn("Query execution failed", "error", err)
		return Answer{Kind: AnswerFailed, SQL: sql, Error: err.Error()}, nil
	}

	answer := Answer{Kind: AnswerRows, SQL: sql, Rows: rows}
	s.storeCached(ctx, key, answer)
	return answer, nil
}

// withBatchContext remembers the last batch code mentioned and substitutes it
// for "it" or "that batch" in later questions.
func (s *Service) withBatchContext(question string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code := batchCodePattern.FindString(question); code != "" {
		s.lastBatch = code
		return question
	}
	if s.lastBatch != "" && batchReferencePattern.MatchString(strings.ToLower(question)) {
		return question + " for batch " + s.lastBatch
	}
	return question
}

// LastBatch returns the remembered batch code.
func (s *Service) LastBatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBatch
}

func (s *Service) loadCached(ctx context.Context, key string) (Answer, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Answer cache read failed", "error", err)
		return Answer{}, false
	}
	if !ok {
		return Answer{}, false
	}
	var a Answer
	if err := json.Unmarshal(data, &a); err != nil {
		s.logger.Warn("Discarding malformed cached answer", "error", err)
		return Answer{}, false
	}
	s.logger.Debug("Answer served from cache")
	return a, true
}

func (s *Service) storeCached(ctx context.Context, key string, a Answer) {
	data, err := json.Marshal(a)
	if err != nil {
		s.logger.Warn("Failed to encode answer for cache", "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn("Answer cache write failed", "error", err)
	}
}

// Ping checks the database and the cache.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"database": s.repo.Ping(ctx),
		"cache":    s.cache.Ping(ctx),
	}
}

func isGreeting(question string) bool {
	lower := strings.ToLower(question)
	for _, g := range greetings {
		if lower == g {
			return true
		}
	}
	return false
}
