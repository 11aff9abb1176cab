package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy configures handshake retries after the persistent channel fails.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 retries until ctx ends
}

// Supervisor retries a handshake with exponential backoff.
type Supervisor struct {
	policy ReconnectPolicy
	logger *slog.Logger
}

// NewSupervisor creates a reconnect supervisor.
func NewSupervisor(policy ReconnectPolicy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = time.Second
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	return &Supervisor{policy: policy, logger: logger}
}

func (s *Supervisor) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	b.MaxElapsedTime = s.policy.MaxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Run calls attempt until it succeeds, the policy gives up, or ctx ends.
func (s *Supervisor) Run(ctx context.Context, attempt func(context.Context) error) error {
	n := 0
	op := func() error {
		n++
		return attempt(ctx)
	}
	notify := func(err error, delay time.Duration) {
		s.logger.Info("Reconnect attempt failed", "attempt", n, "delay", delay, "error", err)
	}
	if err := backoff.RetryNotify(op, s.backOff(ctx), notify); err != nil {
		return err
	}
	s.logger.Info("Reconnect succeeded", "attempt", n)
	return nil
}
