package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/batch-assistant/internal/domain"
)

var (
	errNoPersistentChannel   = errors.New("no persistent channel configured")
	errClosedDuringReconnect = errors.New("persistent channel closed during reconnect")
)

// Channel names the physical transport that carried a message.
type Channel string

const (
	// ChannelPersistent is the WebSocket.
	ChannelPersistent Channel = "persistent"
	// ChannelRequest is the HTTP request/response call.
	ChannelRequest Channel = "request"
)

// Dispatch is the outcome of handing a message to the selector.
// Reply is set only when Channel is ChannelRequest; persistent-channel
// replies arrive later through Listener.OnSignal.
type Dispatch struct {
	Channel Channel
	Reply   string
}

// Listener receives what the selector observes. Calls may arrive on any goroutine.
type Listener interface {
	OnSignal(ev Event)
	OnStateChange(prev, next domain.TransportState)
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	Logger *slog.Logger
	// Reconnect, when set, makes Degraded re-enterable by retrying the handshake.
	Reconnect *ReconnectPolicy
}

// Selector owns the transport state and routes each message to a channel.
type Selector struct {
	socket     PersistentChannel
	caller     Caller
	logger     *slog.Logger
	supervisor *Supervisor

	mu          sync.RWMutex
	state       domain.TransportState
	listener    Listener
	ctx         context.Context
	supervising bool
	// drops counts closes reported while already Degraded.
	drops uint64
}

// NewSelector creates a selector in the Connecting state. socket may be nil,
// in which case the selector degrades on Start.
func NewSelector(socket PersistentChannel, caller Caller, opts SelectorOptions) *Selector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		socket: socket,
		caller: caller,
		logger: logger,
		state:  domain.StateConnecting,
		ctx:    context.Background(),
	}
	if opts.Reconnect != nil {
		s.supervisor = NewSupervisor(*opts.Reconnect, logger)
	}
	return s
}

// Start registers the listener and begins the handshake in the background.
func (s *Selector) Start(ctx context.Context, l Listener) {
	s.mu.Lock()
	s.listener = l
	s.ctx = ctx
	s.mu.Unlock()

	go func() {
		if err := s.Connect(ctx); err != nil {
			s.logger.Info("Persistent channel unavailable, using request/response", "error", err)
		}
	}()
}

// Connect performs the first handshake synchronously.
// A failure moves the selector to Degraded.
func (s *Selector) Connect(ctx context.Context) error {
	if s.socket == nil {
		s.degrade(errNoPersistentChannel)
		return errNoPersistentChannel
	}
	if err := s.socket.Open(ctx, s.handleEvent); err != nil {
		s.degrade(err)
		return fmt.Errorf("handshake failed: %w", err)
	}
	s.markLive()
	return nil
}

// State returns the current transport state.
func (s *Selector) State() domain.TransportState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Mode returns the user-facing connection label.
func (s *Selector) Mode() domain.Mode {
	return s.State().Mode()
}

// Send routes msg. Over the persistent channel it returns as soon as the
// write is accepted. Otherwise it blocks on the request/response call and
// returns its reply or failure.
func (s *Selector) Send(ctx context.Context, msg domain.Message) (Dispatch, error) {
	if s.State() == domain.StateLive {
		err := s.socket.Write(ctx, msg.Body)
		if err == nil {
			s.logger.Debug("Message dispatched", "channel", ChannelPersistent, "message_id", msg.ID)
			return Dispatch{Channel: ChannelPersistent}, nil
		}
		s.logger.Warn("Persistent channel rejected write, falling back", "message_id", msg.ID, "error", err)
		s.degrade(err)
	}

	if s.caller == nil {
		return Dispatch{Channel: ChannelRequest}, &CallError{Err: errors.New("no request/response channel configured")}
	}

	s.logger.Debug("Message dispatched", "channel", ChannelRequest, "message_id", msg.ID)
	reply, err := s.caller.Call(ctx, msg.Body)
	if err != nil {
		return Dispatch{Channel: ChannelRequest}, err
	}
	return Dispatch{Channel: ChannelRequest, Reply: reply}, nil
}

// Close releases the persistent channel.
func (s *Selector) Close() error {
	if s.socket == nil {
		return nil
	}
	return s.socket.Close()
}

func (s *Selector) handleEvent(ev Event) {
	if ev.Kind == EventClosed {
		s.degrade(ev.Err)
		return
	}
	if l := s.currentListener(); l != nil {
		l.OnSignal(ev)
	}
}

func (s *Selector) currentListener() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// degrade moves to Degraded. Repeated calls while already Degraded are no-ops.
func (s *Selector) degrade(cause error) {
	s.mu.Lock()
	if s.state == domain.StateDegraded {
		s.drops++
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = domain.StateDegraded
	supervise := s.supervisor != nil && s.socket != nil && !s.supervising
	if supervise {
		s.supervising = true
	}
	ctx := s.ctx
	l := s.listener
	s.mu.Unlock()

	if s.socket != nil {
		if err := s.socket.Close(); err != nil {
			s.logger.Debug("Failed to close persistent channel while degrading", "error", err)
		}
	}

	s.logger.Warn("Transport degraded", "prev", prev.String(), "state", domain.StateDegraded.String(), "error", cause)
	if l != nil {
		l.OnStateChange(prev, domain.StateDegraded)
	}

	if supervise {
		go s.supervise(ctx)
	}
}

// markLive moves Connecting to Live. A handshake that completes after the
// channel already failed is discarded.
func (s *Selector) markLive() {
	s.mu.Lock()
	prev := s.state
	if prev != domain.StateConnecting {
		s.mu.Unlock()
		if prev == domain.StateDegraded && s.socket != nil {
			_ = s.socket.Close()
		}
		return
	}
	s.state = domain.StateLive
	l := s.listener
	s.mu.Unlock()

	s.notifyLive(l, prev)
}

// promote moves Degraded to Live after a reconnect handshake, unless the
// channel reported a close since drops was sampled.
func (s *Selector) promote(drops uint64) bool {
	s.mu.Lock()
	if s.state != domain.StateDegraded || s.drops != drops {
		s.mu.Unlock()
		return false
	}
	s.state = domain.StateLive
	s.supervising = false
	l := s.listener
	s.mu.Unlock()

	s.notifyLive(l, domain.StateDegraded)
	return true
}

func (s *Selector) notifyLive(l Listener, prev domain.TransportState) {
	s.logger.Info("Transport live", "prev", prev.String(), "state", domain.StateLive.String())
	if l != nil {
		l.OnStateChange(prev, domain.StateLive)
	}
}

func (s *Selector) supervise(ctx context.Context) {
	err := s.supervisor.Run(ctx, func(ctx context.Context) error {
		s.mu.RLock()
		drops := s.drops
		s.mu.RUnlock()

		if err := s.socket.Open(ctx, s.handleEvent); err != nil {
			return err
		}
		if !s.promote(drops) {
			_ = s.socket.Close()
			return errClosedDuringReconnect
		}
		return nil
	})
	if err == nil {
		return
	}

	s.mu.Lock()
	s.supervising = false
	s.mu.Unlock()
	s.logger.Warn("Reconnect abandoned, staying in fallback", "error", err)
}
