// Package transport carries chat messages to the assistant over a persistent
// WebSocket when available, and over plain HTTP requests otherwise.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// TypingSignal is the reserved payload meaning a reply is being prepared.
const TypingSignal = "typing..."

const (
	defaultHandshakeTimeout = 5 * time.Second
	socketWriteTimeout      = 5 * time.Second
	socketReadLimit         = 1 << 20 // 1MB
)

// ErrChannelClosed is returned when writing to a persistent channel that is not open.
var ErrChannelClosed = errors.New("persistent channel is not open")

// EventKind distinguishes inbound persistent-channel events.
type EventKind int

const (
	// EventTyping is the typing signal.
	EventTyping EventKind = iota
	// EventReply carries literal reply text.
	EventReply
	// EventClosed reports an error or unsolicited close of the channel.
	EventClosed
)

// Event is one inbound notification from the persistent channel.
type Event struct {
	Kind EventKind
	Body string
	Err  error
}

// EventHandler receives persistent-channel events on the channel's read goroutine.
type EventHandler func(Event)

// PersistentChannel is a long-lived full-duplex connection to the assistant.
type PersistentChannel interface {
	// Open performs the handshake and starts delivering events to handle.
	// EventClosed is delivered at most once per opened connection.
	Open(ctx context.Context, handle EventHandler) error
	// Write sends one raw text message. It returns ErrChannelClosed when not open.
	Write(ctx context.Context, body string) error
	// Close shuts the current connection without emitting EventClosed.
	Close() error
}

// SocketConfig holds configuration for the WebSocket channel.
type SocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
}

// Socket is the WebSocket implementation of PersistentChannel.
type Socket struct {
	url              string
	handshakeTimeout time.Duration
	logger           *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSocket creates a WebSocket channel. Nothing is dialed until Open.
func NewSocket(cfg SocketConfig, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Socket{
		url:              cfg.URL,
		handshakeTimeout: cfg.HandshakeTimeout,
		logger:           logger,
	}
}

// Open dials the endpoint. ctx bounds the lifetime of the read loop; the
// handshake itself is bounded by the configured timeout.
func (s *Socket) Open(ctx context.Context, handle EventHandler) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	conn.SetReadLimit(socketReadLimit)

	s.mu.Lock()
	previous := s.conn
	s.conn = conn
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Close(websocket.StatusNormalClosure, "replaced")
	}

	s.logger.Info("Persistent channel open", "endpoint", s.url)
	go s.readLoop(ctx, conn, handle)
	return nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, handle EventHandler) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if !s.detach(conn) || ctx.Err() != nil {
				// Closed on purpose, or the session is ending.
				return
			}
			if websocket.CloseStatus(err) != -1 {
				s.logger.Info("Persistent channel closed by server", "endpoint", s.url, "status", websocket.CloseStatus(err))
			} else {
				s.logger.Warn("Persistent channel read error", "endpoint", s.url, "error", err)
			}
			handle(Event{Kind: EventClosed, Err: err})
			return
		}

		if typ != websocket.MessageText {
			s.logger.Debug("Binary frame on persistent channel treated as text", "len", len(data))
		}

		body := string(data)
		if body == TypingSignal {
			handle(Event{Kind: EventTyping})
			continue
		}
		handle(Event{Kind: EventReply, Body: body})
	}
}

// detach clears conn if it is still current and reports whether it was.
func (s *Socket) detach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}

// Write sends body as a single text frame.
func (s *Socket) Write(ctx context.Context, body string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrChannelClosed
	}

	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, []byte(body)); err != nil {
		return fmt.Errorf("write to persistent channel: %w", err)
	}
	return nil
}

// IsOpen reports whether a connection is currently held.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close closes the current connection, if any.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		s.logger.Debug("Failed to close persistent channel", "error", err)
		return err
	}
	return nil
}

var _ PersistentChannel = (*Socket)(nil)
