package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/batch-assistant/internal/domain"
	"github.com/ashureev/batch-assistant/internal/eventlog"
	"github.com/ashureev/batch-assistant/internal/transport"
)

var (
	// ErrEmptyMessage is returned by Submit for blank text. Nothing is changed.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnInFlight is returned by Submit while the previous turn is unanswered.
	ErrTurnInFlight = errors.New("previous message has not been answered yet")
)

const lostTurnReason = "connection lost before the assistant replied"

// Sender routes a message to the assistant.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) (transport.Dispatch, error)
	Mode() domain.Mode
}

// Options configures a Controller.
type Options struct {
	SessionID string
	// Greeting seeds the log with one assistant message when non-empty.
	Greeting string
	// ReplyTimeout bounds the wait for a persistent-channel reply. 0 waits forever.
	ReplyTimeout time.Duration
	EventLog     eventlog.Logger
	Logger       *slog.Logger
}

// Snapshot is a read-only view of the conversation.
type Snapshot struct {
	Messages []domain.Message
	Typing   bool
	Mode     domain.Mode
}

// pendingTurn correlates the outstanding user message with its eventual reply.
type pendingTurn struct {
	msg     domain.Message
	channel transport.Channel // empty while the dispatch is in progress
	lost    bool              // the persistent channel failed during dispatch
	timer   *time.Timer
}

// Controller is the only writer of the conversation log and the typing flag.
// It implements transport.Listener.
type Controller struct {
	sender       Sender
	sessionID    string
	replyTimeout time.Duration
	events       eventlog.Logger
	logger       *slog.Logger

	mu      sync.Mutex
	log     *Log
	typing  bool
	pending *pendingTurn

	watchMu     sync.Mutex
	watchers    map[int]chan struct{}
	nextWatcher int
}

// NewController creates a controller that delegates delivery to sender.
func NewController(sender Sender, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventLog == nil {
		opts.EventLog = eventlog.Noop{}
	}

	var seed []domain.Message
	if opts.Greeting != "" {
		seed = append(seed, domain.NewAssistantMessage(opts.Greeting))
	}

	return &Controller{
		sender:       sender,
		sessionID:    opts.SessionID,
		replyTimeout: opts.ReplyTimeout,
		events:       opts.EventLog,
		logger:       opts.Logger,
		log:          NewLog(seed...),
		watchers:     make(map[int]chan struct{}),
	}
}

// Submit appends text as a user message and delivers it. Transport failures
// never surface here; they end up as assistant error messages in the log.
// Over the request/response channel Submit returns once the turn is resolved;
// over the persistent channel it returns once the message is written.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	msg := domain.NewUserMessage(text)
	c.appendLocked(msg)
	turn := &pendingTurn{msg: msg}
	c.pending = turn
	c.typing = true
	c.mu.Unlock()
	c.notify()

	d, err := c.sender.Send(ctx, msg)
	c.record(eventlog.Event{
		Channel:    string(d.Channel),
		Direction:  "outbound",
		EventType:  "chat_user_message",
		MessageID:  msg.ID,
		ContentRaw: msg.Body,
	})

	switch {
	case err != nil:
		c.logger.Warn("Request/response turn failed", "message_id", msg.ID, "error", err)
		c.resolve(turn, transport.ErrorMarker+failureReason(err), d.Channel, "chat_error")
	case d.Channel == transport.ChannelPersistent:
		c.awaitSignal(turn)
	default:
		c.resolve(turn, d.Reply, d.Channel, "chat_assistant_message")
	}
	return nil
}

// awaitSignal marks turn as riding the persistent channel and arms the reply timeout.
func (c *Controller) awaitSignal(turn *pendingTurn) {
	c.mu.Lock()
	if c.pending != turn {
		// The reply beat the dispatch back.
		c.mu.Unlock()
		return
	}
	turn.channel = transport.ChannelPersistent
	if turn.lost {
		c.mu.Unlock()
		c.resolve(turn, transport.ErrorMarker+lostTurnReason, transport.ChannelPersistent, "chat_error")
		return
	}
	if c.replyTimeout > 0 {
		timeout := c.replyTimeout
		turn.timer = time.AfterFunc(timeout, func() {
			c.logger.Warn("No reply on persistent channel", "message_id", turn.msg.ID, "timeout", timeout)
			reason := fmt.Sprintf("no reply from the assistant within %s", timeout)
			c.resolve(turn, transport.ErrorMarker+reason, transport.ChannelPersistent, "chat_error")
		})
	}
	c.mu.Unlock()
}

// resolve appends the single assistant entry for turn and clears the typing flag.
// It returns false when turn was already resolved.
func (c *Controller) resolve(turn *pendingTurn, body string, channel transport.Channel, eventType string) bool {
	c.mu.Lock()
	if c.pending != turn {
		c.mu.Unlock()
		return false
	}
	if turn.timer != nil {
		turn.timer.Stop()
	}
	c.pending = nil
	c.typing = false
	reply := domain.NewAssistantMessage(body)
	c.appendLocked(reply)
	c.mu.Unlock()

	c.notify()
	c.record(eventlog.Event{
		Channel:    string(channel),
		Direction:  "inbound",
		EventType:  eventType,
		MessageID:  reply.ID,
		ContentRaw: reply.Body,
		Meta:       map[string]any{"reply_to": turn.msg.ID},
	})
	return true
}

// OnSignal handles typing and reply events from the persistent channel.
func (c *Controller) OnSignal(ev transport.Event) {
	c.mu.Lock()
	turn := c.pending
	acceptable := turn != nil && turn.channel != transport.ChannelRequest
	c.mu.Unlock()

	switch ev.Kind {
	case transport.EventTyping:
		if !acceptable {
			c.logger.Debug("Typing signal with no pending turn ignored")
			return
		}
		c.record(eventlog.Event{
			Channel:   string(transport.ChannelPersistent),
			Direction: "inbound",
			EventType: "chat_typing",
			Meta:      map[string]any{"reply_to": turn.msg.ID},
		})
	case transport.EventReply:
		if !acceptable {
			c.logger.Warn("Reply with no pending turn dropped", "length", len(ev.Body))
			return
		}
		c.resolve(turn, ev.Body, transport.ChannelPersistent, "chat_assistant_message")
	}
}

// OnStateChange reacts to transport transitions. A turn still waiting on the
// persistent channel when it degrades is resolved with an error entry.
func (c *Controller) OnStateChange(prev, next domain.TransportState) {
	c.record(eventlog.Event{
		Channel:   string(transport.ChannelPersistent),
		Direction: "internal",
		EventType: "transport_state",
		Meta:      map[string]any{"prev": prev.String(), "state": next.String()},
	})

	if next == domain.StateDegraded {
		c.mu.Lock()
		turn := c.pending
		var lostNow bool
		if turn != nil {
			switch turn.channel {
			case transport.ChannelPersistent:
				lostNow = true
			case "":
				turn.lost = true
			}
		}
		c.mu.Unlock()

		if lostNow {
			c.logger.Warn("Turn lost with persistent channel", "message_id", turn.msg.ID)
			c.resolve(turn, transport.ErrorMarker+lostTurnReason, transport.ChannelPersistent, "chat_error")
		}
	}
	c.notify()
}

// Snapshot returns the current conversation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	messages := c.log.Messages()
	typing := c.typing
	c.mu.Unlock()
	return Snapshot{
		Messages: messages,
		Typing:   typing,
		Mode:     c.sender.Mode(),
	}
}

// Messages returns the conversation in order.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Messages()
}

// Typing reports whether a reply is outstanding.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Mode returns the transport label.
func (c *Controller) Mode() domain.Mode {
	return c.sender.Mode()
}

// Watch returns a channel signalled after every change. Signals coalesce;
// call Snapshot to read the new state. cancel stops the notifications.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.watchMu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	cancel := func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) notify() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) appendLocked(m domain.Message) {
	if err := c.log.Append(m); err != nil {
		c.logger.Error("Failed to append message", "message_id", m.ID, "error", err)
	}
}

func (c *Controller) record(ev eventlog.Event) {
	ev.SessionID = c.sessionID
	c.events.Log(ev)
}

func failureReason(err error) string {
	var callErr *transport.CallError
	if errors.As(err, &callErr) {
		return callErr.Reason()
	}
	return err.Error()
}

var _ transport.Listener = (*Controller)(nil)
