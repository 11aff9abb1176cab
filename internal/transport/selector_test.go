package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/batch-assistant/internal/domain"
)

type fakeSocket struct {
	mu       sync.Mutex
	openErrs []error // consumed one per Open; exhausted means success
	opens    int
	open     bool
	writeErr error
	writes   []string
	closes   int
	handle   EventHandler
	// afterOpen runs once, outside the lock, after the next successful Open.
	afterOpen func(f *fakeSocket)
}

func (f *fakeSocket) Open(_ context.Context, handle EventHandler) error {
	f.mu.Lock()
	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.open = true
	f.handle = handle
	hook := f.afterOpen
	f.afterOpen = nil
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeSocket) Write(_ context.Context, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrChannelClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, body)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.open = false
	return nil
}

func (f *fakeSocket) emit(ev Event) {
	f.mu.Lock()
	h := f.handle
	if ev.Kind == EventClosed {
		f.open = false
	}
	f.mu.Unlock()
	h(ev)
}

func (f *fakeSocket) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeCaller struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []string
}

func (f *fakeCaller) Call(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	return f.reply, f.err
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stateChange struct {
	prev, next domain.TransportState
}

type recordingListener struct {
	mu      sync.Mutex
	signals []Event
	changes []stateChange
}

func (l *recordingListener) OnSignal(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, ev)
}

func (l *recordingListener) OnStateChange(prev, next domain.TransportState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, stateChange{prev, next})
}

func (l *recordingListener) stateChanges() []stateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stateChange(nil), l.changes...)
}

func newTestSelector(sock PersistentChannel, caller Caller, reconnect *ReconnectPolicy) (*Selector, *recordingListener) {
	sel := NewSelector(sock, caller, SelectorOptions{Reconnect: reconnect})
	l := &recordingListener{}
	sel.mu.Lock()
	sel.listener = l
	sel.mu.Unlock()
	return sel, l
}

func TestSelectorStartsConnecting(t *testing.T) {
	sel, _ := newTestSelector(&fakeSocket{}, &fakeCaller{}, nil)
	if sel.State() != domain.StateConnecting {
		t.Fatalf("expected connecting, got %v", sel.State())
	}
	if sel.Mode() != domain.ModeFallback {
		t.Fatalf("expected Fallback label while connecting, got %q", sel.Mode())
	}
}

func TestSelectorLiveUsesPersistentChannel(t *testing.T) {
	sock := &fakeSocket{}
	caller := &fakeCaller{reply: "unused"}
	sel, l := newTestSelector(sock, caller, nil)

	if err := sel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if sel.Mode() != domain.ModeLive {
		t.Fatalf("expected Live, got %q", sel.Mode())
	}

	d, err := sel.Send(context.Background(), domain.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if d.Channel != ChannelPersistent || d.Reply != "" {
		t.Fatalf("unexpected dispatch %+v", d)
	}
	if sock.writeCount() != 1 || caller.callCount() != 0 {
		t.Fatalf("expected 1 write and 0 calls, got %d writes %d calls", sock.writeCount(), caller.callCount())
	}

	changes := l.stateChanges()
	if len(changes) != 1 || changes[0].next != domain.StateLive {
		t.Fatalf("unexpected state changes %+v", changes)
	}
}

func TestSelectorHandshakeFailureFallsBack(t *testing.T) {
	sock := &fakeSocket{openErrs: []error{errors.New("connection refused")}}
	caller := &fakeCaller{reply: "from http"}
	sel, _ := newTestSelector(sock, caller, nil)

	if err := sel.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
	if sel.Mode() != domain.ModeFallback {
		t.Fatalf("expected Fallback, got %q", sel.Mode())
	}

	d, err := sel.Send(context.Background(), domain.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if d.Channel != ChannelRequest || d.Reply != "from http" {
		t.Fatalf("unexpected dispatch %+v", d)
	}
	if sock.writeCount() != 0 {
		t.Fatalf("persistent channel must not be written in degraded mode")
	}
}

func TestSelectorDegradedNeverWritesSocket(t *testing.T) {
	sock := &fakeSocket{}
	caller := &fakeCaller{reply: "ok"}
	sel, _ := newTestSelector(sock, caller, nil)
	if err := sel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sock.emit(Event{Kind: EventClosed, Err: errors.New("reset")})

	for i := 0; i < 3; i++ {
		if _, err := sel.Send(context.Background(), domain.NewUserMessage("q")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if sock.writeCount() != 0 {
		t.Fatalf("expected no socket writes, got %d", sock.writeCount())
	}
	if caller.callCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", caller.callCount())
	}
}

func TestSelectorDegradeIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	sel, l := newTestSelector(sock, &fakeCaller{}, nil)
	if err := sel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	handle := sock.handle
	for i := 0; i < 5; i++ {
		handle(Event{Kind: EventClosed, Err: errors.New("closed")})
	}

	changes := l.stateChanges()
	if len(changes) != 2 {
		t.Fatalf("expected live then degraded, got %+v", changes)
	}
	if changes[1] != (stateChange{domain.StateLive, domain.StateDegraded}) {
		t.Fatalf("unexpected transition %+v", changes[1])
	}
	sock.mu.Lock()
	closes := sock.closes
	sock.mu.Unlock()
	if closes != 1 {
		t.Fatalf("expected cleanup once, got %d closes", closes)
	}
}

func TestSelectorDegradedIsTerminalWithoutReconnect(t *testing.T) {
	sock := &fakeSocket{}
	sel, _ := newTestSelector(sock, &fakeCaller{}, nil)
	sel.degrade(errors.New("boom"))

	// A late handshake completion must not revive the channel.
	sel.markLive()
	if sel.State() != domain.StateDegraded {
		t.Fatalf("expected degraded to be terminal, got %v", sel.State())
	}
}

func TestSelectorRejectedWriteFallsBack(t *testing.T) {
	sock := &fakeSocket{writeErr: errors.New("broken pipe")}
	caller := &fakeCaller{reply: "via http"}
	sel, _ := newTestSelector(sock, caller, nil)
	if err := sel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	d, err := sel.Send(context.Background(), domain.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if d.Channel != ChannelRequest || d.Reply != "via http" {
		t.Fatalf("unexpected dispatch %+v", d)
	}
	if sel.State() != domain.StateDegraded {
		t.Fatalf("expected degraded after rejected write, got %v", sel.State())
	}
}

func TestSelectorForwardsSignals(t *testing.T) {
	sock := &fakeSocket{}
	sel, l := newTestSelector(sock, &fakeCaller{}, nil)
	if err := sel.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sock.emit(Event{Kind: EventTyping})
	sock.emit(Event{Kind: EventReply, Body: "done"})

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.signals) != 2 || l.signals[1].Body != "done" {
		t.Fatalf("unexpected signals %+v", l.signals)
	}
}

func TestSelectorCallFailureSurfaces(t *testing.T) {
	caller := &fakeCaller{err: &CallError{Status: 500}}
	sel, _ := newTestSelector(nil, caller, nil)
	if err := sel.Connect(context.Background()); err == nil {
		t.Fatal("expected error without a persistent channel")
	}

	_, err := sel.Send(context.Background(), domain.NewUserMessage("hi"))
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected *CallError, got %v", err)
	}
}

func TestSelectorReconnectReturnsToLive(t *testing.T) {
	sock := &fakeSocket{}
	policy := &ReconnectPolicy{InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond}
	sel, l := newTestSelector(sock, &fakeCaller{}, policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sel.mu.Lock()
	sel.ctx = ctx
	sel.mu.Unlock()

	if err := sel.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sock.mu.Lock()
	sock.openErrs = []error{errors.New("refused"), errors.New("refused")}
	sock.mu.Unlock()
	sock.emit(Event{Kind: EventClosed, Err: errors.New("reset")})

	deadline := time.Now().Add(2 * time.Second)
	for sel.State() != domain.StateLive {
		if time.Now().After(deadline) {
			t.Fatalf("selector did not reconnect, state %v", sel.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	sock.mu.Lock()
	opens := sock.opens
	sock.mu.Unlock()
	if opens != 4 {
		t.Errorf("expected 1 initial + 3 reconnect opens, got %d", opens)
	}

	changes := l.stateChanges()
	last := changes[len(changes)-1]
	if last != (stateChange{domain.StateDegraded, domain.StateLive}) {
		t.Errorf("expected degraded -> live, got %+v", last)
	}
}

func TestSelectorReconnectRetriesWhenChannelDropsBeforeLive(t *testing.T) {
	sock := &fakeSocket{}
	policy := &ReconnectPolicy{InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond}
	sel, l := newTestSelector(sock, &fakeCaller{}, policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sel.mu.Lock()
	sel.ctx = ctx
	sel.mu.Unlock()

	if err := sel.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// The first reconnect handshake succeeds and the server hangs up at once.
	sock.mu.Lock()
	sock.afterOpen = func(f *fakeSocket) {
		f.emit(Event{Kind: EventClosed, Err: errors.New("reset after handshake")})
	}
	sock.mu.Unlock()
	sock.emit(Event{Kind: EventClosed, Err: errors.New("reset")})

	deadline := time.Now().Add(2 * time.Second)
	for sel.State() != domain.StateLive {
		if time.Now().After(deadline) {
			t.Fatalf("selector did not reconnect, state %v", sel.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	sock.mu.Lock()
	opens, open := sock.opens, sock.open
	sock.mu.Unlock()
	if !open {
		t.Fatal("selector is live on a closed persistent channel")
	}
	if opens != 3 {
		t.Errorf("expected 1 initial + 2 reconnect opens, got %d", opens)
	}

	want := []stateChange{
		{domain.StateConnecting, domain.StateLive},
		{domain.StateLive, domain.StateDegraded},
		{domain.StateDegraded, domain.StateLive},
	}
	got := l.stateChanges()
	if len(got) != len(want) {
		t.Fatalf("expected %d state changes, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	sel.mu.RLock()
	supervising := sel.supervising
	sel.mu.RUnlock()
	if supervising {
		t.Error("supervisor still marked running after going live")
	}
}

func TestSelectorCloseAfterReconnectDegradesAgain(t *testing.T) {
	sock := &fakeSocket{}
	policy := &ReconnectPolicy{InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond}
	sel, _ := newTestSelector(sock, &fakeCaller{}, policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sel.mu.Lock()
	sel.ctx = ctx
	sel.mu.Unlock()

	waitFor := func(want domain.TransportState) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for sel.State() != want {
			if time.Now().After(deadline) {
				t.Fatalf("expected %v, got %v", want, sel.State())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := sel.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sock.emit(Event{Kind: EventClosed, Err: errors.New("reset")})
	waitFor(domain.StateLive)

	// Once live again, a close starts a fresh supervisor.
	sock.emit(Event{Kind: EventClosed, Err: errors.New("reset again")})
	waitFor(domain.StateLive)

	sock.mu.Lock()
	opens := sock.opens
	sock.mu.Unlock()
	if opens != 3 {
		t.Errorf("expected 3 opens, got %d", opens)
	}
}
