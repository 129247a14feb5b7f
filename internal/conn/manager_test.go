// ABOUTME: Tests for the connection manager state machine.
// ABOUTME: Validates reconnect policy, intentional close, heartbeat, and frame dispatch.

package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/promptyourai/termchat/internal/channel"
	"github.com/promptyourai/termchat/internal/protocol"
)

// fakeChannel is a controllable single-use channel.
type fakeChannel struct {
	mu         sync.Mutex
	events     chan channel.Event
	connectErr error
	sent       [][]byte
	closed     bool
}

func newFakeChannel(connectErr error) *fakeChannel {
	return &fakeChannel{
		events:     make(chan channel.Event, 16),
		connectErr: connectErr,
	}
}

func (f *fakeChannel) Connect(_ context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.events <- channel.Event{Kind: channel.EventOpen}
	return nil
}

func (f *fakeChannel) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return channel.ErrNotOpen
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeChannel) Events() <-chan channel.Event {
	return f.events
}

func (f *fakeChannel) Close(intentional bool) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.events <- channel.Event{Kind: channel.EventClosed, Intentional: intentional}
	close(f.events)
	return nil
}

// remoteClose simulates the transport dying underneath us.
func (f *fakeChannel) remoteClose(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.events <- channel.Event{Kind: channel.EventError, Err: err}
	f.events <- channel.Event{Kind: channel.EventClosed, Err: err}
	close(f.events)
}

func (f *fakeChannel) deliver(frame []byte) {
	f.events <- channel.Event{Kind: channel.EventMessage, Frame: frame}
}

func (f *fakeChannel) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// dialRecorder produces fake channels and remembers every dial.
type dialRecorder struct {
	mu          sync.Mutex
	channels    []*fakeChannel
	connectErrs []error // error for the nth dial, nil beyond the list
}

func (d *dialRecorder) dialer() channel.Dialer {
	return func() channel.Channel {
		d.mu.Lock()
		defer d.mu.Unlock()
		var err error
		if len(d.channels) < len(d.connectErrs) {
			err = d.connectErrs[len(d.channels)]
		}
		ch := newFakeChannel(err)
		d.channels = append(d.channels, ch)
		return ch
	}
}

func (d *dialRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *dialRecorder) get(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func fastConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour, // disabled unless a test wants it
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnects:     2,
		ConnectTimeout:    time.Second,
	}
}

func TestConnectTransitionsToOpen(t *testing.T) {
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("expected state open, got %s", got)
	}
	if !m.Usable() {
		t.Error("open manager should be usable")
	}
}

func TestConnectFailure(t *testing.T) {
	rec := &dialRecorder{connectErrs: []error{errors.New("refused")}}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("expected state closed after failed connect, got %s", got)
	}
}

func TestSendRequiresOpenState(t *testing.T) {
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	if err := m.Send([]byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send([]byte(`{"type":"ping"}`)); err != nil {
		t.Errorf("send on open channel failed: %v", err)
	}
	if frames := rec.get(0).sentFrames(); len(frames) != 1 {
		t.Errorf("expected 1 sent frame, got %d", len(frames))
	}
}

func TestInboundFramesReachHandler(t *testing.T) {
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	var mu sync.Mutex
	var frames []string
	m.OnFrame(func(frame []byte) {
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.get(0).deliver([]byte(`{"type":"pong"}`))

	waitFor(t, "frame dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	})
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.Disconnect()

	waitFor(t, "closed state", func() bool { return m.State() == StateClosed })

	// Give any (incorrect) reconnect timer a chance to fire
	time.Sleep(30 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("manual disconnect must not redial, got %d dials", got)
	}
}

func TestAutomaticReconnectAfterDrop(t *testing.T) {
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.get(0).remoteClose(errors.New("connection reset"))

	waitFor(t, "reconnect", func() bool {
		return rec.count() == 2 && m.State() == StateOpen
	})
}

func TestReconnectCapIsTerminal(t *testing.T) {
	// First dial succeeds, every reconnect attempt fails
	rec := &dialRecorder{connectErrs: []error{nil, errors.New("down"), errors.New("down"), errors.New("down")}}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	var mu sync.Mutex
	var terminalErr error
	m.OnStateChange(func(_ State, err error) {
		if err != nil {
			mu.Lock()
			terminalErr = err
			mu.Unlock()
		}
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.get(0).remoteClose(errors.New("connection reset"))

	waitFor(t, "terminal error", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(terminalErr, ErrMaxReconnectExceeded)
	})

	// 1 initial + MaxReconnects attempts, then nothing further
	dials := rec.count()
	if dials != 3 {
		t.Errorf("expected 3 dials (1 connect + 2 reconnects), got %d", dials)
	}
	time.Sleep(30 * time.Millisecond)
	if got := rec.count(); got != dials {
		t.Errorf("no dials may happen after the cap, got %d more", got-dials)
	}
	if m.State() != StateClosed {
		t.Errorf("expected closed state after cap, got %s", m.State())
	}
}

func TestManualConnectResetsBudget(t *testing.T) {
	rec := &dialRecorder{connectErrs: []error{nil, errors.New("down"), errors.New("down"), errors.New("down")}}
	m := NewManager(rec.dialer(), fastConfig(), nil)

	var mu sync.Mutex
	var terminalErr error
	m.OnStateChange(func(_ State, err error) {
		if err != nil {
			mu.Lock()
			terminalErr = err
			mu.Unlock()
		}
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.get(0).remoteClose(errors.New("connection reset"))
	waitFor(t, "terminal error", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(terminalErr, ErrMaxReconnectExceeded)
	})

	// A fresh manual connect starts over and succeeds
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("manual reconnect failed: %v", err)
	}
	if m.State() != StateOpen {
		t.Errorf("expected open after manual reconnect, got %s", m.State())
	}
}

func TestHeartbeatSendsPingsWhileOpen(t *testing.T) {
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	rec := &dialRecorder{}
	m := NewManager(rec.dialer(), cfg, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, "heartbeat frames", func() bool {
		for _, frame := range rec.get(0).sentFrames() {
			env, err := protocol.DecodeEnvelope(frame)
			if err == nil && env.Type == protocol.TypePing {
				return true
			}
		}
		return false
	})

	m.Disconnect()
}
