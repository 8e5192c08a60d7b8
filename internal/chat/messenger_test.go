package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-client/internal/api"
	"marketplace-client/internal/eventbus"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/realtime"
	"marketplace-client/internal/runstatus"
)

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

type published struct {
	destination string
	contentType string
	body        []byte
}

type fakeBroker struct {
	mu         sync.Mutex
	subscribed []string
	handlers   map[string]func(realtime.Message)
	published  []published
	publishErr error
	closed     bool
	done       chan struct{}
	doneOnce   sync.Once
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]func(realtime.Message){}, done: make(chan struct{})}
}

func (b *fakeBroker) Subscribe(destination string, handler func(realtime.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, destination)
	b.handlers[destination] = handler
	return nil
}

func (b *fakeBroker) Publish(destination string, contentType string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{destination: destination, contentType: contentType, body: body})
	return nil
}

func (b *fakeBroker) Done() <-chan struct{} { return b.done }

func (b *fakeBroker) Err() error { return realtime.ErrClosed }

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.drop()
	return nil
}

func (b *fakeBroker) drop() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *fakeBroker) deliver(destination string, body string) {
	b.mu.Lock()
	handler := b.handlers[destination]
	b.mu.Unlock()
	handler(realtime.Message{Destination: destination, Body: []byte(body)})
}

func (b *fakeBroker) publishedFrames() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type dialer struct {
	mu      sync.Mutex
	calls   int
	brokers []*fakeBroker
	err     error
}

func (d *dialer) dial(context.Context) (Broker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	b := newFakeBroker()
	d.brokers = append(d.brokers, b)
	return b, nil
}

func (d *dialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *dialer) broker(i int) *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brokers[i]
}

func newTestMessenger(t *testing.T, d *dialer, bus *eventbus.Bus) *Messenger {
	t.Helper()
	m := New(context.Background(), Options{
		Dial:            d.dial,
		ResolveUsername: func(context.Context) (string, error) { return "alice", nil },
		Bus:             bus,
		Logger:          testLogger(),
		ReconnectDelay:  10 * time.Millisecond,
	})
	t.Cleanup(func() { m.Shutdown(2 * time.Second) })
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnect_IsIdempotent(t *testing.T) {
	d := &dialer{}
	m := newTestMessenger(t, d, eventbus.New())

	m.Connect("u@x.com")
	m.Connect("u@x.com")
	m.Connect("other@x.com")
	waitFor(t, "connected", m.IsConnected)
	m.Connect("u@x.com")

	if got := d.count(); got != 1 {
		t.Fatalf("dial calls = %d, want 1", got)
	}
	b := d.broker(0)
	b.mu.Lock()
	subscribed := append([]string(nil), b.subscribed...)
	b.mu.Unlock()
	if len(subscribed) != 1 || subscribed[0] != "/user/alice/queue/messages" {
		t.Fatalf("subscriptions = %v", subscribed)
	}
}

func TestInboundFrameIsPublishedOnBus(t *testing.T) {
	bus := eventbus.New()
	d := &dialer{}
	m := newTestMessenger(t, d, bus)

	received := make(chan realtime.Message, 1)
	eventbus.On(bus, TopicMessageReceived, func(msg realtime.Message) { received <- msg })

	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)
	d.broker(0).deliver("/user/alice/queue/messages", `{"content":"hi"}`)

	select {
	case msg := <-received:
		if string(msg.Body) != `{"content":"hi"}` {
			t.Fatalf("body = %q", msg.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for messageReceived")
	}
	if _, ok := bus.Latest(TopicMessageReceived); !ok {
		t.Fatalf("messageReceived not retained on bus")
	}
}

func TestSendMessage_RefusesWhenNotConnected(t *testing.T) {
	bus := eventbus.New()
	m := newTestMessenger(t, &dialer{}, bus)

	if err := m.SendMessage("a@x.com", "b@x.com", 7, "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, ok := bus.Latest(TopicMessageSent); ok {
		t.Fatalf("messageSent emitted for refused send")
	}
}

func TestSendMessage_RefusesEmptyContent(t *testing.T) {
	bus := eventbus.New()
	d := &dialer{}
	m := newTestMessenger(t, d, bus)
	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)

	for _, content := range []string{"", "   ", "\n\t"} {
		if err := m.SendMessage("a@x.com", "b@x.com", 7, content); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessage(%q) error = %v", content, err)
		}
	}
	if frames := d.broker(0).publishedFrames(); len(frames) != 0 {
		t.Fatalf("published %d frames for empty content", len(frames))
	}
	if _, ok := bus.Latest(TopicMessageSent); ok {
		t.Fatalf("messageSent emitted for empty content")
	}
}

func TestSendMessage_PublishesOneFrameAndEmitsOnce(t *testing.T) {
	bus := eventbus.New()
	d := &dialer{}
	m := newTestMessenger(t, d, bus)

	var sentEvents int
	var mu sync.Mutex
	bus.Subscribe(TopicMessageSent, func([]any) {
		mu.Lock()
		sentEvents++
		mu.Unlock()
	})

	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)

	if err := m.SendMessage("a@x.com", "b@x.com", 7, "is it still available?"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	frames := d.broker(0).publishedFrames()
	if len(frames) != 1 {
		t.Fatalf("published frames = %d, want 1", len(frames))
	}
	if frames[0].destination != "/app/chat" || frames[0].contentType != "application/json" {
		t.Fatalf("frame = %s %s", frames[0].destination, frames[0].contentType)
	}
	var body map[string]any
	if err := json.Unmarshal(frames[0].body, &body); err != nil {
		t.Fatalf("decode frame body: %v", err)
	}
	want := map[string]any{"senderId": "a@x.com", "recipientId": "b@x.com", "itemId": float64(7), "content": "is it still available?"}
	if len(body) != len(want) {
		t.Fatalf("frame body = %v", body)
	}
	for k, v := range want {
		if body[k] != v {
			t.Fatalf("frame body[%s] = %v, want %v", k, body[k], v)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if sentEvents != 1 {
		t.Fatalf("messageSent events = %d, want 1", sentEvents)
	}
}

func TestSendMessage_PublishFailureDoesNotEmit(t *testing.T) {
	bus := eventbus.New()
	d := &dialer{}
	m := newTestMessenger(t, d, bus)
	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)

	b := d.broker(0)
	b.mu.Lock()
	b.publishErr = errors.New("broken pipe")
	b.mu.Unlock()

	if err := m.SendMessage("a@x.com", "b@x.com", 7, "hello"); err == nil {
		t.Fatalf("SendMessage() expected error")
	}
	if _, ok := bus.Latest(TopicMessageSent); ok {
		t.Fatalf("messageSent emitted for failed publish")
	}
}

func TestDisconnect_WhenNeverConnected(t *testing.T) {
	m := newTestMessenger(t, &dialer{}, eventbus.New())
	m.Disconnect()
	if m.IsConnected() {
		t.Fatalf("IsConnected() = true after Disconnect() without Connect()")
	}
}

func TestDisconnect_ClosesBrokerAndAllowsReconnect(t *testing.T) {
	d := &dialer{}
	bus := eventbus.New()
	m := newTestMessenger(t, d, bus)
	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)

	if !m.Shutdown(2 * time.Second) {
		t.Fatalf("Shutdown() timed out")
	}
	if m.IsConnected() {
		t.Fatalf("IsConnected() = true after disconnect")
	}
	if !d.broker(0).isClosed() {
		t.Fatalf("broker not closed after disconnect")
	}
	if args, _ := bus.Latest(TopicStatus); len(args) != 1 || args[0] != runstatus.Disconnected {
		t.Fatalf("status = %v", args)
	}

	m.Connect("u@x.com")
	waitFor(t, "reconnected", m.IsConnected)
	if got := d.count(); got != 2 {
		t.Fatalf("dial calls = %d, want 2", got)
	}
}

func TestConnectionDropReconnectsAfterDelay(t *testing.T) {
	d := &dialer{}
	m := newTestMessenger(t, d, eventbus.New())
	m.Connect("u@x.com")
	waitFor(t, "connected", m.IsConnected)

	d.broker(0).drop()
	waitFor(t, "second dial", func() bool { return d.count() >= 2 })
	waitFor(t, "reconnected", m.IsConnected)
}

func TestHandshakeFailureIsNotSurfaced(t *testing.T) {
	d := &dialer{err: &realtime.ProtocolError{Op: "connect", Err: errors.New("ERROR frame")}}
	m := newTestMessenger(t, d, eventbus.New())

	m.Connect("u@x.com")
	waitFor(t, "retries", func() bool { return d.count() >= 2 })
	if m.IsConnected() {
		t.Fatalf("IsConnected() = true after failed handshakes")
	}
}

func TestUnauthorizedUsernameStopsLoop(t *testing.T) {
	d := &dialer{}
	bus := eventbus.New()
	m := New(context.Background(), Options{
		Dial: d.dial,
		ResolveUsername: func(context.Context) (string, error) {
			return "", &api.Error{Kind: api.KindAuth, Status: 401, Message: "expired"}
		},
		Bus:            bus,
		Logger:         testLogger(),
		ReconnectDelay: 10 * time.Millisecond,
	})
	t.Cleanup(func() { m.Shutdown(2 * time.Second) })

	m.Connect("u@x.com")
	waitFor(t, "auth status", func() bool {
		args, _ := bus.Latest(TopicStatus)
		return len(args) == 1 && args[0] == runstatus.DisconnectedAuth
	})
	time.Sleep(50 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dial calls = %d, want 1", got)
	}
	if !d.broker(0).isClosed() {
		t.Fatalf("broker not closed after auth failure")
	}
}
