// Package chat keeps one broker connection per signed-in user and bridges it
// to the event bus.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"marketplace-client/internal/api"
	"marketplace-client/internal/eventbus"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/realtime"
	"marketplace-client/internal/runstatus"
)

const (
	TopicMessageReceived = "messageReceived"
	TopicMessageSent     = "messageSent"
	TopicStatus          = "connectionStatus"

	DefaultReconnectDelay = 5 * time.Second
	DefaultDestination    = "/app/chat"
	DefaultUserQueue      = "/user/%s/queue/messages"
)

var (
	ErrNotConnected = errors.New("chat is not connected")
	ErrEmptyMessage = errors.New("message content is empty")
)

// Broker is the live protocol connection; *realtime.Conn satisfies it.
type Broker interface {
	Subscribe(destination string, handler func(realtime.Message)) error
	Publish(destination string, contentType string, body []byte) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

type DialFunc func(ctx context.Context) (Broker, error)

// UsernameFunc resolves the queue name for the signed-in user, which may
// differ from the identity used to sign in.
type UsernameFunc func(ctx context.Context) (string, error)

type Options struct {
	Dial            DialFunc
	ResolveUsername UsernameFunc
	Bus             *eventbus.Bus
	Logger          *logging.Logger
	Destination     string
	UserQueue       string
	ReconnectDelay  time.Duration
}

type activeClient struct {
	identity string
	cancel   context.CancelFunc
	done     chan struct{}
}

type Messenger struct {
	rootCtx context.Context
	opts    Options

	mu        sync.Mutex
	client    *activeClient
	broker    Broker
	connected bool
}

func New(rootCtx context.Context, opts Options) *Messenger {
	if opts.Logger == nil {
		panic("chat.New: logger must not be nil")
	}
	if opts.Dial == nil || opts.ResolveUsername == nil {
		panic("chat.New: dial and username functions are required")
	}
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	if opts.Destination == "" {
		opts.Destination = DefaultDestination
	}
	if opts.UserQueue == "" {
		opts.UserQueue = DefaultUserQueue
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	opts.Logger = opts.Logger.With(logging.Field("component", "chat"))
	return &Messenger{rootCtx: rootCtx, opts: opts}
}

func (m *Messenger) Bus() *eventbus.Bus {
	return m.opts.Bus
}

// Connect starts the connection loop in the background. It is a no-op while
// a client already exists, whatever identity it was started for.
func (m *Messenger) Connect(identity string) {
	m.mu.Lock()
	if m.client != nil {
		active := m.client.identity
		m.mu.Unlock()
		m.opts.Logger.Debug("chat connect ignored: client already active",
			logging.Field("active_identity", active),
			logging.Field("requested_identity", identity),
		)
		return
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	c := &activeClient{identity: identity, cancel: cancel, done: make(chan struct{})}
	m.client = c
	m.mu.Unlock()

	m.opts.Logger.Info("chat connecting", logging.Field("identity", identity))
	m.publishStatus(runstatus.Connecting)
	go func() {
		defer close(c.done)
		defer cancel()
		m.run(ctx, c)
		m.release(c)
	}()
}

func (m *Messenger) run(ctx context.Context, c *activeClient) {
	// Constant delay between attempts; each attempt holds one broker
	// connection until it drops.
	retry := backoff.NewConstantBackOff(m.opts.ReconnectDelay)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.runSession(ctx, c)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if api.IsUnauthorized(err) {
			m.publishStatus(runstatus.DisconnectedAuth)
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.opts.Logger.Debug("chat reconnecting",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
			m.publishStatus(runstatus.Reconnecting)
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		m.opts.Logger.Warn("chat connection stopped", logging.Field("error", err))
	} else {
		m.opts.Logger.Debug("chat connection loop exited")
	}
}

// runSession holds one broker connection and always returns a non-nil error
// describing why it ended.
func (m *Messenger) runSession(ctx context.Context, c *activeClient) error {
	broker, err := m.opts.Dial(ctx)
	if err != nil {
		m.opts.Logger.Warn("chat handshake failed",
			logging.Field("kind", api.KindOf(err).String()),
			logging.Field("error", err),
		)
		return err
	}
	defer func() {
		m.clearBroker(c, broker)
		if closeErr := broker.Close(); closeErr != nil {
			m.opts.Logger.Debug("chat broker close failed", logging.Field("error", closeErr))
		}
	}()

	username, err := m.opts.ResolveUsername(ctx)
	if err != nil {
		m.opts.Logger.Warn("failed to resolve chat username", logging.Field("error", err))
		return err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("empty chat username")
	}

	if !m.attachBroker(c, broker) {
		return context.Canceled
	}
	queue := fmt.Sprintf(m.opts.UserQueue, username)
	if err := broker.Subscribe(queue, m.deliver); err != nil {
		return err
	}
	m.opts.Logger.Info("chat connected",
		logging.Field("identity", c.identity),
		logging.Field("queue", queue),
	)
	m.publishStatus(runstatus.Connected)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-broker.Done():
		err := broker.Err()
		if err == nil {
			err = realtime.ErrClosed
		}
		m.publishStatus(runstatus.Disconnected)
		return err
	}
}

func (m *Messenger) deliver(msg realtime.Message) {
	m.opts.Logger.Debug("chat message received",
		logging.Field("destination", msg.Destination),
		logging.Field("payload", logging.FormatHTTPPayload(msg.Body)),
	)
	m.opts.Bus.Emit(TopicMessageReceived, msg)
}

func (m *Messenger) attachBroker(c *activeClient, broker Broker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != c {
		return false
	}
	m.broker = broker
	m.connected = true
	return true
}

func (m *Messenger) clearBroker(c *activeClient, broker Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == c && m.broker == broker {
		m.broker = nil
		m.connected = false
	}
}

// release forgets c after its loop gave up so a later Connect can start over.
func (m *Messenger) release(c *activeClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == c {
		m.client = nil
		m.broker = nil
		m.connected = false
	}
}

// Disconnect discards the client and clears the connected flag. The broker
// connection is closed by the background loop as it exits.
func (m *Messenger) Disconnect() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.broker = nil
	m.connected = false
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	m.opts.Logger.Info("chat disconnected", logging.Field("identity", c.identity))
	m.publishStatus(runstatus.Disconnected)
}

// Shutdown disconnects and waits up to timeout for the connection loop to
// release the broker.
func (m *Messenger) Shutdown(timeout time.Duration) bool {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	m.Disconnect()
	if c == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Messenger) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SendMessage publishes one chat message and announces it on the bus.
func (m *Messenger) SendMessage(sender string, recipient string, itemID int64, content string) error {
	m.mu.Lock()
	broker := m.broker
	connected := m.connected
	m.mu.Unlock()

	if !connected || broker == nil {
		m.opts.Logger.Warn("cannot send chat message: not connected")
		return ErrNotConnected
	}
	if strings.TrimSpace(content) == "" {
		m.opts.Logger.Warn("cannot send chat message: empty content")
		return ErrEmptyMessage
	}

	msg := api.ChatMessage{
		SenderID:    sender,
		RecipientID: recipient,
		ItemID:      itemID,
		Content:     content,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := broker.Publish(m.opts.Destination, "application/json", body); err != nil {
		m.opts.Logger.Warn("chat message publish failed", logging.Field("error", err))
		return err
	}
	m.opts.Bus.Emit(TopicMessageSent, msg)
	return nil
}

func (m *Messenger) publishStatus(status string) {
	m.opts.Bus.Emit(TopicStatus, status)
}
