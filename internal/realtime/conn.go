// Package realtime speaks STOMP to the marketplace message broker over a
// WebSocket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"

	"marketplace-client/internal/api"
	"marketplace-client/internal/logging"
)

type Conn struct {
	stomp  *stomp.Conn
	ws     *websocket.Conn
	cancel context.CancelFunc
	logger *logging.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

// Dial opens the WebSocket and completes the STOMP CONNECT handshake.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		return nil, errors.New("realtime.Dial: logger must not be nil")
	}
	target, err := url.Parse(strings.TrimSpace(cfg.BrokerURL))
	if err != nil || target.Host == "" {
		return nil, &api.Error{Kind: api.KindValidation, Message: "invalid broker URL", Err: err}
	}
	host := cfg.Host
	if host == "" {
		host = target.Hostname()
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancelDial()

	logger.Debug("dialing message broker", logging.Field("url", target.String()))
	ws, resp, err := websocket.Dial(dialCtx, target.String(), &websocket.DialOptions{
		HTTPClient:   cfg.HTTPClient,
		HTTPHeader:   cfg.HTTPHeader,
		Subprotocols: subprotocols,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &api.Error{Kind: api.KindTransport, Status: status, Message: "broker websocket dial failed", Err: err}
	}
	ws.SetReadLimit(maxFrameBytes)

	lifetime, cancel := context.WithCancel(context.Background())
	netConn := websocket.NetConn(lifetime, ws, websocket.MessageText)

	type connectResult struct {
		conn *stomp.Conn
		err  error
	}
	results := make(chan connectResult, 1)
	go func() {
		conn, err := stomp.Connect(netConn,
			stomp.ConnOpt.Login(cfg.Login, cfg.Passcode),
			stomp.ConnOpt.Host(host),
			stomp.ConnOpt.HeartBeat(cfg.HeartbeatSend, cfg.HeartbeatReceive),
		)
		results <- connectResult{conn: conn, err: err}
	}()

	var result connectResult
	select {
	case result = <-results:
	case <-dialCtx.Done():
		cancel()
		_ = netConn.Close()
		return nil, &api.Error{Kind: api.KindTransport, Message: "broker handshake timed out", Err: dialCtx.Err()}
	}
	if result.err != nil {
		cancel()
		_ = netConn.Close()
		var stompErr *stomp.Error
		if errors.As(result.err, &stompErr) {
			return nil, &ProtocolError{Op: "connect", Err: result.err}
		}
		return nil, &api.Error{Kind: api.KindTransport, Message: "broker handshake failed", Err: result.err}
	}

	logger.Debug("message broker connected",
		logging.Field("url", target.String()),
		logging.Field("protocol", ws.Subprotocol()),
	)
	return &Conn{
		stomp:  result.conn,
		ws:     ws,
		cancel: cancel,
		logger: logger.With(logging.Field("component", "broker")),
		done:   make(chan struct{}),
	}, nil
}

// Subscribe delivers every message on destination to handler from a
// dedicated goroutine. A failed subscription closes Done.
func (c *Conn) Subscribe(destination string, handler func(Message)) error {
	if c.isDone() {
		return ErrClosed
	}
	sub, err := c.stomp.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", destination, err)
	}
	c.logger.Debug("subscribed", logging.Field("destination", destination))

	c.wg.Go(func() {
		for {
			select {
			case <-c.done:
				return
			case msg, ok := <-sub.C:
				if !ok {
					c.fail(ErrClosed)
					return
				}
				if msg.Err != nil {
					c.fail(&ProtocolError{Op: "receive", Err: msg.Err})
					return
				}
				handler(toMessage(msg))
			}
		}
	})
	return nil
}

func (c *Conn) Publish(destination string, contentType string, body []byte) error {
	if c.isDone() {
		return ErrClosed
	}
	if err := c.stomp.Send(destination, contentType, body); err != nil {
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

// Done is closed once the connection is lost or closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why Done closed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends DISCONNECT and waits briefly for the receipt before tearing
// down the socket.
func (c *Conn) Close() error {
	alreadyDone := c.isDone()
	c.fail(ErrClosed)
	if alreadyDone {
		c.teardown()
		return nil
	}
	disconnected := make(chan error, 1)
	go func() { disconnected <- c.stomp.Disconnect() }()

	var err error
	select {
	case err = <-disconnected:
	case <-time.After(defaultDisconnectWait):
		c.logger.Debug("broker did not acknowledge disconnect; forcing close")
		err = c.stomp.MustDisconnect()
	}
	c.teardown()
	return err
}

func (c *Conn) teardown() {
	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	c.wg.Wait()
}

func (c *Conn) fail(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		if !errors.Is(err, ErrClosed) {
			c.logger.Warn("broker connection lost", logging.Field("error", err))
		}
		close(c.done)
	})
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func toMessage(msg *stomp.Message) Message {
	out := Message{
		Destination: msg.Destination,
		ContentType: msg.ContentType,
		Body:        msg.Body,
	}
	if msg.Header != nil {
		out.Header = make(map[string]string, msg.Header.Len())
		for i := range msg.Header.Len() {
			key, value := msg.Header.GetAt(i)
			out.Header[key] = value
		}
	}
	return out
}
