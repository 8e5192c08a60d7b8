package realtime

import (
	"net/http"
	"time"

	"marketplace-client/internal/logging"
)

const (
	// DefaultLogin and DefaultPasscode are the broker's anonymous credentials.
	DefaultLogin     = "guest"
	DefaultPasscode  = "guest"
	DefaultHeartbeat = 4 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultDisconnectWait   = 3 * time.Second
	maxFrameBytes           = 1 << 20
)

var subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type Config struct {
	BrokerURL string
	Login     string
	Passcode  string
	// Host is the STOMP virtual host; defaults to the broker URL host.
	Host             string
	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration
	HandshakeTimeout time.Duration
	HTTPHeader       http.Header
	HTTPClient       *http.Client
	Logger           *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.Login == "" {
		c.Login = DefaultLogin
	}
	if c.Passcode == "" {
		c.Passcode = DefaultPasscode
	}
	if c.HeartbeatSend == 0 {
		c.HeartbeatSend = DefaultHeartbeat
	}
	if c.HeartbeatReceive == 0 {
		c.HeartbeatReceive = DefaultHeartbeat
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return c
}

// Message is one MESSAGE frame received on a subscription.
type Message struct {
	Destination string
	ContentType string
	Header      map[string]string
	Body        []byte
}
