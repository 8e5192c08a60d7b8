package realtime

import (
	"errors"

	"marketplace-client/internal/api"
)

var ErrClosed = errors.New("broker connection closed")

// ProtocolError reports a broker that answered with something other than
// valid STOMP, or an ERROR frame.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e == nil || e.Err == nil {
		return "stomp protocol error"
	}
	return "stomp " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProtocolError) ErrorKind() api.Kind {
	return api.KindProtocol
}
