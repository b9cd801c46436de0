package broker

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrShutdown - matches every ShutdownError with errors.Is.
	// Broker is under stop condition and will not accept any new connections or messages.
	ErrShutdown = errors.New("broker.Broker: shut down")

	// ErrAlreadyServing - returned when Start/Serve is called for a broker which is serving already.
	ErrAlreadyServing = errors.New("broker.Broker: already serving")

	// ErrConnKept - returned in case if connection is kept already.
	// Do not close such connection after this error, otherwise Broker will drop it.
	ErrConnKept = errors.New("broker.Broker: connection is kept already")

	// ErrEmptyName - reason of ProtocolError when the join line holds no display name.
	ErrEmptyName = errors.New("empty display name")
)

// BindError - listener setup failure, fatal for the broker startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("broker: unable to listen %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ProtocolError - malformed join handshake, closes only the related connection.
type ProtocolError struct {
	Remote string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("broker: protocol error from %s: %v", e.Remote, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError - read/write failure on an established connection.
// The related participant is removed, other connections are not affected.
type TransportError struct {
	Participant string
	Op          string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker: %s %s: %v", e.Op, e.Participant, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout - reports whether the failure is caused by an expired deadline.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ShutdownError - operation attempted after Stop.
type ShutdownError struct {
	Op string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%v: %s rejected", ErrShutdown, e.Op)
}

// Is - makes errors.Is(err, ErrShutdown) work.
func (e *ShutdownError) Is(target error) bool {
	return target == ErrShutdown
}
