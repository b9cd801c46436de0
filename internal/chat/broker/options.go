package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Option - functional option of Broker.
type Option func(b *Broker) error

// History - keeps latest relayed lines to greet newly joined participants.
type History interface {
	// Push - push new line into history
	Push(string)
	// Tail - get a number of latest lines from history in chronological order
	Tail(n int) []string
}

// WithLogger - overwrites default (silent) logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) error {
		if log == nil {
			return errors.New("broker.WithLogger: logger is nil")
		}
		b.log = log
		return nil
	}
}

// WithObserver - attaches observer to be notified of join, part, relay and reject events.
func WithObserver(o Observer) Option {
	return func(b *Broker) error {
		if o == nil {
			return errors.New("broker.WithObserver: observer is nil")
		}
		b.observer = o
		return nil
	}
}

// WithWriteTimeout - overwrites default bound of a single write to participant.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout <= 0 {
			return fmt.Errorf("broker.WithWriteTimeout: invalid timeout (%v)", timeout)
		}
		b.writeTimeout = timeout
		return nil
	}
}

// WithIdleTimeout - disconnects participant which has sent nothing during timeout.
// Zero disables idle disconnection.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout < 0 {
			return fmt.Errorf("broker.WithIdleTimeout: invalid timeout (%v)", timeout)
		}
		b.idleTimeout = timeout
		return nil
	}
}

// WithHandshakeTimeout - limits waiting for the join line. Zero disables the limit.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout < 0 {
			return fmt.Errorf("broker.WithHandshakeTimeout: invalid timeout (%v)", timeout)
		}
		b.handshakeTimeout = timeout
		return nil
	}
}

// WithStopTimeout - limits waiting of handling units on Stop.
func WithStopTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout <= 0 {
			return fmt.Errorf("broker.WithStopTimeout: invalid timeout (%v)", timeout)
		}
		b.stopTimeout = timeout
		return nil
	}
}

// WithOutboxSize - overwrites the number of lines queued for a single participant.
func WithOutboxSize(size int) Option {
	return func(b *Broker) error {
		if size <= 0 {
			return fmt.Errorf("broker.WithOutboxSize: invalid size (%d)", size)
		}
		b.outboxSize = size
		return nil
	}
}

// WithMaxLineSize - imposes limit of incoming line in bytes, connection sending longer line is dropped.
// Zero means no limit.
func WithMaxLineSize(size int) Option {
	return func(b *Broker) error {
		if size < 0 {
			return fmt.Errorf("broker.WithMaxLineSize: invalid size (%d)", size)
		}
		b.maxLineSize = size
		return nil
	}
}

// WithHistory - attaches history of relayed lines, the last greets lines are pushed to newly joined participant.
func WithHistory(h History, greets int) Option {
	return func(b *Broker) error {
		if h == nil {
			return errors.New("broker.WithHistory: history is nil")
		}
		if greets < 0 {
			return fmt.Errorf("broker.WithHistory: invalid greets value (%d)", greets)
		}
		b.history = h
		b.greets = greets
		return nil
	}
}

// WithPartNotices - switches notices about parted participants.
func WithPartNotices(enabled bool) Option {
	return func(b *Broker) error {
		b.partNotices = enabled
		return nil
	}
}

// WithJoinNotices - switches notices about joined participants.
func WithJoinNotices(enabled bool) Option {
	return func(b *Broker) error {
		b.joinNotices = enabled
		return nil
	}
}
