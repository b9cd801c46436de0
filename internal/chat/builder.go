package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wtask/linechat/internal/chat/broker"
	"github.com/wtask/linechat/internal/chat/history"
)

// BrokerConfig - tunables of the broker built by DefaultBroker.
// Zero durations and sizes keep broker defaults.
type BrokerConfig struct {
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	StopTimeout      time.Duration
	OutboxSize       int
	MaxLineSize      int
	// HistorySize - number of relayed lines kept in memory, zero disables history.
	HistorySize int
	// Greets - number of history lines pushed to newly joined participant.
	Greets      int
	JoinNotices bool
	PartNotices bool
}

// DefaultBrokerConfig - config used by linechat server unless overwritten.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		StopTimeout:      5 * time.Second,
		OutboxSize:       64,
		PartNotices:      true,
	}
}

// BrokerBuilder - helps to build custom broker.Broker with required dependencies.
type BrokerBuilder func(observer broker.Observer, log *slog.Logger) (*broker.Broker, error)

// DefaultBroker - returns builder which attaches observer and logger to broker configured by c.
func DefaultBroker(c BrokerConfig) BrokerBuilder {
	return func(observer broker.Observer, log *slog.Logger) (*broker.Broker, error) {
		if observer == nil {
			return nil, errors.New("chat.DefaultBroker: broker.Observer is required")
		}
		options := []broker.Option{
			broker.WithObserver(observer),
			broker.WithPartNotices(c.PartNotices),
			broker.WithJoinNotices(c.JoinNotices),
			broker.WithIdleTimeout(c.IdleTimeout),
			broker.WithMaxLineSize(c.MaxLineSize),
		}
		if log != nil {
			options = append(options, broker.WithLogger(log))
		}
		if c.WriteTimeout != 0 {
			options = append(options, broker.WithWriteTimeout(c.WriteTimeout))
		}
		if c.HandshakeTimeout != 0 {
			options = append(options, broker.WithHandshakeTimeout(c.HandshakeTimeout))
		}
		if c.StopTimeout != 0 {
			options = append(options, broker.WithStopTimeout(c.StopTimeout))
		}
		if c.OutboxSize != 0 {
			options = append(options, broker.WithOutboxSize(c.OutboxSize))
		}
		if c.HistorySize > 0 {
			stack, err := history.NewStack(c.HistorySize)
			if err != nil {
				return nil, fmt.Errorf("chat.DefaultBroker: %w", err)
			}
			options = append(options, broker.WithHistory(stack, c.Greets))
		}
		return broker.New(options...)
	}
}
