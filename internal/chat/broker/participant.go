package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State - lifecycle state of participant connection.
// Transitions are Connecting -> Named -> Active -> Closed, there is no way back from Closed.
type State int32

const (
	// StateConnecting - connection is accepted, join line is awaited.
	StateConnecting State = iota
	// StateNamed - valid join line has been received.
	StateNamed
	// StateActive - participant is registered and relays messages.
	StateActive
	// StateClosed - transport is closed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNamed:
		return "named"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Participant - connected chat client, owned by Broker for its connected lifetime.
type Participant struct {
	id       uuid.UUID
	name     string
	conn     net.Conn
	remote   string
	joinedAt time.Time
	outbox   chan string

	// ctx is done when participant is closed, it releases pending deliveries and outbox writer
	ctx       context.Context
	cancel    context.CancelFunc
	state     atomic.Int32
	closeOnce sync.Once
}

func newParticipant(conn net.Conn, outboxSize int) *Participant {
	ctx, cancel := context.WithCancel(context.Background())
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Participant{
		id:     uuid.New(),
		conn:   conn,
		remote: remote,
		outbox: make(chan string, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID - generated participant identity, display names are not unique.
func (p *Participant) ID() uuid.UUID { return p.id }

// Name - display name from join line, empty until the participant is named.
func (p *Participant) Name() string { return p.name }

// State - returns current lifecycle state.
func (p *Participant) State() State { return State(p.state.Load()) }

func (p *Participant) String() string {
	if p.name == "" {
		return fmt.Sprintf("%s (%s)", p.remote, p.id)
	}
	return fmt.Sprintf("%s (%s)", p.name, p.id)
}

// Info - returns public snapshot of participant.
func (p *Participant) Info() ParticipantInfo {
	return ParticipantInfo{
		ID:       p.id,
		Name:     p.name,
		Remote:   p.remote,
		JoinedAt: p.joinedAt,
	}
}

// advance - moves state forward, never leaves Closed.
func (p *Participant) advance(to State) bool {
	for {
		from := p.state.Load()
		if State(from) == StateClosed || State(from) >= to {
			return false
		}
		if p.state.CompareAndSwap(from, int32(to)) {
			return true
		}
	}
}

// close - closes transport once and releases everything waiting on participant.
func (p *Participant) close() error {
	var err error
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		p.cancel()
		err = p.conn.Close()
	})
	return err
}

// tryDeliver - queues line without blocking, returns false if outbox is full or participant is closed.
func (p *Participant) tryDeliver(line string) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.outbox <- line:
		return true
	default:
		return false
	}
}

// deliver - queues line waiting for free outbox slot not longer than timeout.
// Returns context.DeadlineExceeded when the timeout expires and context.Canceled when participant is closed.
func (p *Participant) deliver(line string, timeout time.Duration) error {
	if p.tryDeliver(line) {
		return nil
	}
	if p.ctx.Err() != nil {
		return context.Canceled
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.outbox <- line:
		return nil
	case <-p.ctx.Done():
		return context.Canceled
	case <-timer.C:
		return context.DeadlineExceeded
	}
}
