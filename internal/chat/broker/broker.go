// Package broker keeps chat participants connected over TCP and relays their lines to each other.
//
// Every accepted connection is served by its own handling unit: the first line is the
// display name, every following line is relayed as "[name]: text" to all other participants.
// Each participant owns a bounded outbox drained by a writer with a write deadline,
// so a stuck participant is dropped instead of stalling the others.
package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/wtask/linechat/internal/chat/message"
	"github.com/wtask/linechat/pkg/background"
)

// Broker - chat connections keeper and message router.
type Broker struct {
	log      *slog.Logger
	observer Observer

	writeTimeout,
	idleTimeout,
	handshakeTimeout,
	stopTimeout time.Duration
	outboxSize  int
	maxLineSize int

	history     History
	greets      int
	partNotices bool
	joinNotices bool

	mu       sync.Mutex
	stopped  bool
	listener net.Listener
	pending  map[net.Conn]*Participant

	scope   *background.Scope
	clients *registry
}

func setup(b *Broker, options ...Option) error {
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(b); err != nil {
			return err
		}
	}
	return nil
}

// New - builds Broker with needed options.
func New(options ...Option) (*Broker, error) {
	b := &Broker{
		log:              slog.New(slog.DiscardHandler),
		observer:         nopObserver{},
		writeTimeout:     10 * time.Second,
		handshakeTimeout: 30 * time.Second,
		stopTimeout:      5 * time.Second,
		outboxSize:       64,
		partNotices:      true,
		pending:          make(map[net.Conn]*Participant),
		scope:            background.NewScope(context.Background()),
		clients:          newRegistry(),
	}

	if err := setup(b, options...); err != nil {
		return nil, err
	}
	// greeting must never block registration
	b.greets = min(b.greets, b.outboxSize)

	return b, nil
}

// Start - listens TCP on given address and port and accepts connections in background until Stop.
// Port 0 picks a free port, use Addr to find it out.
func (b *Broker) Start(bindAddress string, port int) error {
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	if port < 0 || port > 65535 {
		return &BindError{Addr: addr, Err: fmt.Errorf("invalid port %d", port)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return &ShutdownError{Op: "start"}
	}
	if b.listener != nil {
		return ErrAlreadyServing
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	b.listener = listener
	b.scope.Go(func(context.Context) {
		if err := b.acceptLoop(listener); err != nil {
			b.log.Error("Accept loop stopped", "addr", listener.Addr().String(), "err", err)
		}
	})
	b.log.Info("Listen", "addr", listener.Addr().String())
	return nil
}

// Serve - accepts connections of given listener until the listener is closed.
// Returns nil when the listener is closed by Stop.
func (b *Broker) Serve(listener net.Listener) error {
	if listener == nil {
		return errors.New("broker.Serve: listener is nil")
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return &ShutdownError{Op: "serve"}
	}
	if b.listener != nil {
		b.mu.Unlock()
		return ErrAlreadyServing
	}
	b.listener = listener
	b.mu.Unlock()

	return b.acceptLoop(listener)
}

// Addr - returns address of the listener or nil if the broker is not serving.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// acceptLoop - never exits on a single failed accept, only closed listener ends it.
func (b *Broker) acceptLoop(listener net.Listener) error {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if b.isStopped() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = max(5*time.Millisecond, min(2*delay, time.Second))
			b.log.Warn("Accept failed", "err", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-b.scope.Context().Done():
				return nil
			}
			continue
		}
		delay = 0

		started := b.scope.Go(func(context.Context) {
			if err := b.HandleParticipant(conn); err != nil && !errors.Is(err, ErrShutdown) {
				b.log.Debug("Connection finished with error", "remote", remoteOf(conn), "err", err)
			}
		})
		if !started {
			conn.Close()
			return nil
		}
	}
}

func (b *Broker) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// HandleParticipant - serves single connection until it is closed, the call blocks all that time.
// The first line is the display name, every following line is relayed to other participants.
// Returns nil when remote side disconnects cleanly.
func (b *Broker) HandleParticipant(conn net.Conn) error {
	p, err := b.connect(conn)
	if err != nil {
		return err
	}
	defer b.forget(p)

	reader := bufio.NewReader(conn)
	if err := b.handshake(p, reader); err != nil {
		p.close()
		if b.isStopped() {
			return &ShutdownError{Op: "join"}
		}
		b.log.Warn("Join rejected", "remote", p.remote, "err", err)
		b.observer.Rejected(RejectEvent{Remote: p.remote, Err: err, At: time.Now().UTC()})
		return err
	}

	if err := b.register(p); err != nil {
		p.close()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.maintainOutbox(p)
	}()

	reason, err := b.maintainInbox(p, reader)
	b.remove(p, reason, err)
	<-done

	if reason == PartLeft || reason == PartRemoved || reason == PartShutdown {
		return nil
	}
	return err
}

// connect - tracks connection in Connecting state, so Stop can release it before registration.
func (b *Broker) connect(conn net.Conn) (*Participant, error) {
	if conn == nil {
		return nil, errors.New("broker.HandleParticipant: connection is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		conn.Close()
		return nil, &ShutdownError{Op: "accept"}
	}
	if _, ok := b.pending[conn]; ok || b.clients.has(conn) {
		return nil, ErrConnKept
	}
	p := newParticipant(conn, b.outboxSize)
	b.pending[conn] = p
	return p, nil
}

func (b *Broker) forget(p *Participant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[p.conn] == p {
		delete(b.pending, p.conn)
	}
}

// handshake - reads join line, Connecting -> Named.
func (b *Broker) handshake(p *Participant, reader *bufio.Reader) error {
	if b.handshakeTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(b.handshakeTimeout))
	}
	line, err := message.ReadLine(reader, b.maxLineSize)
	if err != nil {
		return &ProtocolError{Remote: p.remote, Err: fmt.Errorf("join line: %w", err)}
	}
	name := message.Name(line)
	if name == "" {
		return &ProtocolError{Remote: p.remote, Err: ErrEmptyName}
	}
	p.conn.SetReadDeadline(time.Time{})
	p.name = name
	p.advance(StateNamed)
	return nil
}

// register - moves named participant into registry, Named -> Active.
func (b *Broker) register(p *Participant) error {
	if err := b.admit(p); err != nil {
		return err
	}

	info := p.Info()
	b.log.Info("Participant joined",
		"participant", info.ID, "name", info.Name, "remote", info.Remote, "participants", b.clients.len())
	b.observer.Joined(JoinEvent{Participant: info, At: info.JoinedAt})
	if b.joinNotices {
		b.notify(message.Notice(fmt.Sprintf("%s has joined", p.name)), p)
	}
	return nil
}

// admit - registration is checked against stop condition under the same lock as Stop takes.
func (b *Broker) admit(p *Participant) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return &ShutdownError{Op: "join"}
	}
	delete(b.pending, p.conn)

	p.joinedAt = time.Now().UTC()
	var greets []string
	if b.history != nil && b.greets > 0 {
		greets = b.history.Tail(b.greets)
	}
	added := b.clients.add(p, func(p *Participant) {
		for _, line := range greets {
			p.tryDeliver(line)
		}
		p.advance(StateActive)
	})
	if !added {
		return ErrConnKept
	}
	return nil
}

// maintainInbox - reads lines of active participant and relays them in arrival order.
func (b *Broker) maintainInbox(p *Participant, reader *bufio.Reader) (PartReason, error) {
	for {
		if b.idleTimeout > 0 {
			p.conn.SetReadDeadline(time.Now().Add(b.idleTimeout))
		}
		line, err := message.ReadLine(reader, b.maxLineSize)
		if err != nil {
			switch {
			case p.ctx.Err() != nil:
				// closed by writer failure, RemoveParticipant or Stop
				return PartRemoved, nil
			case errors.Is(err, io.EOF):
				return PartLeft, nil
			}
			te := &TransportError{Participant: p.String(), Op: "read", Err: err}
			if te.Timeout() {
				return PartTimeout, te
			}
			return PartFailed, te
		}
		b.relay(p, line)
	}
}

// maintainOutbox - writes queued lines with bounded write, the first failure removes participant.
func (b *Broker) maintainOutbox(p *Participant) {
	for {
		select {
		case line := <-p.outbox:
			p.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			if _, err := io.WriteString(p.conn, line); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				te := &TransportError{Participant: p.String(), Op: "write", Err: err}
				reason := PartFailed
				if te.Timeout() {
					reason = PartTimeout
				}
				b.remove(p, reason, te)
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// relay - broadcasts line of participant to all others.
// Called sequentially by participant's handling unit, that keeps per-sender order.
func (b *Broker) relay(p *Participant, text string) {
	msg := message.New(p.name, text)
	line := msg.Line()
	n := b.broadcast(line, p)
	if b.history != nil {
		b.history.Push(line)
	}
	b.observer.Relayed(MessageEvent{Participant: p.Info(), Text: text, Recipients: n, At: msg.At})
}

// Broadcast - sends "[senderName]: text" line to every registered participant.
// Relays of participant lines never reach the participant itself.
func (b *Broker) Broadcast(senderName, text string) error {
	if b.isStopped() {
		return &ShutdownError{Op: "broadcast"}
	}
	line := message.Format(senderName, text)
	b.broadcast(line, nil)
	if b.history != nil {
		b.history.Push(line)
	}
	return nil
}

// broadcast - queues line for all registered participants except given one, returns number of recipients.
// Recipients with free outbox get the line immediately, others are waited in parallel,
// each not longer than write timeout. A recipient which is not in time is removed.
func (b *Broker) broadcast(line string, exclude *Participant) int {
	recipients := b.clients.snapshot(exclude)
	queued := 0
	var slow []*Participant
	for _, r := range recipients {
		if r.tryDeliver(line) {
			queued++
			continue
		}
		if r.ctx.Err() == nil {
			slow = append(slow, r)
		}
	}
	if len(slow) == 0 {
		return queued
	}

	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	for _, r := range slow {
		wg.Add(1)
		go func(r *Participant) {
			defer wg.Done()
			err := r.deliver(line, b.writeTimeout)
			switch {
			case err == nil:
				mu.Lock()
				queued++
				mu.Unlock()
			case errors.Is(err, context.DeadlineExceeded):
				b.remove(r, PartTimeout, &TransportError{Participant: r.String(), Op: "write", Err: err})
			}
		}(r)
	}
	wg.Wait()
	return queued
}

// notify - best-effort notice, never waits for slow participants.
func (b *Broker) notify(line string, exclude *Participant) {
	for _, r := range b.clients.snapshot(exclude) {
		r.tryDeliver(line)
	}
	if b.history != nil {
		b.history.Push(line)
	}
}

// RemoveParticipant - deregisters participant of given connection and closes the connection.
// Removing of unknown or already removed participant is a no-op, the result reports whether removal has happened.
func (b *Broker) RemoveParticipant(conn net.Conn) bool {
	p, ok := b.clients.get(conn)
	if !ok {
		return false
	}
	return b.remove(p, PartRemoved, nil)
}

// remove - deregisters participant and closes its transport in one step, idempotent.
func (b *Broker) remove(p *Participant, reason PartReason, cause error) bool {
	if !b.clients.delete(p) {
		return false
	}
	p.close()
	b.parted(p, reason, cause)
	if b.partNotices && !b.isStopped() {
		b.notify(message.Notice(partNotice(p.name, reason)), nil)
	}
	return true
}

func (b *Broker) parted(p *Participant, reason PartReason, cause error) {
	info := p.Info()
	attrs := []any{
		"participant", info.ID, "name", info.Name, "remote", info.Remote,
		"reason", reason.String(), "participants", b.clients.len(),
	}
	if cause != nil {
		b.log.Warn("Participant dropped", append(attrs, "err", cause)...)
	} else {
		b.log.Info("Participant parted", attrs...)
	}
	b.observer.Parted(PartEvent{Participant: info, Reason: reason, Err: cause, At: time.Now().UTC()})
}

func partNotice(name string, reason PartReason) string {
	switch reason {
	case PartTimeout:
		return fmt.Sprintf("%s has timed out", name)
	case PartFailed:
		return fmt.Sprintf("%s has left (connection error)", name)
	case PartRemoved:
		return fmt.Sprintf("%s has been removed", name)
	default:
		return fmt.Sprintf("%s has left", name)
	}
}

// Len - returns number of registered participants.
func (b *Broker) Len() int {
	return b.clients.len()
}

// Participants - returns registered participants ordered by join time.
func (b *Broker) Participants() []ParticipantInfo {
	return b.clients.infos()
}

// Stop - closes the listener and all open connections, then waits handling units are done,
// but not longer than stop timeout. Following Start, Serve, Broadcast and accepted connections
// fail with ShutdownError. Repeated Stop is a no-op.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	listener := b.listener
	pending := lo.Values(b.pending)
	b.mu.Unlock()

	b.scope.Cancel()
	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("broker.Stop: close listener: %w", cerr)
		}
	}
	for _, p := range pending {
		p.close()
	}
	for _, p := range b.clients.drain() {
		p.close()
		b.parted(p, PartShutdown, nil)
	}

	spent, ok := b.scope.Wait(b.stopTimeout)
	if !ok {
		return errors.Join(err, fmt.Errorf("broker.Stop: handling units are still running after %v", spent))
	}
	b.log.Info("Broker stopped", "spent", spent)
	return err
}

func remoteOf(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
