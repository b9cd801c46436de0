//go:generate go run go.uber.org/mock/mockgen -source=server.go -destination=mocks/mock_server.go -package=mocks
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/wtask/linechat/internal/chat/broker"
	"github.com/wtask/linechat/internal/journal"
	"github.com/wtask/linechat/internal/metrics"
)

var (
	// ErrStarted - server can be started only once.
	ErrStarted = errors.New("chat: server already started")
	// ErrNotStarted - server was never started.
	ErrNotStarted = errors.New("chat: server is not started")
)

// EventRecorder - append-only log of chat events, closed by server on shutdown.
type EventRecorder interface {
	Record(journal.Entry) error
	Close() error
}

// SessionStore - keeps summary of server run.
type SessionStore interface {
	SaveSession(journal.Session) error
}

// MachineCollector - reports host details stored with session.
type MachineCollector func() (*journal.Machine, error)

// Server - chat broker bound to logging, event log, metrics and session statistics.
type Server struct {
	log     *slog.Logger
	broker  *broker.Broker
	events  EventRecorder
	store   SessionStore
	machine MachineCollector

	mu      sync.Mutex
	session journal.Session
	active  int
	started bool
	stopped bool
}

// ServerOption - functional option of Server.
type ServerOption func(*Server) error

// WithLogger - overwrites default (silent) logger of server and its broker.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) error {
		if log == nil {
			return errors.New("chat.WithLogger: logger is nil")
		}
		s.log = log
		return nil
	}
}

// WithEventLog - attaches event log, server takes ownership and closes it on shutdown.
func WithEventLog(events EventRecorder) ServerOption {
	return func(s *Server) error {
		if events == nil {
			return errors.New("chat.WithEventLog: recorder is nil")
		}
		s.events = events
		return nil
	}
}

// WithSessionStore - attaches store to save session summary on shutdown.
func WithSessionStore(store SessionStore) ServerOption {
	return func(s *Server) error {
		if store == nil {
			return errors.New("chat.WithSessionStore: store is nil")
		}
		s.store = store
		return nil
	}
}

// WithMachineInfo - attaches machine info to session summary.
func WithMachineInfo(collect MachineCollector) ServerOption {
	return func(s *Server) error {
		if collect == nil {
			return errors.New("chat.WithMachineInfo: collector is nil")
		}
		s.machine = collect
		return nil
	}
}

// NewServer - creates chat server, broker is built by specified builder and reports its events to server.
func NewServer(buildBroker BrokerBuilder, options ...ServerOption) (*Server, error) {
	if buildBroker == nil {
		return nil, errors.New("chat.NewServer: required chat.BrokerBuilder is nil")
	}
	s := &Server{log: slog.New(slog.DiscardHandler)}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(s); err != nil {
			return nil, err
		}
	}
	b, err := buildBroker(s, s.log)
	if err != nil {
		return nil, fmt.Errorf("chat.NewServer: can't build broker: %w", err)
	}
	s.broker = b
	return s, nil
}

// Broker - returns underlying broker.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Addr - address of listener, nil if server is not started.
func (s *Server) Addr() net.Addr {
	return s.broker.Addr()
}

// Session - returns copy of current session statistics.
func (s *Server) Session() journal.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Start - opens session and starts broker on the specified address.
func (s *Server) Start(bindAddress string, port int) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.session = journal.NewSession(journal.ServerSession, bindAddress, port)
	id := s.session.ID
	s.mu.Unlock()

	s.record(journal.Entry{
		Kind:   journal.KindStart,
		Detail: net.JoinHostPort(bindAddress, fmt.Sprint(port)),
	})
	if err := s.broker.Start(bindAddress, port); err != nil {
		s.failed("bind", err)
		return err
	}
	s.log.Info("Chat server is up", "addr", s.broker.Addr().String(), "session", id)
	return nil
}

// Run - starts server and blocks until ctx is done, then shuts server down.
func (s *Server) Run(ctx context.Context, bindAddress string, port int) error {
	if err := s.Start(bindAddress, port); err != nil {
		if errors.Is(err, ErrStarted) {
			return err
		}
		_, shutdownErr := s.Shutdown()
		return errors.Join(err, shutdownErr)
	}
	<-ctx.Done()
	_, err := s.Shutdown()
	return err
}

// Shutdown - stops broker, saves session summary and closes event log.
// Repeated call returns the same session without side effects.
func (s *Server) Shutdown() (journal.Session, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return journal.Session{}, ErrNotStarted
	}
	if s.stopped {
		defer s.mu.Unlock()
		return s.session, nil
	}
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	if err := s.broker.Stop(); err != nil {
		s.failed("stop", err)
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.session.Finish(time.Now())
	s.mu.Unlock()
	if s.machine != nil {
		m, err := s.machine()
		if err != nil {
			s.log.Warn("Machine info is incomplete", "err", err)
		}
		s.mu.Lock()
		s.session.Machine = m
		s.mu.Unlock()
	}
	session := s.Session()

	s.record(journal.Entry{
		Kind:   journal.KindStop,
		Detail: fmt.Sprintf("joins=%d relayed=%d errors=%d", session.Joins, session.Relayed, session.Errors),
	})
	if s.store != nil {
		if err := s.store.SaveSession(session); err != nil {
			s.log.Error("Can't save session", "session", session.ID, "err", err)
			errs = append(errs, err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("Chat server is down",
		"session", session.ID,
		"duration", time.Duration(session.DurationSeconds*float64(time.Second)).Round(time.Millisecond),
		"joins", session.Joins,
		"relayed", session.Relayed,
	)
	return session, errors.Join(errs...)
}

// Joined - implements broker.Observer.
func (s *Server) Joined(e broker.JoinEvent) {
	s.mu.Lock()
	s.session.Joins++
	s.active++
	s.session.PeakParticipants = max(s.session.PeakParticipants, s.active)
	s.mu.Unlock()

	metrics.Joins.Inc()
	metrics.Participants.Inc()
	s.record(journal.Entry{
		At:          e.At,
		Kind:        journal.KindJoin,
		Participant: e.Participant.ID.String(),
		Name:        e.Participant.Name,
		Remote:      e.Participant.Remote,
	})
}

// Parted - implements broker.Observer.
func (s *Server) Parted(e broker.PartEvent) {
	s.mu.Lock()
	s.session.Parts++
	s.active--
	if e.Err != nil {
		s.session.Errors++
	}
	s.mu.Unlock()

	metrics.Participants.Dec()
	metrics.Parts.WithLabelValues(e.Reason.String()).Inc()
	if e.Err != nil {
		metrics.Errors.WithLabelValues("transport").Inc()
	}
	s.record(journal.Entry{
		At:          e.At,
		Kind:        journal.KindPart,
		Participant: e.Participant.ID.String(),
		Name:        e.Participant.Name,
		Remote:      e.Participant.Remote,
		Detail:      e.Reason.String(),
		Err:         e.Err,
	})
}

// Relayed - implements broker.Observer.
func (s *Server) Relayed(e broker.MessageEvent) {
	s.mu.Lock()
	s.session.Relayed++
	s.mu.Unlock()

	metrics.MessagesRelayed.Inc()
	metrics.RelayFanout.Observe(float64(e.Recipients))
	s.log.Debug("Line relayed",
		"participant", e.Participant.ID,
		"name", e.Participant.Name,
		"recipients", e.Recipients,
	)
}

// Rejected - implements broker.Observer.
func (s *Server) Rejected(e broker.RejectEvent) {
	s.mu.Lock()
	s.session.Rejected++
	s.mu.Unlock()

	metrics.Rejected.Inc()
	var protocolErr *broker.ProtocolError
	if errors.As(e.Err, &protocolErr) {
		metrics.Errors.WithLabelValues("protocol").Inc()
	}
	s.record(journal.Entry{
		At:     e.At,
		Kind:   journal.KindReject,
		Remote: e.Remote,
		Err:    e.Err,
	})
}

func (s *Server) failed(kind string, err error) {
	s.mu.Lock()
	s.session.Errors++
	s.mu.Unlock()
	metrics.Errors.WithLabelValues(kind).Inc()
	s.log.Error("Chat server failure", "kind", kind, "err", err)
	s.record(journal.Entry{Kind: journal.KindError, Detail: kind, Err: err})
}

func (s *Server) record(e journal.Entry) {
	if s.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := s.events.Record(e); err != nil {
		s.log.Warn("Can't record chat event", "kind", e.Kind, "err", err)
	}
}
