package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed - returned by EventLog after Close.
var ErrClosed = errors.New("journal: event log is closed")

// Kind - kind of event log entry.
type Kind string

const (
	KindStart  Kind = "START"
	KindStop   Kind = "STOP"
	KindJoin   Kind = "JOIN"
	KindPart   Kind = "PART"
	KindReject Kind = "REJECT"
	KindError  Kind = "ERROR"
)

// Entry - single line of event log.
type Entry struct {
	At          time.Time
	Kind        Kind
	Participant string
	Name        string
	Remote      string
	Detail      string
	Err         error
}

// EventLog - append-only text log, safe for concurrent use.
type EventLog struct {
	mu     sync.Mutex
	file   *os.File
	log    *slog.Logger
	closed bool
}

// OpenEventLog - opens file for appending, creates it with parent directories if needed.
func OpenEventLog(path string) (*EventLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal.OpenEventLog: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal.OpenEventLog: %w", err)
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch {
			case len(groups) > 0:
				return a
			case a.Key == slog.LevelKey:
				// every line is an event, level says nothing
				return slog.Attr{}
			case a.Key == slog.TimeKey:
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})
	return &EventLog{file: f, log: slog.New(handler)}, nil
}

// Record - appends entry as a single line.
func (l *EventLog) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r := slog.NewRecord(e.At, slog.LevelInfo, string(e.Kind), 0)
	if e.Participant != "" {
		r.AddAttrs(slog.String("participant", e.Participant))
	}
	if e.Name != "" {
		r.AddAttrs(slog.String("name", e.Name))
	}
	if e.Remote != "" {
		r.AddAttrs(slog.String("remote", e.Remote))
	}
	if e.Detail != "" {
		r.AddAttrs(slog.String("detail", e.Detail))
	}
	if e.Err != nil {
		r.AddAttrs(slog.String("err", e.Err.Error()))
	}
	return l.log.Handler().Handle(context.Background(), r)
}

// Close - closes underlying file, repeated Close is a no-op.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
