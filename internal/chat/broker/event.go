package broker

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantInfo - public snapshot of a registered participant.
type ParticipantInfo struct {
	ID       uuid.UUID
	Name     string
	Remote   string
	JoinedAt time.Time
}

// JoinEvent - occurs after participant has been registered.
type JoinEvent struct {
	Participant ParticipantInfo
	At          time.Time
}

// PartReason - describes the type of parting with participant.
type PartReason int

const (
	_ PartReason = iota
	// PartLeft - remote side has closed the connection.
	PartLeft
	// PartTimeout - read or write deadline has expired.
	PartTimeout
	// PartFailed - transport failure other than timeout.
	PartFailed
	// PartRemoved - removed explicitly with RemoveParticipant.
	PartRemoved
	// PartShutdown - broker is stopping.
	PartShutdown
)

func (r PartReason) String() string {
	switch r {
	case PartLeft:
		return "left"
	case PartTimeout:
		return "timed out"
	case PartFailed:
		return "failed"
	case PartRemoved:
		return "removed"
	case PartShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// PartEvent - occurs after participant has been deregistered and its transport closed.
type PartEvent struct {
	Participant ParticipantInfo
	Reason      PartReason
	// Err - transport failure caused the parting, nil for clean disconnect.
	Err error
	At  time.Time
}

// MessageEvent - occurs after line from participant has been relayed.
type MessageEvent struct {
	Participant ParticipantInfo
	Text        string
	Recipients  int
	At          time.Time
}

// RejectEvent - occurs when connection is closed before registration.
type RejectEvent struct {
	Remote string
	Err    error
	At     time.Time
}

// Observer - receives broker events synchronously from handling units,
// so implementation must be safe for concurrent use and must not block.
type Observer interface {
	Joined(JoinEvent)
	Parted(PartEvent)
	Relayed(MessageEvent)
	Rejected(RejectEvent)
}

type nopObserver struct{}

func (nopObserver) Joined(JoinEvent)     {}
func (nopObserver) Parted(PartEvent)     {}
func (nopObserver) Relayed(MessageEvent) {}
func (nopObserver) Rejected(RejectEvent) {}
