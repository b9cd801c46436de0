package journal

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/process"
)

// SessionKind - which side of chat produced session.
type SessionKind string

const (
	ServerSession SessionKind = "server"
	ClientSession SessionKind = "client"
)

// Machine - host and process details at the end of session.
type Machine struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	PID             int32  `json:"pid"`
	RSSBytes        uint64 `json:"rss_bytes"`
}

// Session - summary of single server or client run.
type Session struct {
	ID               uuid.UUID   `json:"id"`
	Kind             SessionKind `json:"kind"`
	Name             string      `json:"name,omitempty"`
	Address          string      `json:"address"`
	Port             int         `json:"port"`
	StartedAt        time.Time   `json:"started_at"`
	StoppedAt        time.Time   `json:"stopped_at"`
	DurationSeconds  float64     `json:"duration_seconds"`
	Joins            int         `json:"joins"`
	Parts            int         `json:"parts"`
	Rejected         int         `json:"rejected"`
	Relayed          int         `json:"relayed"`
	Received         int         `json:"received,omitempty"`
	Errors           int         `json:"errors"`
	PeakParticipants int         `json:"peak_participants"`
	Machine          *Machine    `json:"machine,omitempty"`
}

// NewSession - starts session record of given kind.
func NewSession(kind SessionKind, address string, port int) Session {
	return Session{
		ID:        uuid.New(),
		Kind:      kind,
		Address:   address,
		Port:      port,
		StartedAt: time.Now(),
	}
}

// Finish - stamps stop time and duration.
func (s *Session) Finish(at time.Time) {
	s.StoppedAt = at
	s.DurationSeconds = at.Sub(s.StartedAt).Seconds()
}

// Collect - reads host info and resident memory of the current process.
func Collect() (*Machine, error) {
	info, err := host.Info()
	if err != nil {
		return nil, err
	}
	m := &Machine{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		PID:             int32(os.Getpid()),
	}
	p, err := process.NewProcess(m.PID)
	if err != nil {
		return m, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return m, err
	}
	m.RSSBytes = mem.RSS
	return m, nil
}
