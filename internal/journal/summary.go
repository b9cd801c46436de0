package journal

import (
	"encoding/json"
	"io"
	"time"

	"github.com/samber/lo"
)

// Summary - aggregate over stored sessions.
type Summary struct {
	Sessions         int       `json:"sessions"`
	ServerSessions   int       `json:"server_sessions"`
	ClientSessions   int       `json:"client_sessions"`
	Joins            int       `json:"joins"`
	Parts            int       `json:"parts"`
	Rejected         int       `json:"rejected"`
	Relayed          int       `json:"relayed"`
	Errors           int       `json:"errors"`
	PeakParticipants int       `json:"peak_participants"`
	AverageSeconds   float64   `json:"average_seconds"`
	LongestSeconds   float64   `json:"longest_seconds"`
	First            time.Time `json:"first,omitzero"`
	Last             time.Time `json:"last,omitzero"`
}

// Summarize - totals and averages, zero Summary for no sessions.
func Summarize(sessions []Session) Summary {
	if len(sessions) == 0 {
		return Summary{}
	}
	servers := lo.Filter(sessions, func(s Session, _ int) bool { return s.Kind == ServerSession })
	summary := Summary{
		Sessions:       len(sessions),
		ServerSessions: len(servers),
		ClientSessions: lo.CountBy(sessions, func(s Session) bool { return s.Kind == ClientSession }),
		Joins:          lo.SumBy(servers, func(s Session) int { return s.Joins }),
		Parts:          lo.SumBy(servers, func(s Session) int { return s.Parts }),
		Rejected:       lo.SumBy(servers, func(s Session) int { return s.Rejected }),
		Relayed:        lo.SumBy(servers, func(s Session) int { return s.Relayed }),
		Errors:         lo.SumBy(sessions, func(s Session) int { return s.Errors }),
		First:          lo.MinBy(sessions, func(a, b Session) bool { return a.StartedAt.Before(b.StartedAt) }).StartedAt,
		Last:           lo.MaxBy(sessions, func(a, b Session) bool { return a.StartedAt.After(b.StartedAt) }).StartedAt,
	}
	summary.PeakParticipants = lo.Max(lo.Map(servers, func(s Session, _ int) int { return s.PeakParticipants }))
	durations := lo.Map(sessions, func(s Session, _ int) float64 { return s.DurationSeconds })
	summary.AverageSeconds = lo.Sum(durations) / float64(len(durations))
	summary.LongestSeconds = lo.Max(durations)
	return summary
}

type export struct {
	ExportedAt time.Time `json:"exported_at"`
	Summary    Summary   `json:"summary"`
	Sessions   []Session `json:"sessions"`
}

// ExportJSON - writes summary with all sessions as indented JSON document.
func ExportJSON(w io.Writer, sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export{
		ExportedAt: time.Now().UTC(),
		Summary:    Summarize(sessions),
		Sessions:   sessions,
	})
}
