package model

import "time"

type SessionKind string

const (
	KindQuery     SessionKind = "query"
	KindProcedure SessionKind = "procedure"
)

type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Session is one tracked query execution. The registry's background task is
// the only writer after creation; everyone else gets snapshot copies.
type Session struct {
	ID        int64         `json:"id"`
	Kind      SessionKind   `json:"kind"`
	Query     string        `json:"query"`
	Database  string        `json:"database,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Running   bool          `json:"running"`
	Status    SessionStatus `json:"status"`
	RowCount  int64         `json:"row_count"`
	Error     string        `json:"error,omitempty"`
	TimeoutS  int           `json:"timeout_s,omitempty"`

	// Result and Messages grow while the session runs and are served by the
	// results operation, not by the status one.
	Result   string   `json:"-"`
	Messages []string `json:"-"`
	PlanText string   `json:"-"`
}

func (s *Session) Terminal() bool {
	return s.Status != StatusRunning
}

// ElapsedMs is the client-measured execution time: wall clock for running
// sessions, start-to-end for terminal ones.
func (s *Session) ElapsedMs(now time.Time) int64 {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime).Milliseconds()
	}
	return now.Sub(s.StartTime).Milliseconds()
}

// Clone returns a copy safe to hand out while the background task keeps
// mutating the original.
func (s *Session) Clone() Session {
	out := *s
	if s.Messages != nil {
		out.Messages = make([]string, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return out
}
