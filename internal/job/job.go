package job

import (
	"fmt"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning
	case StateRunning:
		return to.Terminal()
	}
	return false
}

// Request is what a caller submits. The dispatcher only hands it to the
// upload function.
type Request struct {
	Path string `json:"path"`
	User string `json:"user"`
}

// Result is the outcome reported by an UploadFunc.
type Result struct {
	Outcome State  `json:"outcome"`
	Message string `json:"message"`
}

func Completed(format string, args ...any) Result {
	return Result{Outcome: StateCompleted, Message: fmt.Sprintf(format, args...)}
}

func Failed(format string, args ...any) Result {
	return Result{Outcome: StateFailed, Message: fmt.Sprintf(format, args...)}
}

type Status struct {
	State       State      `json:"state"`
	Message     string     `json:"message"`
	Result      *Result    `json:"result,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// clone returns a copy that shares no pointers with s.
func (s Status) clone() Status {
	c := s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

type Record struct {
	ID      uint64
	Request Request
	Status  Status
}

func newRecord(id uint64, req Request, now time.Time) Record {
	return Record{
		ID:      id,
		Request: req,
		Status: Status{
			State:       StateQueued,
			Message:     fmt.Sprintf("Upload %s for user %s pending", req.Path, req.User),
			SubmittedAt: now.UTC(),
		},
	}
}
