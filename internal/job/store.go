package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store holds every known upload. The record map, the pending FIFO and the
// running set are guarded by the same lock so that an upload is always in
// exactly one phase: queued, running or finished.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]*Record
	pending []uint64
	running map[uint64]struct{}

	submitted, completed, failed, discarded uint64

	log logrus.FieldLogger
	now func() time.Time
}

func NewStore(log logrus.FieldLogger, now func() time.Time) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		records: make(map[uint64]*Record),
		pending: make([]uint64, 0),
		running: make(map[uint64]struct{}),
		log:     log,
		now:     now,
	}
}

// Add inserts a queued record and appends it to the pending queue.
func (s *Store) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.ID] = &r
	s.pending = append(s.pending, r.ID)
	s.submitted++
}

func (s *Store) Get(id uint64) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Status{}, false
	}
	return r.Status.clone(), true
}

// Take is Get with one-shot semantics: a terminal status is returned once and
// the record is removed.
func (s *Store) Take(id uint64) (Status, bool) {
	st, ok := s.Get(id)
	if !ok || !st.State.Terminal() {
		return st, ok
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		// Another reader consumed it between the two locks.
		return Status{}, false
	}
	delete(s.records, id)
	return r.Status.clone(), true
}

// Delete removes a record whatever its phase. A running upload keeps its slot
// in the running set until Finish releases it.
func (s *Store) Delete(id uint64) (existed, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return false, false
	}
	delete(s.records, id)

	if r.Status.State == StateQueued {
		for i, pid := range s.pending {
			if pid == id {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	_, running = s.running[id]
	return true, running
}

// Admit pops the oldest pending upload and marks it running in one step.
// It returns false when nothing is left to admit.
func (s *Store) Admit() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		r, ok := s.records[id]
		if !ok {
			s.log.WithField("upload_id", id).Error("pending upload missing from store, dropping")
			continue
		}
		if !CanTransition(r.Status.State, StateRunning) {
			s.log.WithFields(logrus.Fields{"upload_id": id, "state": r.Status.State}).
				Error("pending upload is not queued, dropping")
			continue
		}

		now := s.now().UTC()
		r.Status.State = StateRunning
		r.Status.Message = fmt.Sprintf("Upload task %d started", id)
		r.Status.StartedAt = &now
		s.running[id] = struct{}{}
		return Record{ID: id, Request: r.Request, Status: r.Status.clone()}, true
	}
	return Record{}, false
}

// Finish stores the terminal result of a running upload and frees its running
// slot. If the record was removed while running, nothing is written and false
// is returned.
func (s *Store) Finish(id uint64, res Result) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, id)

	if res.Outcome != StateCompleted {
		res.Outcome = StateFailed
	}

	r, ok := s.records[id]
	if !ok {
		s.discarded++
		return Status{}, false
	}
	if !CanTransition(r.Status.State, res.Outcome) {
		s.log.WithFields(logrus.Fields{"upload_id": id, "from": r.Status.State, "to": res.Outcome}).
			Error("refusing backward state transition")
		s.discarded++
		return r.Status.clone(), false
	}

	if res.Outcome == StateCompleted {
		s.completed++
	} else {
		s.failed++
	}

	now := s.now().UTC()
	r.Status.State = res.Outcome
	r.Status.Message = res.Message
	r.Status.Result = &res
	r.Status.FinishedAt = &now
	return r.Status.clone(), true
}

// Sweep drops terminal records that finished before the cutoff and returns how
// many were removed.
func (s *Store) Sweep(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.records {
		if !r.Status.State.Terminal() || r.Status.FinishedAt == nil {
			continue
		}
		if r.Status.FinishedAt.Before(before) {
			delete(s.records, id)
			n++
		}
	}
	return n
}

type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	SubmittedTotal uint64 `json:"submitted_total"`
	CompletedTotal uint64 `json:"completed_total"`
	FailedTotal    uint64 `json:"failed_total"`

	// DiscardedTotal counts results of uploads removed while running. They
	// are not part of CompletedTotal or FailedTotal.
	DiscardedTotal uint64 `json:"discarded_total"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Queued:         len(s.pending),
		Running:        len(s.running),
		SubmittedTotal: s.submitted,
		CompletedTotal: s.completed,
		FailedTotal:    s.failed,
		DiscardedTotal: s.discarded,
	}
	for _, r := range s.records {
		switch r.Status.State {
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

// Running returns the number of uploads currently holding a slot.
func (s *Store) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}

func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
