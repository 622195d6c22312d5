package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrent = 4

var (
	ErrClosed   = errors.New("dispatcher closed")
	ErrNotFound = errors.New("upload not found")
)

// UploadFunc performs one upload. It is called from up to MaxConcurrent
// goroutines at once. Returning an error or panicking marks the upload failed.
type UploadFunc func(ctx context.Context, req Request) (Result, error)

type EventType string

const (
	EventQueued   EventType = "queued"
	EventRunning  EventType = "running"
	EventFinished EventType = "finished"
	EventRemoved  EventType = "removed"
)

// Event describes a change to one upload. Observers are called outside of
// any store lock.
type Event struct {
	Type   EventType `json:"type"`
	ID     uint64    `json:"id,string"`
	Status *Status   `json:"status,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrent sets how many uploads may run at the same time.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) { d.maxConcurrent = n }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithObserver registers a callback for every upload event.
func WithObserver(fn func(Event)) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, fn) }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher queues submitted uploads and runs at most MaxConcurrent of them.
// A single scheduler goroutine admits work; it is woken after every
// submission and every completion.
type Dispatcher struct {
	store         *Store
	ids           IDGenerator
	upload        UploadFunc
	maxConcurrent int
	sem           *semaphore.Weighted
	wake          chan struct{}
	log           logrus.FieldLogger
	observers     []func(Event)
	now           func() time.Time

	mu      sync.Mutex
	started bool
	closed  bool
	ctx     context.Context
	stop    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(upload UploadFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		upload:        upload,
		maxConcurrent: DefaultMaxConcurrent,
		wake:          make(chan struct{}, 1),
		log:           logrus.StandardLogger(),
		now:           time.Now,
		ctx:           context.Background(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxConcurrent <= 0 {
		d.log.WithField("max_concurrent", d.maxConcurrent).Warn("invalid concurrency ceiling, using 1")
		d.maxConcurrent = 1
	}
	d.sem = semaphore.NewWeighted(int64(d.maxConcurrent))
	d.store = NewStore(d.log, d.now)

	d.log.WithField("max_concurrent", d.maxConcurrent).Info("creating upload dispatcher")
	return d
}

func (d *Dispatcher) MaxConcurrent() int { return d.maxConcurrent }

// Start launches the scheduler loop. Uploads submitted earlier are admitted
// right away. ctx only supplies values: upload functions receive a context
// carrying them that is never cancelled, and the loop runs until Shutdown.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	d.started = true
	d.ctx = context.WithoutCancel(ctx)

	go d.loop()
	d.TryAdmitNext()
	return nil
}

// Shutdown stops admitting uploads and waits for running ones to finish or
// for ctx to expire. Queued uploads are left unstarted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.stop)
	d.mu.Unlock()

	d.log.Info("upload dispatcher stopping")
	if started {
		<-d.done
	}

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.log.Info("upload dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.WithField("running", d.store.Running()).Warn("upload dispatcher shutdown timed out")
		return ctx.Err()
	}
}

// Submit registers an upload and returns its identifier. It never waits for
// a free slot.
func (d *Dispatcher) Submit(req Request) (uint64, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	id := d.ids.Next()
	rec := newRecord(id, req, d.now())

	// Observers must see the queued event before the scheduler can admit
	// the upload, so emit before the record becomes visible.
	st := rec.Status.clone()
	d.emit(Event{Type: EventQueued, ID: id, Status: &st})
	d.store.Add(rec)
	d.log.WithFields(logrus.Fields{"upload_id": id, "path": req.Path, "user": req.User}).Info("upload queued")

	d.TryAdmitNext()
	return id, nil
}

// Status returns the current status of an upload. Once a terminal status has
// been returned the upload is forgotten and later calls report not found.
func (d *Dispatcher) Status(id uint64) (Status, bool) {
	st, ok := d.store.Take(id)
	if !ok {
		d.log.WithField("upload_id", id).Debug("upload not found")
		return st, false
	}
	if st.State.Terminal() {
		d.log.WithFields(logrus.Fields{"upload_id": id, "state": st.State}).Debug("terminal status delivered, record removed")
	}
	return st, true
}

// Peek is Status without the one-shot removal.
func (d *Dispatcher) Peek(id uint64) (Status, bool) {
	return d.store.Get(id)
}

// Remove forgets an upload in any phase. A running upload keeps running; its
// result is discarded.
func (d *Dispatcher) Remove(id uint64) bool {
	existed, running := d.store.Delete(id)
	log := d.log.WithField("upload_id", id)
	if !existed {
		log.Debug("remove: upload not found")
		return false
	}
	if running {
		log.Warn("removing status of an upload that is still running")
	} else {
		log.Info("upload status removed")
	}
	d.emit(Event{Type: EventRemoved, ID: id})
	return true
}

// Sweep forgets terminal uploads that finished more than ttl ago and were
// never read.
func (d *Dispatcher) Sweep(ttl time.Duration) int {
	n := d.store.Sweep(d.now().Add(-ttl))
	if n > 0 {
		d.log.WithFields(logrus.Fields{"removed": n, "ttl": ttl}).Info("swept unread finished uploads")
	}
	return n
}

func (d *Dispatcher) Stats() Stats {
	return d.store.Stats()
}

// TryAdmitNext asks the scheduler loop to admit queued uploads. It never
// blocks and redundant calls collapse into one.
func (d *Dispatcher) TryAdmitNext() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}
		d.admit()
	}
}

// admit starts queued uploads until the queue is empty or every slot is
// taken.
func (d *Dispatcher) admit() {
	for {
		if !d.sem.TryAcquire(1) {
			return
		}
		rec, ok := d.store.Admit()
		if !ok {
			d.sem.Release(1)
			return
		}

		d.log.WithFields(logrus.Fields{"upload_id": rec.ID, "running": d.store.Running()}).Info("upload started")
		d.emit(Event{Type: EventRunning, ID: rec.ID, Status: &rec.Status})

		d.wg.Add(1)
		go d.execute(rec.ID, rec.Request)
	}
}

func (d *Dispatcher) emit(ev Event) {
	for _, fn := range d.observers {
		fn(ev)
	}
}
