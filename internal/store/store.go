// Package store holds the in-memory invocation queue behind the runtime API.
//
// An EventStore owns three disjoint partitions: a FIFO of pending events,
// at most one active (Executing) event, and the completed list of events that
// have left the active slot. Every read and write goes through one mutex, and
// every mutation fires the registered state-change listeners once the lock
// has been released.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// Option configures an EventStore.
type Option func(*EventStore)

// WithNowFunc overrides the clock used for LastUpdated.
func WithNowFunc(now func() time.Time) Option {
	return func(s *EventStore) { s.now = now }
}

// WithFunctionARN sets the function identity stamped on every event.
func WithFunctionARN(arn string) Option {
	return func(s *EventStore) {
		if arn != "" {
			s.functionARN = arn
		}
	}
}

// WithLogger sets the logger used for rejected reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *EventStore) { s.logger = l }
}

// Summary is a point-in-time count of the partitions. Version increases with
// every mutation, so of two summaries the one with the higher Version is the
// more recent.
type Summary struct {
	Pending   int    `json:"pending"`
	Completed int    `json:"completed"`
	ActiveID  string `json:"active,omitempty"`
	Version   uint64 `json:"-"`
}

// Snapshot is a copy of all three partitions taken under a single lock hold.
type Snapshot struct {
	Pending   []model.Event
	Active    *model.Event
	Completed []model.Event
	Version   uint64
}

// EventStore is the synchronized invocation queue.
type EventStore struct {
	mu        sync.Mutex
	pending   []*model.Event
	active    *model.Event
	completed []*model.Event
	seq       uint64
	version   uint64        // bumped on every mutation
	changed   chan struct{} // closed and replaced on every mutation

	functionARN string
	now         func() time.Time
	logger      *slog.Logger

	listenersMu  sync.Mutex
	listeners    map[uint64]func()
	nextListener uint64
}

// New creates an empty store.
func New(opts ...Option) *EventStore {
	s := &EventStore{
		changed:     make(chan struct{}),
		functionARN: model.DefaultFunctionARN,
		now:         time.Now,
		logger:      slog.Default(),
		listeners:   make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FunctionARN returns the identity shared by every event of this store.
func (s *EventStore) FunctionARN() string {
	return s.functionARN
}

// Enqueue appends a new Queued event to the tail of the pending queue.
func (s *EventStore) Enqueue(payload string) model.Event {
	s.mu.Lock()
	s.seq++
	ev := model.NewEvent(s.seq, payload, s.functionARN, s.now())
	s.pending = append(s.pending, ev)
	out := *ev
	s.signalLocked()
	s.mu.Unlock()

	s.notify()
	return out
}

// ActivateNext hands out the oldest pending event. The previously active
// event, whatever its status, moves to the completed list. Returns false
// when nothing is pending.
func (s *EventStore) ActivateNext() (model.Event, bool) {
	s.mu.Lock()
	ev, ok, mutated := s.activateLocked()
	s.mu.Unlock()

	if mutated {
		s.notify()
	}
	return ev, ok
}

// WaitNext is ActivateNext for long-polling callers: when nothing is pending
// it blocks until a mutation happens or ctx is done, then tries again.
func (s *EventStore) WaitNext(ctx context.Context) (model.Event, error) {
	for {
		s.mu.Lock()
		ev, ok, mutated := s.activateLocked()
		changed := s.changed
		s.mu.Unlock()

		if mutated {
			s.notify()
		}
		if ok {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case <-changed:
		}
	}
}

// activateLocked must be called with s.mu held. mutated is true when any
// partition changed, even if no event was activated.
func (s *EventStore) activateLocked() (ev model.Event, ok, mutated bool) {
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]

		// A late report can finish an event while it is still queued. It has
		// nothing left to execute, so it goes straight to completed.
		if next.Status.Terminal() {
			s.completed = append(s.completed, next)
			s.signalLocked()
			mutated = true
			continue
		}

		if s.active != nil {
			s.completed = append(s.completed, s.active)
		}
		if err := next.Activate(s.now()); err != nil {
			panic(fmt.Sprintf("store: activating pending event %s: %v", next.ID, err))
		}
		s.active = next
		s.signalLocked()
		return *next, true, true
	}
	return model.Event{}, false, mutated
}

// ReportSuccess records a successful result for the event with the given id.
// Unknown ids and events that already carry a result are ignored; the return
// value reports whether the result was applied.
func (s *EventStore) ReportSuccess(id, response string) bool {
	return s.report(id, func(ev *model.Event, now time.Time) error {
		return ev.Succeed(response, now)
	})
}

// ReportError records a failed result for the event with the given id.
func (s *EventStore) ReportError(id, errorType, errorBody string) bool {
	return s.report(id, func(ev *model.Event, now time.Time) error {
		return ev.Fail(errorType, errorBody, now)
	})
}

func (s *EventStore) report(id string, apply func(*model.Event, time.Time) error) bool {
	s.mu.Lock()
	ev := s.findLocked(id)
	if ev == nil {
		s.mu.Unlock()
		s.logger.Debug("store: report for unknown event ignored", "id", id)
		return false
	}
	if err := apply(ev, s.now()); err != nil {
		s.mu.Unlock()
		s.logger.Debug("store: report rejected", "id", id, "error", err)
		return false
	}
	s.signalLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// findLocked looks in the active slot first, then completed, then pending,
// since a late report may arrive after the event was displaced.
func (s *EventStore) findLocked(id string) *model.Event {
	if s.active != nil && s.active.ID == id {
		return s.active
	}
	for _, ev := range s.completed {
		if ev.ID == id {
			return ev
		}
	}
	for _, ev := range s.pending {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// Get returns a copy of the event with the given id from any partition.
func (s *EventStore) Get(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.findLocked(id); ev != nil {
		return *ev, true
	}
	return model.Event{}, false
}

// Pending returns a snapshot of the pending queue, oldest first.
func (s *EventStore) Pending() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.pending)
}

// Completed returns a snapshot of the completed list in the order events
// left the active slot.
func (s *EventStore) Completed() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.completed)
}

// Active returns a copy of the active event, if any.
func (s *EventStore) Active() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return model.Event{}, false
	}
	return *s.active, true
}

// Summary returns the partition sizes and the active event id.
func (s *EventStore) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Pending: len(s.pending), Completed: len(s.completed), Version: s.version}
	if s.active != nil {
		sum.ActiveID = s.active.ID
	}
	return sum
}

// Snapshot copies every partition at once. Unlike separate calls to
// Pending, Active and Completed, an event moving between partitions is never
// missed or seen twice.
func (s *EventStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Pending:   snapshot(s.pending),
		Completed: snapshot(s.completed),
		Version:   s.version,
	}
	if s.active != nil {
		active := *s.active
		snap.Active = &active
	}
	return snap
}

// ClearPending drops every pending event. The active event is unaffected.
func (s *EventStore) ClearPending() {
	s.mu.Lock()
	s.pending = nil
	s.signalLocked()
	s.mu.Unlock()

	s.notify()
}

// ClearCompleted drops every completed event. The active event is unaffected.
func (s *EventStore) ClearCompleted() {
	s.mu.Lock()
	s.completed = nil
	s.signalLocked()
	s.mu.Unlock()

	s.notify()
}

// Delete removes the event from the completed list, or failing that from the
// pending queue. The active event can only leave through ActivateNext, so a
// matching active id is left alone. Listeners fire whether or not anything
// was removed.
func (s *EventStore) Delete(id string) bool {
	s.mu.Lock()
	var removed bool
	s.completed, removed = without(s.completed, id)
	if !removed {
		s.pending, removed = without(s.pending, id)
	}
	s.signalLocked()
	s.mu.Unlock()

	s.notify()
	return removed
}

// Subscribe registers fn to run after every mutation. Call the returned
// function to unregister.
func (s *EventStore) Subscribe(fn func()) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Changed returns a channel that is closed on the next mutation.
func (s *EventStore) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// CheckInvariants verifies the partition invariants. A non-nil result means
// the store itself is broken.
func (s *EventStore) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]string)
	mark := func(ev *model.Event, where string) error {
		if prev, ok := seen[ev.ID]; ok {
			return fmt.Errorf("event %s present in both %s and %s", ev.ID, prev, where)
		}
		seen[ev.ID] = where
		return nil
	}

	if s.active != nil {
		if s.active.Status != model.StatusExecuting && !s.active.Status.Terminal() {
			return fmt.Errorf("active event %s has status %s", s.active.ID, s.active.Status)
		}
		if err := mark(s.active, "active"); err != nil {
			return err
		}
	}
	for _, ev := range s.pending {
		if ev.Status == model.StatusExecuting {
			return fmt.Errorf("pending event %s is executing", ev.ID)
		}
		if err := mark(ev, "pending"); err != nil {
			return err
		}
	}
	for _, ev := range s.completed {
		if ev.Status == model.StatusQueued {
			return fmt.Errorf("completed event %s was never activated", ev.ID)
		}
		if err := mark(ev, "completed"); err != nil {
			return err
		}
	}
	return nil
}

// signalLocked wakes long-poll waiters and bumps the version. Must be called
// with s.mu held.
func (s *EventStore) signalLocked() {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *EventStore) notify() {
	s.listenersMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func snapshot(events []*model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		out[i] = *ev
	}
	return out
}

func without(events []*model.Event, id string) ([]*model.Event, bool) {
	for i, ev := range events {
		if ev.ID == id {
			return append(events[:i:i], events[i+1:]...), true
		}
	}
	return events, false
}
