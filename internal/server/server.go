package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/history"
	"github.com/alfredjeanlab/lambdaq/internal/idgen"
	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/presence"
	"github.com/alfredjeanlab/lambdaq/internal/store"
)

// Option configures a RuntimeServer.
type Option func(*RuntimeServer)

// WithRecorder sets the history recorder for finished invocations.
func WithRecorder(r history.Recorder) Option {
	return func(s *RuntimeServer) { s.recorder = r }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *RuntimeServer) { s.sessionID = id }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *RuntimeServer) { s.logger = l }
}

// WithInvocationTimeout sets the deadline advertised to the runtime.
func WithInvocationTimeout(d time.Duration) Option {
	return func(s *RuntimeServer) { s.invocationTimeout = d }
}

// WithPresence sets the tracker that records runtime clients. The caller
// owns its reaper.
func WithPresence(t *presence.Tracker) Option {
	return func(s *RuntimeServer) { s.presence = t }
}

// WithPollTimeout bounds how long GET .../invocation/next blocks. Zero waits
// until the client goes away.
func WithPollTimeout(d time.Duration) Option {
	return func(s *RuntimeServer) { s.pollTimeout = d }
}

// RuntimeServer exposes an EventStore over the Lambda runtime API, the
// management API, SSE and gRPC, and mirrors every change to the event bus
// and the history trail.
type RuntimeServer struct {
	store     *store.EventStore
	publisher events.Publisher
	recorder  history.Recorder
	presence  *presence.Tracker
	sseHub    *sseHub
	logger    *slog.Logger

	sessionID         string
	invocationTimeout time.Duration
	pollTimeout       time.Duration

	unsubscribe func()

	// State broadcasts are coalesced so that the newest summary always goes
	// out last, even when mutations race.
	stateMu         sync.Mutex
	stateLatest     store.Summary
	statePublished  uint64
	statePublishing bool
}

// NewRuntimeServer returns a server backed by the given store and publisher.
// It starts broadcasting state changes immediately; call Close to stop.
func NewRuntimeServer(st *store.EventStore, p events.Publisher, opts ...Option) *RuntimeServer {
	s := &RuntimeServer{
		store:             st,
		publisher:         p,
		recorder:          history.NoopRecorder{},
		sseHub:            newSSEHub(sseRingBufferSize),
		logger:            slog.Default(),
		invocationTimeout: 15 * time.Minute,
		pollTimeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.presence == nil {
		s.presence = presence.New(presence.WithLogger(s.logger))
	}
	if s.sessionID == "" {
		id, err := idgen.SessionID()
		if err != nil {
			s.logger.Warn("failed to generate session id", "error", err)
			id = "local"
		}
		s.sessionID = id
	}
	s.unsubscribe = st.Subscribe(s.onStateChange)
	return s
}

// SessionID identifies this server process in the history trail.
func (s *RuntimeServer) SessionID() string { return s.sessionID }

// Close stops state-change broadcasting. The store, publisher and recorder
// belong to the caller.
func (s *RuntimeServer) Close() {
	s.unsubscribe()
}

// RuntimeLost publishes that a runtime client stopped calling in. It is
// meant as the presence reaper's OnLost hook.
func (s *RuntimeServer) RuntimeLost(e presence.Entry) {
	s.publish(context.Background(), events.TopicRuntimeLost, events.RuntimeLost{
		Client:        e.Client,
		LastCall:      e.LastCall,
		LastRequestID: e.LastRequestID,
		LastSeen:      e.LastSeen,
	})
}

// onStateChange runs after every store mutation. Whichever caller is already
// publishing keeps draining until the newest summary has gone out; the others
// leave their summary behind and return.
func (s *RuntimeServer) onStateChange() {
	sum := s.store.Summary()

	s.stateMu.Lock()
	if sum.Version > s.stateLatest.Version {
		s.stateLatest = sum
	}
	if s.statePublishing {
		s.stateMu.Unlock()
		return
	}
	s.statePublishing = true
	for s.stateLatest.Version > s.statePublished {
		cur := s.stateLatest
		s.statePublished = cur.Version
		s.stateMu.Unlock()

		s.publish(context.Background(), events.TopicStateChanged, events.StateChanged{
			Pending:   cur.Pending,
			Completed: cur.Completed,
			ActiveID:  cur.ActiveID,
		})

		s.stateMu.Lock()
	}
	s.statePublishing = false
	s.stateMu.Unlock()
}

// publish sends an event to the bus and to SSE clients. Failures are logged
// and never reach the caller.
func (s *RuntimeServer) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}

// enqueue adds a payload to the pending queue.
func (s *RuntimeServer) enqueue(ctx context.Context, payload string) model.Event {
	ev := s.store.Enqueue(payload)
	s.publish(ctx, events.TopicInvocationQueued, events.InvocationQueued{Event: &ev})
	return ev
}

// next activates the oldest pending event, waiting up to wait for one to
// arrive. wait <= 0 means wait until ctx is done. ok is false when the wait
// ended with nothing to hand out.
func (s *RuntimeServer) next(ctx context.Context, wait time.Duration) (model.Event, bool) {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	ev, err := s.store.WaitNext(ctx)
	if err != nil {
		return model.Event{}, false
	}
	s.publish(context.WithoutCancel(ctx), events.TopicInvocationActivated, events.InvocationActivated{Event: &ev})
	return ev, true
}

// tryNext activates the oldest pending event without waiting.
func (s *RuntimeServer) tryNext(ctx context.Context) (model.Event, bool) {
	ev, ok := s.store.ActivateNext()
	if ok {
		s.publish(ctx, events.TopicInvocationActivated, events.InvocationActivated{Event: &ev})
	}
	return ev, ok
}

// reportSuccess applies a success result and returns the updated event.
func (s *RuntimeServer) reportSuccess(ctx context.Context, id, response string) (model.Event, bool) {
	if !s.store.ReportSuccess(id, response) {
		return model.Event{}, false
	}
	ev, _ := s.store.Get(id)
	s.publish(ctx, events.TopicInvocationSucceeded, events.InvocationSucceeded{Event: &ev})
	s.record(ctx, ev)
	return ev, true
}

// reportError applies a failure result and returns the updated event.
func (s *RuntimeServer) reportError(ctx context.Context, id, errorType, errorBody string) (model.Event, bool) {
	if !s.store.ReportError(id, errorType, errorBody) {
		return model.Event{}, false
	}
	ev, _ := s.store.Get(id)
	s.publish(ctx, events.TopicInvocationFailed, events.InvocationFailed{Event: &ev})
	s.record(ctx, ev)
	return ev, true
}

// record writes a finished event to the history trail. The event may have
// been deleted between the report and the lookup, in which case there is
// nothing left to record.
func (s *RuntimeServer) record(ctx context.Context, ev model.Event) {
	if ev.ID == "" {
		return
	}
	if err := s.recorder.Record(ctx, history.FromEvent(s.sessionID, ev)); err != nil {
		s.logger.Warn("failed to record invocation", "id", ev.ID, "error", err)
	}
}

func (s *RuntimeServer) deleteEvent(ctx context.Context, id string) bool {
	removed := s.store.Delete(id)
	s.publish(ctx, events.TopicInvocationDeleted, events.InvocationDeleted{ID: id, Removed: removed})
	return removed
}

func (s *RuntimeServer) clearPending(ctx context.Context) {
	s.store.ClearPending()
	s.publish(ctx, events.TopicQueueCleared, events.QueueCleared{Partition: "pending"})
}

func (s *RuntimeServer) clearCompleted(ctx context.Context) {
	s.store.ClearCompleted()
	s.publish(ctx, events.TopicQueueCleared, events.QueueCleared{Partition: "completed"})
}

// invocationHeaders builds the runtime API headers for a handed-out event.
func (s *RuntimeServer) invocationHeaders(ev model.Event, now time.Time) map[string]string {
	h := map[string]string{
		headerRequestID:   ev.ID,
		headerDeadlineMs:  formatDeadline(now.Add(s.invocationTimeout)),
		headerFunctionARN: ev.FunctionARN,
	}
	if trace, err := idgen.TraceID(now); err != nil {
		s.logger.Warn("failed to generate trace id", "id", ev.ID, "error", err)
	} else {
		h[headerTraceID] = trace
	}
	return h
}
