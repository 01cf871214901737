// Package presence keeps a roster of the Lambda runtime clients talking to
// the runtime API.
//
// The server records every runtime call (poll for work, report a result,
// report an init failure) keyed by the client's identity. A background
// reaper marks clients that have gone quiet as lost, so the CLI can tell a
// function that is busy from one whose process has exited.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Runtime call kinds recorded by the server.
const (
	CallNext      = "next"
	CallResponse  = "response"
	CallError     = "error"
	CallInitError = "init_error"
)

// Entry is one runtime client's state as returned by Roster.
type Entry struct {
	Client        string    `json:"client"`
	UserAgent     string    `json:"user_agent,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	LastCall      string    `json:"last_call"`
	LastRequestID string    `json:"last_request_id,omitempty"`
	IdleSecs      float64   `json:"idle_secs"`
	Calls         int64     `json:"calls"`
	Waiting       int       `json:"waiting,omitempty"`
	Lost          bool      `json:"lost,omitempty"`
	LostAt        time.Time `json:"lost_at,omitzero"`
}

// Call describes one runtime API request.
type Call struct {
	Client    string // remote host, or the value of a client-chosen id
	UserAgent string
	Kind      string // one of the Call* constants
	RequestID string // invocation the call concerned, if any
}

// ReaperConfig configures the background sweeper.
type ReaperConfig struct {
	// LostAfter is how long a client may stay silent before it is marked
	// lost. Default: 2 minutes.
	LostAfter time.Duration

	// EvictAfter is how long a lost client stays in the roster.
	// Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 15 seconds.
	SweepInterval time.Duration

	// OnLost is called for each client newly marked lost, outside the lock.
	OnLost func(e Entry)
}

// Tracker is the in-memory roster of runtime clients.
type Tracker struct {
	mu      sync.RWMutex
	clients map[string]*clientState
	now     func() time.Time
	logger  *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type clientState struct {
	userAgent     string
	firstSeen     time.Time
	lastSeen      time.Time
	lastCall      string
	lastRequestID string
	calls         int64
	waiting       int // open long polls
	lost          bool
	lostAt        time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		clients: make(map[string]*clientState),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Record notes a runtime call. Calls without a client id are ignored.
func (t *Tracker) Record(c Call) {
	if c.Client == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(c)
}

// Poll records a long poll that stays open until the returned function is
// called. A client with an open poll is never marked lost, however long the
// poll lasts.
func (t *Tracker) Poll(c Call) (done func()) {
	if c.Client == "" {
		return func() {}
	}
	t.mu.Lock()
	t.recordLocked(c).waiting++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if state, ok := t.clients[c.Client]; ok && state.waiting > 0 {
				state.waiting--
				state.lastSeen = t.now()
			}
		})
	}
}

func (t *Tracker) recordLocked(c Call) *clientState {
	now := t.now()
	state, ok := t.clients[c.Client]
	if !ok {
		state = &clientState{firstSeen: now}
		t.clients[c.Client] = state
	}
	if state.lost {
		t.logger.Info("presence: runtime client returned", "client", c.Client)
		state.lost = false
		state.lostAt = time.Time{}
	}

	state.lastSeen = now
	state.lastCall = c.Kind
	state.calls++
	if c.UserAgent != "" {
		state.userAgent = c.UserAgent
	}
	if c.RequestID != "" {
		state.lastRequestID = c.RequestID
	}
	return state
}

// Roster returns all tracked clients, most recently seen first. Clients
// idle for longer than staleThreshold are left out; 0 includes everything.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.clients))
	for id, state := range t.clients {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold && state.waiting == 0 {
			continue
		}
		entries = append(entries, state.entry(id, idle))
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Client < entries[j].Client
	})
	return entries
}

func (s *clientState) entry(id string, idle time.Duration) Entry {
	return Entry{
		Client:        id,
		UserAgent:     s.userAgent,
		FirstSeen:     s.firstSeen,
		LastSeen:      s.lastSeen,
		LastCall:      s.lastCall,
		LastRequestID: s.lastRequestID,
		IdleSecs:      idle.Seconds(),
		Calls:         s.calls,
		Waiting:       s.waiting,
		Lost:          s.lost,
		LostAt:        s.lostAt,
	}
}

// StartReaper launches the background sweeper. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg ReaperConfig) {
	if cfg.LostAfter <= 0 {
		cfg.LostAfter = 2 * time.Minute
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})
	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"lost_after", cfg.LostAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper, if running.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

// sweep marks silent clients lost and evicts long-lost ones. Clients blocked
// in a poll are not silent.
func (t *Tracker) sweep(cfg ReaperConfig) {
	now := t.now()
	var newlyLost []Entry

	t.mu.Lock()
	for id, state := range t.clients {
		if state.lost {
			if now.Sub(state.lostAt) > cfg.EvictAfter {
				delete(t.clients, id)
			}
			continue
		}
		if state.waiting > 0 {
			continue
		}
		idle := now.Sub(state.lastSeen)
		if idle > cfg.LostAfter {
			state.lost = true
			state.lostAt = now
			newlyLost = append(newlyLost, state.entry(id, idle))
		}
	}
	t.mu.Unlock()

	for _, e := range newlyLost {
		t.logger.Info("presence: runtime client lost",
			"client", e.Client,
			"last_call", e.LastCall,
			"idle", time.Duration(e.IdleSecs*float64(time.Second)).Round(time.Second))
		if cfg.OnLost != nil {
			cfg.OnLost(e)
		}
	}
}
