// Package export periodically writes JSONL snapshots of the event store to
// external destinations such as S3 or a git repository.
package export

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Destination is the interface for an export target.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Watched is implemented by sources that can report mutations. The returned
// channel is closed on the next change.
type Watched interface {
	Changed() <-chan struct{}
}

// Scheduler runs periodic exports to one or more destinations. When the
// source implements Watched, ticks with no intervening change are skipped.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	seen    <-chan struct{} // Changed() as of the last export
	exports int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations at the specified interval.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start exports once immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the loop, waits for it, and flushes any change made since the
// last export.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.dirty() {
		s.ExportOnce(ctx)
	}
}

// Exports reports how many snapshots have been written.
func (s *Scheduler) Exports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports
}

func (s *Scheduler) run(ctx context.Context) {
	s.ExportOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.dirty() {
				s.ExportOnce(ctx)
			}
		}
	}
}

// dirty reports whether the source changed since the last export. Sources
// that cannot report changes are always dirty.
func (s *Scheduler) dirty() bool {
	if _, ok := s.src.(Watched); !ok {
		return true
	}
	s.mu.Lock()
	seen := s.seen
	s.mu.Unlock()
	if seen == nil {
		return true
	}
	select {
	case <-seen:
		return true
	default:
		return false
	}
}

// ExportOnce writes one snapshot to every destination. A failing destination
// is logged and does not stop the others.
func (s *Scheduler) ExportOnce(ctx context.Context) {
	var seen <-chan struct{}
	if w, ok := s.src.(Watched); ok {
		seen = w.Changed()
	}

	var buf bytes.Buffer
	if err := WriteJSONL(s.src, &buf, time.Now()); err != nil {
		s.logger.Error("export snapshot failed", "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("export destination write failed", "destination", dest.Name(), "err", err)
		}
	}

	s.mu.Lock()
	s.seen = seen
	s.exports++
	s.mu.Unlock()

	s.logger.Info("export completed", "destinations", len(s.destinations), "failed", failed, "bytes", len(data))
}
