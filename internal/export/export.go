package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/store"
)

// Source is the read side of the event store. Snapshot must copy every
// partition atomically.
type Source interface {
	Snapshot() store.Snapshot
}

// header is the first JSONL record written by WriteJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	PendingCount   int       `json:"pending_count"`
	CompletedCount int       `json:"completed_count"`
	HasActive      bool      `json:"has_active"`
}

// record wraps a single JSONL line with its partition.
type record struct {
	Type  string       `json:"type"`
	Event *model.Event `json:"event"`
}

// WriteJSONL writes a snapshot of the store as JSONL to w: a header line,
// then completed events, the active event, and pending events in queue order.
func WriteJSONL(src Source, w io.Writer, now time.Time) error {
	snap := src.Snapshot()
	completed, active, pending := snap.Completed, snap.Active, snap.Pending
	hasActive := active != nil

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        "1",
		Type:           "header",
		Timestamp:      now.UTC(),
		PendingCount:   len(pending),
		CompletedCount: len(completed),
		HasActive:      hasActive,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for i := range completed {
		if err := enc.Encode(record{Type: "completed", Event: &completed[i]}); err != nil {
			return fmt.Errorf("encode completed %s: %w", completed[i].ID, err)
		}
	}
	if hasActive {
		if err := enc.Encode(record{Type: "active", Event: active}); err != nil {
			return fmt.Errorf("encode active %s: %w", active.ID, err)
		}
	}
	for i := range pending {
		if err := enc.Encode(record{Type: "pending", Event: &pending[i]}); err != nil {
			return fmt.Errorf("encode pending %s: %w", pending[i].ID, err)
		}
	}

	return nil
}
