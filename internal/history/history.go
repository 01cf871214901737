// Package history defines the append-only audit trail of invocation
// outcomes. It is never read back into the queue.
package history

import (
	"context"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// Record is one finished invocation as written to the trail.
type Record struct {
	SessionID   string       `json:"session_id"`
	RequestID   string       `json:"aws_request_id"`
	Status      model.Status `json:"status"`
	Payload     string       `json:"event_json"`
	Response    string       `json:"response,omitempty"`
	ErrorType   string       `json:"error_type,omitempty"`
	ErrorBody   string       `json:"error_response,omitempty"`
	FunctionARN string       `json:"function_arn"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// FromEvent builds a Record for the given session.
func FromEvent(sessionID string, ev model.Event) *Record {
	return &Record{
		SessionID:   sessionID,
		RequestID:   ev.ID,
		Status:      ev.Status,
		Payload:     ev.Payload,
		Response:    ev.Response,
		ErrorType:   ev.ErrorType,
		ErrorBody:   ev.ErrorBody,
		FunctionARN: ev.FunctionARN,
		FinishedAt:  ev.LastUpdated,
	}
}

// Recorder persists finished invocations.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
	// List returns the most recent records first. limit <= 0 means no limit.
	List(ctx context.Context, sessionID string, limit int) ([]*Record, error)
	Close() error
}

// NoopRecorder discards everything (used when no database is configured).
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, *Record) error { return nil }

func (NoopRecorder) List(context.Context, string, int) ([]*Record, error) { return nil, nil }

func (NoopRecorder) Close() error { return nil }
