// Package client provides a transport-agnostic interface to a lambdaq
// server, with HTTP and gRPC implementations.
package client

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// ErrNoEvent is returned by Next when nothing is pending.
var ErrNoEvent = errors.New("no pending events")

// QueueClient is what the CLI uses to drive a lambdaq server.
type QueueClient interface {
	Enqueue(ctx context.Context, payload string) (*model.Event, error)
	// Next activates the oldest pending event. The returned event carries at
	// least its id, payload and function ARN.
	Next(ctx context.Context) (*model.Event, error)
	ReportSuccess(ctx context.Context, id, response string) error
	ReportError(ctx context.Context, id, errorType, errorBody string) error

	ListPending(ctx context.Context) ([]model.Event, error)
	ListCompleted(ctx context.Context) ([]model.Event, error)

	Delete(ctx context.Context, id string) error
	ClearPending(ctx context.Context) error
	ClearCompleted(ctx context.Context) error

	Health(ctx context.Context) (string, error)
	Close() error
}
