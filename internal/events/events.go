package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// Event topic constants
const (
	// TopicStateChanged fires after every store mutation. UIs refresh on it.
	TopicStateChanged = "lambdaq.state.changed"

	TopicInvocationQueued    = "lambdaq.invocation.queued"
	TopicInvocationActivated = "lambdaq.invocation.activated"
	TopicInvocationSucceeded = "lambdaq.invocation.succeeded"
	TopicInvocationFailed    = "lambdaq.invocation.failed"
	TopicInvocationDeleted   = "lambdaq.invocation.deleted"

	TopicQueueCleared = "lambdaq.queue.cleared"

	// TopicRuntimeLost fires when a runtime client stops polling.
	TopicRuntimeLost = "lambdaq.runtime.lost"

	// TopicAll matches every lambdaq topic (NATS wildcard).
	TopicAll = "lambdaq.>"

	// TopicInvocationAll matches every lambdaq.invocation.* topic.
	TopicInvocationAll = "lambdaq.invocation.*"
)

// Event types

type StateChanged struct {
	Pending   int    `json:"pending"`
	Completed int    `json:"completed"`
	ActiveID  string `json:"active,omitempty"`
}

type InvocationQueued struct {
	Event *model.Event `json:"event"`
}

type InvocationActivated struct {
	Event *model.Event `json:"event"`
}

type InvocationSucceeded struct {
	Event *model.Event `json:"event"`
}

type InvocationFailed struct {
	Event *model.Event `json:"event"`
}

type InvocationDeleted struct {
	ID      string `json:"aws_request_id"`
	Removed bool   `json:"removed"`
}

type QueueCleared struct {
	Partition string `json:"partition"` // "pending" or "completed"
}

type RuntimeLost struct {
	Client        string    `json:"client"`
	LastCall      string    `json:"last_call"`
	LastRequestID string    `json:"last_request_id,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
