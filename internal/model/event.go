package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultFunctionARN is the synthetic function identity stamped on every event
// when the store is not configured with another one.
const DefaultFunctionARN = "arn:aws:lambda:us-west-2:123412341234:function:Function"

// ErrInvalidTransition is returned when a status change would move an event
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the lifecycle state of an invocation event.
type Status int

const (
	StatusQueued Status = iota
	StatusExecuting
	StatusSuccess
	StatusFailure
)

var statusNames = [...]string{
	StatusQueued:    "Queued",
	StatusExecuting: "Executing",
	StatusSuccess:   "Success",
	StatusFailure:   "Failure",
}

func (s Status) String() string {
	if s < StatusQueued || s > StatusFailure {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// IsValid reports whether s is one of the four known states.
func (s Status) IsValid() bool {
	return s >= StatusQueued && s <= StatusFailure
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("marshaling status: %s", s)
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event is one synthetic invocation held by the store.
//
// Only the store mutates an Event, and it does so through Activate, Succeed
// and Fail so that every change refreshes LastUpdated and respects the
// forward-only lifecycle. Callers outside the store only ever see copies.
type Event struct {
	ID          string    `json:"aws_request_id"`
	Payload     string    `json:"event_json"`
	Status      Status    `json:"status"`
	Response    string    `json:"response,omitempty"`
	ErrorType   string    `json:"error_type,omitempty"`
	ErrorBody   string    `json:"error_response,omitempty"`
	FunctionARN string    `json:"function_arn"`
	LastUpdated time.Time `json:"last_updated"`
}

// FormatID renders a counter value as a 12-digit zero-padded request id.
func FormatID(n uint64) string {
	return fmt.Sprintf("%012d", n)
}

// NewEvent builds a Queued event.
func NewEvent(seq uint64, payload, functionARN string, now time.Time) *Event {
	return &Event{
		ID:          FormatID(seq),
		Payload:     payload,
		Status:      StatusQueued,
		FunctionARN: functionARN,
		LastUpdated: now,
	}
}

// Activate moves a Queued event to Executing.
func (e *Event) Activate(now time.Time) error {
	if e.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusExecuting)
	}
	e.Status = StatusExecuting
	e.LastUpdated = now
	return nil
}

// Succeed records a successful outcome. A late report may reach an event
// that is still Queued, so both non-terminal states are accepted.
func (e *Event) Succeed(response string, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusSuccess)
	}
	e.Response = response
	e.Status = StatusSuccess
	e.LastUpdated = now
	return nil
}

// Fail records an error outcome.
func (e *Event) Fail(errorType, errorBody string, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusFailure)
	}
	e.ErrorType = errorType
	e.ErrorBody = errorBody
	e.Status = StatusFailure
	e.LastUpdated = now
	return nil
}

// Abandoned reports whether the event left the active slot without a result.
// Only meaningful for events in the completed partition.
func (e Event) Abandoned() bool {
	return e.Status == StatusExecuting
}
