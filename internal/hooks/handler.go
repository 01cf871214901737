package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// Config names the commands to run per outcome. An empty command disables
// that outcome.
type Config struct {
	OnSuccess string
	OnFailure string
	Timeout   time.Duration
}

// Enabled reports whether any hook is configured.
func (c Config) Enabled() bool {
	return c.OnSuccess != "" || c.OnFailure != ""
}

// Handler runs completion hooks for finished invocations.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	exec   func(ctx context.Context, command string, timeout time.Duration, stdin string, env map[string]string) Result
}

// NewHandler creates a hook handler.
func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	return &Handler{cfg: cfg, logger: logger, exec: Execute}
}

// HandleFinished runs the hook matching ev's outcome. The command gets the
// event's metadata in LAMBDAQ_* variables and the response (or error body)
// on stdin. Events that are not terminal are ignored.
func (h *Handler) HandleFinished(ctx context.Context, ev model.Event) (Result, bool) {
	var command, output string
	switch ev.Status {
	case model.StatusSuccess:
		command, output = h.cfg.OnSuccess, ev.Response
	case model.StatusFailure:
		command, output = h.cfg.OnFailure, ev.ErrorBody
	default:
		return Result{}, false
	}
	if command == "" {
		return Result{}, false
	}

	env := map[string]string{
		"LAMBDAQ_REQUEST_ID":   ev.ID,
		"LAMBDAQ_STATUS":       ev.Status.String(),
		"LAMBDAQ_FUNCTION_ARN": ev.FunctionARN,
		"LAMBDAQ_PAYLOAD":      ev.Payload,
	}
	if ev.ErrorType != "" {
		env["LAMBDAQ_ERROR_TYPE"] = ev.ErrorType
	}

	result := h.exec(ctx, command, h.cfg.Timeout, output, env)
	if result.Err != nil {
		h.logger.Warn("hooks: command failed",
			"id", ev.ID, "status", ev.Status, "err", result.Err, "output", result.Output)
	} else {
		h.logger.Info("hooks: command ran", "id", ev.ID, "status", ev.Status)
	}
	return result, true
}

// queueSize bounds the finished invocations waiting for a hook to run.
const queueSize = 1024

// StartSubscriber listens for finished invocations on the event bus and
// runs matching hooks one at a time on a separate goroutine, so a slow hook
// does not stall the subscription. It blocks until ctx is cancelled or the
// subscription closes, then waits for queued hooks to finish.
func (h *Handler) StartSubscriber(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicInvocationAll)
	if err != nil {
		return fmt.Errorf("hooks: subscribe: %w", err)
	}
	defer cancel()

	queue := make(chan model.Event, queueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range queue {
			if ctx.Err() != nil {
				continue
			}
			h.HandleFinished(ctx, ev)
		}
	}()
	defer wg.Wait()
	defer close(queue)

	h.logger.Info("hooks: subscriber started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hooks: subscriber stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				h.logger.Info("hooks: subscription channel closed")
				return nil
			}
			if msg.Topic != events.TopicInvocationSucceeded && msg.Topic != events.TopicInvocationFailed {
				continue
			}

			var body struct {
				Event *model.Event `json:"event"`
			}
			if err := json.Unmarshal(msg.Data, &body); err != nil || body.Event == nil {
				h.logger.Warn("hooks: bad event payload", "topic", msg.Topic, "err", err)
				continue
			}
			select {
			case queue <- *body.Event:
			default:
				h.logger.Warn("hooks: queue full, skipping hook",
					"id", body.Event.ID, "status", body.Event.Status, "queued", len(queue))
			}
		}
	}
}
