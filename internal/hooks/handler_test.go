package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// execCall is one recorded hook invocation.
type execCall struct {
	command string
	stdin   string
	env     map[string]string
}

// recordingExec replaces Execute in handler tests.
type recordingExec struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (r *recordingExec) run(_ context.Context, command string, _ time.Duration, stdin string, env map[string]string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, execCall{command, stdin, env})
	return Result{Err: r.err}
}

func (r *recordingExec) snapshot() []execCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execCall(nil), r.calls...)
}

func newTestHandler(cfg Config) (*Handler, *recordingExec) {
	h := NewHandler(cfg, discardLogger())
	rec := &recordingExec{}
	h.exec = rec.run
	return h, rec
}

func TestConfig_Enabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(Config{OnFailure: "x"}).Enabled() {
		t.Error("config with a failure hook should be enabled")
	}
}

func TestHandleFinished(t *testing.T) {
	cfg := Config{OnSuccess: "on-success", OnFailure: "on-failure"}

	for _, tc := range []struct {
		name        string
		ev          model.Event
		cfg         Config
		wantRun     bool
		wantCommand string
		wantStdin   string
	}{
		{
			name:        "Success",
			ev:          model.Event{ID: "000000000001", Status: model.StatusSuccess, Response: "ok", Payload: "{}"},
			cfg:         cfg,
			wantRun:     true,
			wantCommand: "on-success",
			wantStdin:   "ok",
		},
		{
			name:        "Failure",
			ev:          model.Event{ID: "000000000002", Status: model.StatusFailure, ErrorType: "T", ErrorBody: "boom"},
			cfg:         cfg,
			wantRun:     true,
			wantCommand: "on-failure",
			wantStdin:   "boom",
		},
		{
			name: "NotTerminal",
			ev:   model.Event{ID: "000000000003", Status: model.StatusExecuting},
			cfg:  cfg,
		},
		{
			name: "NoCommandForOutcome",
			ev:   model.Event{ID: "000000000004", Status: model.StatusFailure},
			cfg:  Config{OnSuccess: "on-success"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, rec := newTestHandler(tc.cfg)
			_, ran := h.HandleFinished(context.Background(), tc.ev)
			if ran != tc.wantRun {
				t.Fatalf("ran = %v, want %v", ran, tc.wantRun)
			}
			calls := rec.snapshot()
			if !tc.wantRun {
				if len(calls) != 0 {
					t.Fatalf("unexpected calls: %+v", calls)
				}
				return
			}
			if len(calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(calls))
			}
			c := calls[0]
			if c.command != tc.wantCommand || c.stdin != tc.wantStdin {
				t.Errorf("call = %q stdin %q", c.command, c.stdin)
			}
			if c.env["LAMBDAQ_REQUEST_ID"] != tc.ev.ID || c.env["LAMBDAQ_STATUS"] != tc.ev.Status.String() {
				t.Errorf("env = %v", c.env)
			}
			if _, ok := c.env["LAMBDAQ_ERROR_TYPE"]; ok != (tc.ev.ErrorType != "") {
				t.Errorf("LAMBDAQ_ERROR_TYPE presence = %v", ok)
			}
		})
	}
}

func TestHandleFinished_CommandErrorIsReported(t *testing.T) {
	h, rec := newTestHandler(Config{OnSuccess: "x"})
	rec.err = errors.New("exit status 1")
	res, ran := h.HandleFinished(context.Background(), model.Event{ID: "000000000001", Status: model.StatusSuccess})
	if !ran || res.Err == nil {
		t.Fatalf("ran = %v, err = %v", ran, res.Err)
	}
}

// chanSubscriber feeds messages from a channel.
type chanSubscriber struct {
	ch       chan events.Message
	topic    string
	canceled bool
	err      error
}

func (s *chanSubscriber) Subscribe(topic string) (<-chan events.Message, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.topic = topic
	return s.ch, func() { s.canceled = true }, nil
}

func (s *chanSubscriber) Close() error { return nil }

func message(t *testing.T, topic string, v any) events.Message {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.Message{Topic: topic, Data: data}
}

func TestStartSubscriber(t *testing.T) {
	h, rec := newTestHandler(Config{OnSuccess: "s", OnFailure: "f"})
	sub := &chanSubscriber{ch: make(chan events.Message, 8)}

	sub.ch <- message(t, events.TopicInvocationQueued, events.InvocationQueued{Event: &model.Event{ID: "000000000001"}})
	sub.ch <- events.Message{Topic: events.TopicInvocationFailed, Data: []byte("not json")}
	sub.ch <- message(t, events.TopicInvocationSucceeded, events.InvocationSucceeded{
		Event: &model.Event{ID: "000000000001", Status: model.StatusSuccess, Response: "ok"},
	})
	sub.ch <- message(t, events.TopicInvocationFailed, events.InvocationFailed{
		Event: &model.Event{ID: "000000000002", Status: model.StatusFailure, ErrorBody: "e"},
	})
	close(sub.ch)

	if err := h.StartSubscriber(context.Background(), sub); err != nil {
		t.Fatalf("StartSubscriber: %v", err)
	}
	if sub.topic != events.TopicInvocationAll || !sub.canceled {
		t.Errorf("topic = %q, canceled = %v", sub.topic, sub.canceled)
	}

	calls := rec.snapshot()
	if len(calls) != 2 || calls[0].command != "s" || calls[1].command != "f" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestStartSubscriber_StopsOnCancel(t *testing.T) {
	h, _ := newTestHandler(Config{OnSuccess: "s"})
	sub := &chanSubscriber{ch: make(chan events.Message)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.StartSubscriber(ctx, sub) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartSubscriber: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestStartSubscriber_SubscribeError(t *testing.T) {
	h, _ := newTestHandler(Config{OnSuccess: "s"})
	if err := h.StartSubscriber(context.Background(), &chanSubscriber{err: errors.New("down")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecute(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	res := Execute(context.Background(),
		`printf '%s %s ' "$LAMBDAQ_REQUEST_ID" "$LAMBDAQ_STATUS" > "$OUT"; cat >> "$OUT"; echo done`,
		time.Second, "response-body",
		map[string]string{"LAMBDAQ_REQUEST_ID": "000000000001", "LAMBDAQ_STATUS": "Success", "OUT": out},
	)
	if res.Err != nil {
		t.Fatalf("Execute: %v (output %q)", res.Err, res.Output)
	}
	if res.Output != "done" {
		t.Errorf("output = %q", res.Output)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "000000000001 Success response-body" {
		t.Errorf("file = %q", data)
	}
}

func TestExecute_Failures(t *testing.T) {
	res := Execute(context.Background(), "echo oops >&2; exit 3", time.Second, "", nil)
	if res.Err == nil || res.Output != "oops" {
		t.Errorf("exit: err = %v, output = %q", res.Err, res.Output)
	}

	start := time.Now()
	res = Execute(context.Background(), "sleep 5", 50*time.Millisecond, "", nil)
	if res.Err == nil {
		t.Error("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced: took %v", time.Since(start))
	}
}

func TestStartSubscriber_SlowHookDoesNotStallSubscription(t *testing.T) {
	h, rec := newTestHandler(Config{OnSuccess: "s"})
	release := make(chan struct{})
	h.exec = func(ctx context.Context, command string, timeout time.Duration, stdin string, env map[string]string) Result {
		<-release
		return rec.run(ctx, command, timeout, stdin, env)
	}
	sub := &chanSubscriber{ch: make(chan events.Message)}

	done := make(chan error, 1)
	go func() { done <- h.StartSubscriber(context.Background(), sub) }()

	for i := range 3 {
		msg := message(t, events.TopicInvocationSucceeded, events.InvocationSucceeded{
			Event: &model.Event{ID: model.FormatID(uint64(i + 1)), Status: model.StatusSuccess},
		})
		select {
		case sub.ch <- msg:
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not taken while a hook was running", i+1)
		}
	}
	close(release)
	close(sub.ch)

	if err := <-done; err != nil {
		t.Fatalf("StartSubscriber: %v", err)
	}
	if calls := rec.snapshot(); len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
}
