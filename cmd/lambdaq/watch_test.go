package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/client"
	"github.com/alfredjeanlab/lambdaq/internal/events"
)

func TestWatch_Stream(t *testing.T) {
	url, st := newTestServer(t)
	st.Enqueue("{}")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := runCLIContext(t, ctx, "", url, "watch", "--nats-url", "")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, events.TopicStateChanged) || !strings.Contains(out, "pending=1 completed=0 active=-") {
		t.Errorf("watch output = %q", out)
	}
}

func TestDescribeEvent(t *testing.T) {
	for _, tc := range []struct {
		topic string
		data  string
		want  string
	}{
		{events.TopicStateChanged, `{"pending":2,"completed":1,"active":"000000000003"}`, "pending=2 completed=1 active=000000000003"},
		{events.TopicInvocationQueued, `{"event":{"aws_request_id":"000000000004","event_json":"{}","status":"Queued"}}`, "000000000004 Queued {}"},
		{events.TopicInvocationDeleted, `{"aws_request_id":"000000000005","removed":false}`, "000000000005 removed=false"},
		{events.TopicQueueCleared, `{"partition":"pending"}`, "pending"},
		{"lambdaq.other", `raw`, "raw"},
	} {
		t.Run(tc.topic, func(t *testing.T) {
			if got := describeEvent(tc.topic, []byte(tc.data)); got != tc.want {
				t.Errorf("describeEvent = %q, want %q", got, tc.want)
			}
		})
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// sseOnce serves a single event and holds the stream open until the
// connection goes away. Each request's Last-Event-ID is sent on lastIDs.
func sseOnce(id int, pending int, lastIDs chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastIDs <- r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: {\"pending\":%d,\"completed\":0}\n\n", id, events.TopicStateChanged, pending)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
}

func TestWatchStream_SurvivesServerRestart(t *testing.T) {
	oldMin, oldMax := streamRetryMin, streamRetryMax
	streamRetryMin, streamRetryMax = 10*time.Millisecond, 40*time.Millisecond
	t.Cleanup(func() { streamRetryMin, streamRetryMax = oldMin, oldMax })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lastIDs := make(chan string, 4)
	first := &http.Server{Handler: sseOnce(1, 1, lastIDs)}
	go func() { _ = first.Serve(lis) }()

	var out, errOut syncBuffer
	c := &cli{http: client.NewHTTPClient("http://" + addr), out: &out, err: &errOut}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watchStream(ctx, c, nil) }()

	if got := <-lastIDs; got != "" {
		t.Fatalf("first connect sent Last-Event-ID %q", got)
	}
	waitFor(t, "first event", func() bool { return strings.Contains(out.String(), "pending=1") })

	// Take the server down; reconnects are refused for a while.
	_ = first.Close()
	waitFor(t, "refused reconnect", func() bool { return strings.Contains(errOut.String(), "reconnect failed") })
	select {
	case err := <-done:
		t.Fatalf("watchStream returned while the server was down: %v (stderr=%q)", err, errOut.String())
	default:
	}

	lis2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("cannot rebind %s: %v", addr, err)
	}
	second := &http.Server{Handler: sseOnce(2, 5, lastIDs)}
	go func() { _ = second.Serve(lis2) }()
	t.Cleanup(func() { _ = second.Close() })

	select {
	case got := <-lastIDs:
		if got != "1" {
			t.Fatalf("reconnect sent Last-Event-ID %q, want 1", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch never reconnected")
	}
	waitFor(t, "event after restart", func() bool { return strings.Contains(out.String(), "pending=5") })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchStream: %v", err)
	}
}

func TestWatchStream_FirstConnectFails(t *testing.T) {
	var out, errOut bytes.Buffer
	c := &cli{http: client.NewHTTPClient("http://127.0.0.1:1"), out: &out, err: &errOut}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := watchStream(ctx, c, nil); err == nil {
		t.Fatal("expected an error when the server is unreachable")
	}
}
