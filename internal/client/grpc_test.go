package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/server"
	"github.com/alfredjeanlab/lambdaq/internal/store"
)

func newBufconnClient(t *testing.T) (*GRPCClient, *store.EventStore) {
	t.Helper()
	st := store.New()
	rs := server.NewRuntimeServer(st, &events.NoopPublisher{},
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(rs.Close)

	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer(rs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewGRPCClientConn(conn), st
}

func TestGRPCClient_Lifecycle(t *testing.T) {
	c, st := newBufconnClient(t)
	ctx := context.Background()

	a, err := c.Enqueue(ctx, `{"a":1}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	b, err := c.Enqueue(ctx, `{"b":1}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	next, err := c.Next(ctx)
	if err != nil || next.ID != a.ID || next.Status != model.StatusExecuting {
		t.Fatalf("Next = %+v, %v", next, err)
	}
	if err := c.ReportError(ctx, a.ID, "Runtime.Crash", `{"errorMessage":"x"}`); err != nil {
		t.Fatalf("ReportError: %v", err)
	}
	if _, err := c.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := c.ReportSuccess(ctx, b.ID, "ok"); err != nil {
		t.Fatalf("ReportSuccess: %v", err)
	}

	completed, err := c.ListCompleted(ctx)
	if err != nil || len(completed) != 1 {
		t.Fatalf("ListCompleted = %v, %v", completed, err)
	}
	if completed[0].ID != a.ID || completed[0].Status != model.StatusFailure || completed[0].ErrorType != "Runtime.Crash" {
		t.Fatalf("completed[0] = %+v", completed[0])
	}

	if _, err := c.Next(ctx); !errors.Is(err, ErrNoEvent) {
		t.Fatalf("Next on empty = %v, want ErrNoEvent", err)
	}
	if active, _ := st.Active(); active.Status != model.StatusSuccess {
		t.Fatalf("active = %+v", active)
	}
}

func TestGRPCClient_ListAndClear(t *testing.T) {
	c, _ := newBufconnClient(t)
	ctx := context.Background()

	for range 3 {
		if _, err := c.Enqueue(ctx, "{}"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := c.Delete(ctx, "000000000002"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	pending, err := c.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "000000000001" || pending[1].ID != "000000000003" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := c.ClearPending(ctx); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	if err := c.ClearCompleted(ctx); err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if pending, _ := c.ListPending(ctx); len(pending) != 0 {
		t.Fatalf("pending after clear = %+v", pending)
	}
}

func TestGRPCClient_ReportUnknown(t *testing.T) {
	c, _ := newBufconnClient(t)
	err := c.ReportSuccess(context.Background(), "000000000077", "x")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("ReportSuccess unknown = %v, want NotFound", err)
	}
}

func TestGRPCClient_Health(t *testing.T) {
	c, _ := newBufconnClient(t)
	got, err := c.Health(context.Background())
	if err != nil || got != "ok" {
		t.Fatalf("Health = %q, %v", got, err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on borrowed conn: %v", err)
	}
}
