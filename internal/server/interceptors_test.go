package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

func panicHandler(_ context.Context, _ any) (any, error) {
	panic("boom")
}

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/lambdaq.v1.RuntimeService/Next"}

func TestRecoveryInterceptor(t *testing.T) {
	var buf bytes.Buffer
	interceptor := RecoveryInterceptor(slog.New(slog.NewTextHandler(&buf, nil)))

	resp, err := interceptor(context.Background(), nil, testInfo, stubHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("expected pass-through, got %v, %v", resp, err)
	}

	_, err = interceptor(context.Background(), nil, testInfo, panicHandler)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestLoggingInterceptor(t *testing.T) {
	for _, tc := range []struct {
		name    string
		err     error
		wantLvl string
	}{
		{"OK", nil, "level=INFO"},
		{"NotFound", status.Error(codes.NotFound, "empty"), "level=DEBUG"},
		{"Internal", status.Error(codes.Internal, "broken"), "level=ERROR"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			interceptor := LoggingInterceptor(logger)

			_, err := interceptor(context.Background(), nil, testInfo, func(context.Context, any) (any, error) {
				return nil, tc.err
			})
			if err != tc.err {
				t.Fatalf("error not passed through: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tc.wantLvl) || !strings.Contains(out, "/lambdaq.v1.RuntimeService/Next") {
				t.Fatalf("log = %q, want %s", out, tc.wantLvl)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := RecoveryMiddleware(slog.New(slog.NewTextHandler(&buf, nil)), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := LoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/v1/events/1", nil))
	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/v1/events/1") {
		t.Fatalf("log = %q", out)
	}
}

func TestLoggingMiddleware_KeepsFlusher(t *testing.T) {
	var flushed bool
	h := LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("wrapped writer lost http.Flusher")
			return
		}
		f.Flush()
		flushed = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/events/stream", nil))
	if !flushed || !rec.Flushed {
		t.Fatal("flush did not reach the underlying writer")
	}
}
