package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/lambdaq/internal/config"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:          "127.0.0.1:0",
		GRPCAddr:          "127.0.0.1:0",
		FunctionARN:       model.DefaultFunctionARN,
		InvocationTimeout: time.Minute,
		PollTimeout:       20 * time.Millisecond,
	}
}

func TestDaemon_ServesBothTransports(t *testing.T) {
	d, err := startDaemon(context.Background(), testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("startDaemon: %v", err)
	}
	defer d.shutdown()

	httpURL := "http://" + d.httpAddr()
	if out := mustRun(t, httpURL, "--transport", "grpc", "--server", d.grpcAddr(), "enqueue", `{"via":"grpc"}`); !strings.Contains(out, "000000000001") {
		t.Fatalf("grpc enqueue output = %q", out)
	}
	if out := mustRun(t, httpURL, "--transport", "grpc", "--server", d.grpcAddr(), "health"); !strings.Contains(out, "ok") {
		t.Errorf("grpc health output = %q", out)
	}

	out := mustRun(t, httpURL, "next")
	if !strings.Contains(out, `{"via":"grpc"}`) {
		t.Errorf("http next output = %q", out)
	}
	mustRun(t, httpURL, "--transport", "grpc", "--server", d.grpcAddr(), "respond", "000000000001", "ok")

	if c := d.store.Completed(); len(c) != 1 || c[0].Status != model.StatusSuccess {
		t.Errorf("completed = %+v", c)
	}
}

func TestDaemon_GRPCDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.GRPCAddr = ""
	d, err := startDaemon(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("startDaemon: %v", err)
	}
	defer d.shutdown()

	if d.grpcAddr() != "" {
		t.Errorf("grpcAddr = %q, want empty", d.grpcAddr())
	}
	mustRun(t, "http://"+d.httpAddr(), "health")
}

func TestDaemon_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "256.0.0.1:bad"
	if _, err := startDaemon(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestExportDestinations(t *testing.T) {
	cfg := testConfig()
	if dests := exportDestinations(context.Background(), cfg, discardLogger()); len(dests) != 0 {
		t.Fatalf("expected no destinations, got %d", len(dests))
	}

	cfg.ExportS3Bucket = "invocations"
	cfg.ExportS3Key = "lambdaq/events.jsonl"
	cfg.ExportS3Region = "us-east-1"
	cfg.ExportGitRepo = t.TempDir()
	cfg.ExportGitFile = "lambdaq.jsonl"
	cfg.ExportGitBranch = "main"

	dests := exportDestinations(context.Background(), cfg, discardLogger())
	if len(dests) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(dests))
	}
	if got := dests[0].Name(); got != "s3://invocations/lambdaq/events.jsonl" {
		t.Errorf("s3 name = %q", got)
	}
	if got := dests[1].Name(); !strings.HasPrefix(got, "git:") || !strings.HasSuffix(got, ":lambdaq.jsonl@main") {
		t.Errorf("git name = %q", got)
	}
}

func TestRuntimeLostAfter(t *testing.T) {
	for _, tc := range []struct {
		poll, want time.Duration
	}{
		{0, 2 * time.Minute},
		{30 * time.Second, 2 * time.Minute},
		{5 * time.Minute, 10 * time.Minute},
	} {
		if got := runtimeLostAfter(tc.poll); got != tc.want {
			t.Errorf("runtimeLostAfter(%v) = %v, want %v", tc.poll, got, tc.want)
		}
	}
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestDaemon_CompletionHooksOverNATS(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hook.log")
	cfg := testConfig()
	cfg.GRPCAddr = ""
	cfg.NATSURL = startTestNATS(t)
	cfg.HookOnSuccess = `echo "$LAMBDAQ_REQUEST_ID $LAMBDAQ_STATUS $(cat)" >> ` + out
	cfg.HookTimeout = 5 * time.Second

	d, err := startDaemon(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("startDaemon: %v", err)
	}
	defer d.shutdown()
	url := "http://" + d.httpAddr()

	// The hooks subscription registers asynchronously; keep finishing
	// invocations until one is observed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := d.store.Enqueue("{}")
		mustRun(t, url, "next")
		mustRun(t, url, "respond", ev.ID, "hello")

		if data, err := os.ReadFile(out); err == nil && len(data) > 0 {
			line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
			if !strings.HasSuffix(line, " Success hello") {
				t.Fatalf("hook line = %q", line)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("completion hook never ran")
}

func TestDaemon_HooksWithoutNATS(t *testing.T) {
	cfg := testConfig()
	cfg.GRPCAddr = ""
	cfg.HookOnFailure = "true"
	d, err := startDaemon(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("startDaemon: %v", err)
	}
	defer d.shutdown()
	if d.hooksCancel != nil {
		t.Error("hooks should stay disabled without NATS")
	}
}
