package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/lambdaq/internal/config"
	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/export"
	"github.com/alfredjeanlab/lambdaq/internal/history"
	"github.com/alfredjeanlab/lambdaq/internal/history/postgres"
	"github.com/alfredjeanlab/lambdaq/internal/hooks"
	"github.com/alfredjeanlab/lambdaq/internal/presence"
	"github.com/alfredjeanlab/lambdaq/internal/server"
	"github.com/alfredjeanlab/lambdaq/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the runtime API and management servers",
		GroupID: "system",
		Args:    cobra.NoArgs,
		// Override PersistentPreRunE so we don't dial ourselves.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(os.Stderr)

			d, err := startDaemon(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig)

			d.shutdown()
			return nil
		},
	}
}

// daemon is a running server process: the store plus everything bound to it.
type daemon struct {
	logger *slog.Logger

	store     *store.EventStore
	publisher events.Publisher
	recorder  history.Recorder
	presence  *presence.Tracker
	runtime   *server.RuntimeServer
	scheduler *export.Scheduler

	hooksCancel context.CancelFunc
	hooksDone   chan struct{}

	httpServer *http.Server
	httpLis    net.Listener
	grpcServer *grpc.Server
	grpcLis    net.Listener
}

// startDaemon builds the server stack from cfg and starts listening. Optional
// integrations (NATS, Postgres, export) are skipped when unconfigured.
func startDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &daemon{logger: logger}

	d.store = store.New(
		store.WithFunctionARN(cfg.FunctionARN),
		store.WithLogger(logger),
	)

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		d.publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		d.publisher = &events.NoopPublisher{}
		logger.Info("events disabled (LAMBDAQ_NATS_URL not set)")
	}

	if cfg.DatabaseURL != "" {
		rec, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			d.publisher.Close()
			return nil, err
		}
		d.recorder = rec
		logger.Info("history enabled")
	} else {
		d.recorder = history.NoopRecorder{}
	}

	d.presence = presence.New(presence.WithLogger(logger))
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithRecorder(d.recorder),
		server.WithPresence(d.presence),
		server.WithInvocationTimeout(cfg.InvocationTimeout),
		server.WithPollTimeout(cfg.PollTimeout),
	}
	d.runtime = server.NewRuntimeServer(d.store, d.publisher, opts...)
	d.presence.StartReaper(presence.ReaperConfig{
		LostAfter: runtimeLostAfter(cfg.PollTimeout),
		OnLost:    d.runtime.RuntimeLost,
	})

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		d.closeBackends()
		return nil, fmt.Errorf("listening on %s: %w", cfg.HTTPAddr, err)
	}
	d.httpLis = httpLis
	d.httpServer = &http.Server{Handler: d.runtime.NewHTTPHandler()}
	go func() {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := d.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	if cfg.GRPCAddr != "" {
		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			d.httpServer.Close()
			d.closeBackends()
			return nil, fmt.Errorf("listening on %s: %w", cfg.GRPCAddr, err)
		}
		d.grpcLis = grpcLis
		d.grpcServer = server.NewGRPCServer(d.runtime)
		go func() {
			logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := d.grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()
	}

	if cfg.ExportInterval > 0 {
		dests := exportDestinations(ctx, cfg, logger)
		if len(dests) > 0 {
			d.scheduler = export.NewScheduler(d.store, dests, cfg.ExportInterval, logger)
			d.scheduler.Start()
			logger.Info("export scheduler started", "interval", cfg.ExportInterval)
		}
	}

	d.startHooks(cfg)

	logger.Info("lambdaq server started",
		"session_id", d.runtime.SessionID(),
		"function_arn", cfg.FunctionARN,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
	)
	return d, nil
}

// startHooks runs completion hooks off the event bus when both hooks and
// NATS are configured.
func (d *daemon) startHooks(cfg *config.Config) {
	hcfg := hooks.Config{OnSuccess: cfg.HookOnSuccess, OnFailure: cfg.HookOnFailure, Timeout: cfg.HookTimeout}
	if !hcfg.Enabled() {
		return
	}
	if cfg.NATSURL == "" {
		d.logger.Warn("completion hooks configured but LAMBDAQ_NATS_URL not set; hooks disabled")
		return
	}
	sub, err := events.NewNATSSubscriber(cfg.NATSURL)
	if err != nil {
		d.logger.Error("failed to create hooks subscriber", "err", err)
		return
	}

	handler := hooks.NewHandler(hcfg, d.logger)
	var ctx context.Context
	ctx, d.hooksCancel = context.WithCancel(context.Background())
	d.hooksDone = make(chan struct{})
	go func() {
		defer close(d.hooksDone)
		if err := handler.StartSubscriber(ctx, sub); err != nil {
			d.logger.Error("hooks subscriber error", "err", err)
		}
		sub.Close()
	}()
}

// runtimeLostAfter is how long a runtime client may go quiet before it is
// reported lost. A healthy runtime re-polls at least once per poll timeout;
// one blocked in an open poll is never reported, whatever the timeout.
func runtimeLostAfter(pollTimeout time.Duration) time.Duration {
	return max(2*time.Minute, 2*pollTimeout)
}

// exportDestinations returns the configured export targets. A destination
// that fails to initialize is logged and skipped.
func exportDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []export.Destination {
	var dests []export.Destination
	if cfg.ExportS3Bucket != "" {
		s3Dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("export destination enabled", "dest", s3Dest.Name())
		}
	}
	if cfg.ExportGitRepo != "" {
		gitDest := export.NewGitDestination(cfg.ExportGitRepo, cfg.ExportGitFile, cfg.ExportGitBranch)
		dests = append(dests, gitDest)
		logger.Info("export destination enabled", "dest", gitDest.Name())
	}
	return dests
}

func (d *daemon) httpAddr() string { return d.httpLis.Addr().String() }

func (d *daemon) grpcAddr() string {
	if d.grpcLis == nil {
		return ""
	}
	return d.grpcLis.Addr().String()
}

// shutdown stops accepting work, flushes a final export and releases
// backends.
func (d *daemon) shutdown() {
	if d.hooksCancel != nil {
		d.hooksCancel()
		<-d.hooksDone
		d.logger.Info("hooks subscriber stopped")
	}

	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
		d.logger.Info("gRPC server stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.httpServer.Shutdown(ctx); err != nil {
		d.logger.Error("HTTP server shutdown error", "err", err)
	}
	d.logger.Info("HTTP server stopped")

	if d.scheduler != nil {
		d.scheduler.Stop()
		d.logger.Info("export scheduler stopped")
	}

	d.closeBackends()
	d.logger.Info("shutdown complete")
}

func (d *daemon) closeBackends() {
	if d.presence != nil {
		d.presence.Stop()
	}
	if d.runtime != nil {
		d.runtime.Close()
	}
	if err := d.publisher.Close(); err != nil {
		d.logger.Error("error closing publisher", "err", err)
	}
	if err := d.recorder.Close(); err != nil {
		d.logger.Error("error closing history", "err", err)
	}
}
