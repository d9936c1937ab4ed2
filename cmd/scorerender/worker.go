package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"score-render/logging"
	"score-render/middleware"
	"score-render/registry"
	"score-render/server"
	"score-render/toolkit"
	"score-render/worker"
)

const shutdownTimeout = 10 * time.Second

// Worker hosts render workers until SIGINT or SIGTERM.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	listen := cmd.String("listen")
	if listen == "" {
		listen = r.config.Worker.Listen
	}
	advertise := cmd.String("advertise")
	if advertise == "" {
		advertise = r.config.Worker.Advertise
	}

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.serve(ctx, listener, advertise)
}

// serve runs the worker host on listener until ctx ends, then shuts it down.
func (r *Runner) serve(ctx context.Context, listener net.Listener, advertise string) error {
	wc := r.config.Worker
	logger := logging.Component(r.logger, "worker")

	// A static host list needs no registration
	var reg registry.Registry
	if r.registry != nil || r.config.Registry.Kind == "etcd" {
		var release func()
		var err error
		reg, release, err = r.newRegistry()
		if err != nil {
			listener.Close()
			return err
		}
		defer release()
	}

	srv := server.NewServer(r.toolkitLoader(),
		server.WithLogger(logger),
		server.WithTTL(r.config.Registry.TTL),
		server.WithWorkerOptions(
			worker.WithInboxSize(wc.InboxSize),
			worker.WithOutboxSize(wc.OutboxSize),
			worker.WithLogger(logger),
		),
	)
	srv.Use(middleware.RecoveryMiddleware())
	srv.Use(middleware.LoggingMiddleware(logger))
	if wc.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(wc.RateLimit, wc.Burst))
	}

	var admin *http.Server
	if r.config.Admin.Enabled {
		admin = &http.Server{
			Addr:              r.config.Admin.Listen,
			Handler:           srv.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin listening", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ServeListener(listener, advertise, reg) }()

	select {
	case err := <-errc:
		if admin != nil {
			admin.Close()
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if admin != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		admin.Shutdown(sctx)
		cancel()
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		return err
	}
	return <-errc
}

func (r *Runner) toolkitLoader() worker.Loader {
	if r.loader != nil {
		return r.loader
	}
	wc := r.config.Worker
	return toolkit.Loader(wc.Binary, wc.ResourcePath,
		toolkit.WithTimeout(wc.RenderTimeout.Duration),
		toolkit.WithLogger(logging.Component(r.logger, "toolkit")),
	)
}
