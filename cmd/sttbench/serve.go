package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/sttbench/internal/bus"
	"github.com/leonardotrapani/sttbench/internal/config"
	"github.com/leonardotrapani/sttbench/internal/daemon"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/notify"
	"github.com/leonardotrapani/sttbench/internal/pipeline"
	"github.com/leonardotrapani/sttbench/internal/server"
	"github.com/leonardotrapani/sttbench/internal/tracing"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the control daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.GetConfig()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(cfg.Logging)
	log := logging.WithComponent("serve")

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn().Err(err).Msg("serve: failed to flush traces")
		}
	}()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	endpoint, err := bus.DefaultEndpoint()
	if err != nil {
		return err
	}
	d := daemon.New(endpoint, notify.New(cfg.Notifications.Enabled, cfg.Notifications.Type), liveSessions(mgr, rt))

	if err := mgr.StartWatching(d.Context()); err != nil {
		log.Warn().Err(err).Msg("serve: config hot reload disabled")
	} else {
		defer mgr.Stop()
	}
	mgr.OnChange(func(c *config.Config) {
		log.Info().Strs("providers", c.Session.Providers).Msg("serve: configuration reloaded")
	})

	srv, err := server.New(cfg.Server.Listen, server.Options{
		Config:    mgr.GetConfig,
		Limiter:   rt.limiter,
		Store:     rt.store,
		Factory:   transcriber.New,
		Publisher: rt.publisher,
		Metrics:   metrics.Default,
		LiveSessions: func() int {
			if state, _, _ := d.Status(); state != pipeline.Idle {
				return 1
			}
			return 0
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	g, ctx := errgroup.WithContext(d.Context())
	g.Go(func() error {
		defer d.Shutdown()
		return d.Run()
	})
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			d.Shutdown()
			return err
		}
		return nil
	})
	return g.Wait()
}

// liveSessions starts microphone sessions with the configuration current at
// the time of the start command.
func liveSessions(mgr *config.Manager, rt *runtime) daemon.SessionFactory {
	return func() (string, pipeline.Pipeline, error) {
		sess, p, err := rt.newPipeline(context.Background(), mgr.GetConfig(), sessionOptions{})
		if err != nil {
			return "", nil, err
		}
		return sess.ID, p, nil
	}
}
