package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheUltimateAbsol/technews/internal/config"
	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/scraper"
	"github.com/TheUltimateAbsol/technews/internal/server"
	"github.com/TheUltimateAbsol/technews/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var noPoll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the configured sources and serve stored posts over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			// Initialize storage
			store, err := storage.NewSQLiteStorage(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			sources, err := newSources(cfg, logger)
			if err != nil {
				return err
			}
			base, overrides, err := forestConfigs(cfg)
			if err != nil {
				return err
			}
			sc := scraper.New(sources, store, base, logger)
			sc.SetForestConfig(base, overrides)

			// Forest limits follow the config file; sources and storage need a restart
			loader.Watch(func(next *config.Config, err error) {
				if err != nil {
					logger.Warn("Ignoring invalid config change", zap.Error(err))
					return
				}
				base, overrides, err := forestConfigs(next)
				if err != nil {
					logger.Warn("Ignoring invalid forest config", zap.Error(err))
					return
				}
				sc.SetForestConfig(base, overrides)
				logger.Info("Reloaded forest limits",
					zap.Int("root_limit", base.RootLimit),
					zap.Int("branch_limit", base.BranchLimit),
					zap.Int("max_depth", base.MaxDepth),
					zap.Stringer("fields", base.Fields),
				)
			})

			gin.SetMode(gin.ReleaseMode)
			if cfg.Log.Development {
				gin.SetMode(gin.DebugMode)
			}
			router := server.New(store, sc, logger, server.Options{
				Forest:     func() forest.Config { return sc.ForestConfig("") },
				RequestLog: cfg.Server.RequestLog,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, sc, router, !noPoll, logger)
		},
	}
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "serve stored posts without polling the sources")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, sc *scraper.Scraper, handler http.Handler, poll bool, logger *zap.Logger) error {
	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if poll {
		interval, err := cfg.PollInterval()
		if err != nil {
			return err
		}
		logger.Info("Starting poller", zap.Duration("poll_interval", interval))
		g.Go(func() error {
			scraper.NewPoller(sc, logger).Run(ctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
