package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crisisfeed/database"
	"crisisfeed/gateway"
	"crisisfeed/handlers"
	"crisisfeed/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the feed backend (REST rows, realtime changes, metrics)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Print the bcrypt hash to put in server.api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := handlers.HashKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Server.DBPath, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer db.Close()

	if cfg.Server.Seed {
		if err := db.SeedIfEmpty(ctx); err != nil {
			return err
		}
	}
	if cfg.Server.APIKeyHash == "" {
		logger.Warn("api_key_check_disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := realtime.NewHub(logger, reg)
	router := handlers.NewRouter(gateway.NewLocal(db, hub, logger), hub, logger, handlers.Options{
		APIKeyHash: cfg.Server.APIKeyHash,
		RateRPS:    cfg.Server.RateLimit.RPS,
		RateBurst:  cfg.Server.RateLimit.Burst,
		Registry:   reg,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("backend_listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("backend_shutting_down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
