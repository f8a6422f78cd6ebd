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

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/internal/handlers"
	"pictor/internal/middleware"
	"pictor/pkg/cache"
	"pictor/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !quiet {
				printBanner()
			}
			return serve(config.AppConfig)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	go a.columns.StartGC(ctx, cache.GCInterval, logger.Default().Named("cache"))
	if every := cfg.Database.SweepEvery(); every > 0 {
		go a.sweeper.Start(ctx, every)
	}

	limiter := middleware.NewRateLimiter(cfg.Security.RateLimit)
	limiter.Start(ctx)

	api := handlers.New(a.facade, cfg.Security.UploadSecret, cfg.Images.MaxUploadBytes(), logger.Default().Named("http"))
	finalHandler := limiter.Middleware(middleware.RequestLogger(color.Output)(api.Routes()))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.LogServerStart(cfg.Server.Port, cfg.GetBaseUrl())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.LogInfo("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
