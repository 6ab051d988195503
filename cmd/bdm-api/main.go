package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/bdmscrape/api"
	"github.com/pevans/bdmscrape/config"
	"github.com/pevans/bdmscrape/logging"
	"github.com/pevans/bdmscrape/store"
	"go.uber.org/zap"
)

func main() {
	cfg, warning, err := config.Load()
	if warning != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config file: %v\n", warning)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.API.Addr, "Address to listen on")
	flag.Parse()

	logger, closer, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	defer logger.Sync()

	if err := run(cfg, *addr, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, addr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Type, err)
	}
	defer gw.Close()

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(gw, api.Options{Logger: logger, Config: cfg})
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting browse API", zap.String("addr", addr), zap.String("storage", cfg.Storage.Type))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
