package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerdrop/peerdrop/internal/coordinator"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server"
)

func main() {
	logging.Init()

	addr := ":8080"
	if v := os.Getenv("PEERDROP_ADDR"); v != "" {
		addr = v
	}

	registry := coordinator.NewRegistry(coordinator.Options{Logger: slog.Default()})
	mux, push := server.New(registry, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go registry.Run(ctx)
	go push.Run()

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("coordinator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
