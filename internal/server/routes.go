// Package server exposes the coordinator over its two transports: a
// websocket push endpoint and an HTTP poll API. Both speak the same protocol
// against the same registry; a room hosted over one transport is fully
// reachable from the other.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/peerdrop/peerdrop/internal/coordinator"
)

// New wires both transports and the health endpoint onto one mux.
func New(registry *coordinator.Registry, logger *slog.Logger) (*http.ServeMux, *Push) {
	push := NewPush(registry, logger)
	poll := NewPoll(registry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok, %d rooms\n", registry.RoomCount())
	})
	mux.HandleFunc("/ws", push.ServeWS)
	poll.Register(mux)

	return mux, push
}
