package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// startHealthServer exposes a minimal liveness endpoint for the runtime
// environment's health checks.
func startHealthServer(logger *slog.Logger, port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
			logger.Warn("Failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Starting health server", "port", port)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Health server failed", "error", err)
	}
}
