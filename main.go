// Package main implements a Telegram bot that watches MangaDex for new
// chapters of tracked series and announces them to chat communities.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"

	"mangadex-notifier/mangadex"
	"mangadex-notifier/poll"
	"mangadex-notifier/registry"
	"mangadex-notifier/storage"
	"mangadex-notifier/telegram"
)

const defaultPollInterval = 5 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		logger.Error("TELEGRAM_TOKEN environment variable required")
		os.Exit(1)
	}

	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var client *gcs.Client
	if localStorage != "" {
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		c, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		client = c
	}

	store := storage.New(client, bucket, localStorage, logger)

	// Unreadable prior state is fatal: continuing would re-announce
	// chapters the communities already saw.
	snap, err := store.Load(ctx)
	if err != nil {
		logger.Error("Failed to load snapshot", "error", err)
		os.Exit(1)
	}

	reg := registry.New(snap, store, logger)

	bot, err := telegram.New(telegram.Config{
		Token:     token,
		Operators: operatorIDs(logger),
		Registry:  reg,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}

	lang := os.Getenv("MDEX_LANG")
	if lang == "" {
		lang = "en"
	}
	index := mangadex.New(&http.Client{Timeout: 30 * time.Second}, mangadex.DefaultBaseURL, lang, logger)

	monitor := poll.New(index, reg, bot, telegram.IsPermissionDenied, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	go startHealthServer(logger, port)

	// The bot is connected (token verified) before the first cycle runs.
	go bot.Run(ctx)
	monitor.Run(ctx, pollInterval(logger))
}

// pollInterval reads POLL_INTERVAL (Go duration syntax), defaulting to 5m.
func pollInterval(logger *slog.Logger) time.Duration {
	raw := os.Getenv("POLL_INTERVAL")
	if raw == "" {
		return defaultPollInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("Invalid POLL_INTERVAL, using default", "value", raw, "default", defaultPollInterval.String())
		return defaultPollInterval
	}
	return d
}

// operatorIDs reads OPERATOR_IDS, a comma-separated list of Telegram user IDs
// allowed to run management commands in any chat.
func operatorIDs(logger *slog.Logger) []int64 {
	raw := os.Getenv("OPERATOR_IDS")
	if raw == "" {
		return nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			logger.Warn("Ignoring invalid operator ID", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
