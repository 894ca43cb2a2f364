package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"phai/handler"
	"phai/internal/app"
	"phai/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	// Callers wait for settled replies, so typing is instant unless
	// configured otherwise.
	cfg, err := config.LoadHeadless(os.Getenv("PHAI_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	// Lambda has no writable home; conversations live in DynamoDB unless
	// a store is chosen explicitly.
	if os.Getenv("PHAI_STORE") == "" {
		cfg.Store = config.StoreDynamoDB
		cfg.StateTable = mustEnv("PHAI_STATE_TABLE")
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- Core ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Chat, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
