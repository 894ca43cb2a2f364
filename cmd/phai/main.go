package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"phai/internal/app"
	"phai/internal/config"
	"phai/internal/tui"
)

func main() {
	configPath := flag.String("config", os.Getenv("PHAI_CONFIG"), "path to a YAML config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Configuration ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	logOut, closeLog := logWriter(cfg.LogFile)
	defer closeLog()
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- Core ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close", "err", err)
		}
	}()

	// ---- UI ----
	p := tea.NewProgram(tui.New(ctx, a.Chat), tea.WithAltScreen(), tea.WithContext(ctx))
	tui.Subscribe(a.Chat, p)
	if _, err := p.Run(); err != nil {
		logger.Error("ui exited", "err", err)
		os.Exit(1)
	}
}

func logWriter(path string) (io.Writer, func()) {
	if path == "" {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Error("failed to open log file", "path", path, "err", err)
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}
