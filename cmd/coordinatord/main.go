// Command coordinatord runs the Keyboardia coordinator: one authoritative,
// replicated session per pattern, served over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adewale/keyboardia/internal/coordinator"
	"github.com/adewale/keyboardia/internal/metrics"
	"github.com/adewale/keyboardia/internal/persistence"
	"github.com/adewale/keyboardia/internal/wsapi"
)

// Version is the current coordinator version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "keyboardia.db") {
			return
		}
	}

	addr := flag.String("addr", ":8090", "HTTP/WebSocket listen address")
	dbPath := flag.String("db", "keyboardia.db", "SQLite database path")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	})))

	store, err := persistence.Open(*dbPath)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("register metrics", "error", err)
		os.Exit(1)
	}

	registry := coordinator.NewRegistry(store, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go registry.RunIdleEviction(ctx)

	server := wsapi.New(registry)
	slog.Info("coordinator listening", "addr", *addr, "version", Version)
	runErr := server.Run(ctx, *addr)

	slog.Info("flushing resident sessions to cold tier")
	registry.FlushAll(context.Background())

	if runErr != nil {
		slog.Error("http server", "error", runErr)
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
