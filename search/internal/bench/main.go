package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/larose/harvest/search/config"
	"github.com/larose/harvest/search/telemetry"
)

func main() {
	mode := flag.String("mode", "", "Mode to run: index or search")
	configPath := flag.String("config", "", "Path to a .toml or .yaml config file")
	directory := flag.String("directory", "", "Index directory, overrides the config")
	docs := flag.Int("docs", 100_000, "Number of documents to index")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *directory != "" {
		cfg.Index.Directory = *directory
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch *mode {
	case "index":
		err = _index(logger, cfg, *docs)
	case "search":
		err = _search(ctx, logger, cfg)
	default:
		fmt.Println("Usage: go run ./search/internal/bench -mode=index|search [-config harvest.toml] [-directory dir] [-docs n]")
		os.Exit(1)
	}

	if err != nil {
		logger.Error("bench failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

// startTelemetry serves metrics when enabled. The returned telemetry is nil
// otherwise.
func startTelemetry(ctx context.Context, logger *slog.Logger, cfg config.MetricsConfig) (*telemetry.Telemetry, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	t, err := telemetry.New(logger)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := t.Serve(ctx, cfg.Listen); err != nil {
			logger.Error("metrics endpoint stopped", "error", err)
		}
	}()

	return t, nil
}
