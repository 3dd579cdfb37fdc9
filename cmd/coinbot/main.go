package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/adapters/binance"
	"github.com/alejandrodnm/coinbot/internal/adapters/ml"
	"github.com/alejandrodnm/coinbot/internal/adapters/notify"
	"github.com/alejandrodnm/coinbot/internal/adapters/storage"
	"github.com/alejandrodnm/coinbot/internal/engine"
	"github.com/alejandrodnm/coinbot/internal/ports"
	"github.com/alejandrodnm/coinbot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	simulate := flag.Bool("simulate", false, "force simulation mode regardless of config")
	report := flag.Bool("report", false, "print the trading report from stored data and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug and print full tables")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *simulate {
		cfg.Bot.Simulation = true
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)
	log := slog.Default()

	slog.Info("coinbot starting",
		"config", *configPath,
		"interval", cfg.Interval(),
		"instruments", cfg.Bot.Instruments,
		"simulation", cfg.Bot.Simulation,
		"once", *once,
	)

	store, err := storage.Open(cfg.Storage.DSN, log)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*verbose)

	if *report {
		printReport(store, notifier)
		return
	}

	client := binance.NewClient(cfg.API.BaseURL, cfg.API.RequestsPerMinute)

	var predictor ports.Predictor
	if cfg.ML.Enabled {
		predictor = ml.New(cfg.ML, store, log)
	}

	strat := strategy.NewEngine(predictor, cfg.Strategy, cfg.ML, log)
	e := engine.New(cfg, client, store, notifier, predictor, strat, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := e.RunOnce(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("coinbot stopped cleanly")
}

// printReport reconstruye el informe desde el storage, sin tocar la API.
func printReport(store *storage.SQLite, notifier *notify.Console) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trades, err := store.Trades(ctx, time.Time{})
	if err != nil {
		slog.Error("failed to load trades", "err", err)
		os.Exit(1)
	}
	notifier.Report(reportMetrics(ctx, store, trades), trades)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
