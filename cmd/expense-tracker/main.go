package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/config"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/events"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/expense"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/receipt"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(cfg.Logger(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Expense tracker stopped with an error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting expense tracker", "version", version)

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := expense.NewBoltDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// Initialize storage
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize scanner; none leaves scanning disabled
	scanner, err := newScanner(ctx, cfg)
	if err != nil {
		return err
	}
	if scanner != nil {
		defer scanner.Close()
	}

	// Initialize event publisher
	var publisher events.Publisher = events.LogPublisher{}
	if cfg.AMQPURL != "" {
		slog.Info("Initializing AMQP publisher...", "exchange", cfg.AMQPExchange)
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("initializing AMQP publisher: %w", err)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	service := expense.NewService(db, store, scanner, publisher, cfg.DefaultCurrency)
	server := expense.NewServer(service,
		expense.BasicAuth{Username: cfg.AuthUser, Password: cfg.AuthPass},
		expense.WithIngestOptions(
			ingest.WithMaxFieldSize(int64(cfg.MaxFieldBytes)),
			ingest.WithMaxFileSize(cfg.MaxUploadBytes()),
		),
		expense.WithSweepGrace(cfg.SweepGrace),
	)
	if cfg.AuthUser != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx, cfg.Addr)
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			slog.Info("Starting orphan sweeper", "interval", cfg.SweepInterval, "grace", cfg.SweepGrace)
			return service.RunSweeper(ctx, cfg.SweepInterval, cfg.SweepGrace)
		})
	}
	return g.Wait()
}

func newStore(ctx context.Context, cfg *config.Config) (receipt.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageGCS:
		slog.Info("Initializing Cloud Storage...", "bucket", cfg.GCSBucket, "prefix", cfg.GCSPrefix)
		store, err := receipt.NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing Cloud Storage: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close Cloud Storage client", "error", err)
			}
		}, nil
	case config.StorageLocal:
		slog.Info("Initializing storage...", "path", cfg.StorageDir)
		store, err := receipt.NewLocalStorage(cfg.StorageDir)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing storage: %w", err)
		}
		return store, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func newScanner(ctx context.Context, cfg *config.Config) (scanning.Scanner, error) {
	switch cfg.Scanner {
	case config.ScannerGemini:
		slog.Info("Initializing Gemini scanner...", "model", cfg.GeminiModel)
		scanner, err := scanning.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Gemini: %w", err)
		}
		return scanner, nil
	case config.ScannerOllama:
		slog.Info("Initializing Ollama scanner...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		scanner, err := scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing Ollama: %w", err)
		}
		return scanner, nil
	case config.ScannerNone:
		slog.Info("Receipt scanning disabled")
		return nil, nil
	}
	return nil, errors.New("unknown scanner " + cfg.Scanner)
}
