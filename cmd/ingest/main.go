// Command ingest runs the daily bar ingestion service.
//
// Usage:
//
//	ingest                 serve the API and run cycles on the configured schedule
//	ingest token [flags]   print an operator token for the protected API
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock_ingest/internal/app/config"
	jwtmw "stock_ingest/internal/platform/jwt"
	"stock_ingest/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if _, err := logger.New(cfg.Log); err != nil {
		log.Fatalf("logger: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(cfg, os.Args[2:]); err != nil {
			slog.Error("token", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("ingest stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initializeApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("ingest starting",
		"markets", cfg.Markets,
		"store", cfg.StoreBackend,
		"universe", cfg.UniverseSource,
		"schedule", cfg.Schedule.Mode,
	)
	return app.Run(ctx)
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := jwtmw.NewGenerator(cfg.JWTSecret, *ttl).GenerateToken(*subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
