// Package main applies the database schema without starting the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/scanara/internal/middleware"
	"github.com/onnwee/scanara/internal/store"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	dbURL := flag.String("database-url", "", "database url; defaults to $DATABASE_URL")
	timeout := flag.Duration("timeout", time.Minute, "migration timeout")
	flag.Parse()

	if *help {
		fmt.Println("Scanara Schema Migrator")
		fmt.Println()
		fmt.Println("Usage: migrate [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	logger := middleware.NewLogger(os.Getenv("SCANARA_ENV"))
	slog.SetDefault(logger)

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := migrate(ctx, url); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("schema is up to date")
}

func migrate(ctx context.Context, url string) error {
	db, err := store.Open(ctx, url)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(ctx)
}
