package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/quickbuy/internal/config"
	"github.com/ariefcatur/quickbuy/internal/logger"
	"github.com/ariefcatur/quickbuy/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load()
	log := logger.New(logger.Options{Service: "quickbuy-migrate", Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := log.WithField(context.Background(), "command", command)
	if err != nil {
		log.Error(ctx, "config.invalid", err)
		os.Exit(1)
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.Pool("quickbuy-migrate"))
	if err != nil {
		log.Error(ctx, "migrate.connect", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db, command, flag.Args()[min(1, flag.NArg()):]...); err != nil {
		log.Error(ctx, "migrate.failed", err)
		db.Close()
		os.Exit(1)
	}
	log.Info(ctx, "migrate.done")
}
