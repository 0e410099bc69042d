package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/database"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "settlement-migrate"

func main() {
	steps := flag.Int("steps", 0, "migrations to apply (negative rolls back, 0 applies all pending)")
	flag.Parse()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Environment, serviceName); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Running database migrations",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
		zap.Int("steps", *steps),
	)

	if err := database.Migrate(cfg.Database.URL(), *steps); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
}
