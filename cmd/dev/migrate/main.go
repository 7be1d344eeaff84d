package main

import (
	"context"
	"os"

	"fieldservice/pkg/config"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stderr, cfg.LogLevel)
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://migrations"
	}

	// Uses DIRECT_URL when set; poolers often reject migration locks.
	if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
		logger.Error("migrate failed", log.Error(err))
		os.Exit(1)
	}

	// Check the runtime connection too (DATABASE_URL when set). DSNs are
	// never logged.
	pool, err := db.Open(context.Background(), cfg)
	if err != nil {
		logger.Error("runtime db open failed", log.Error(err))
		os.Exit(1)
	}
	pool.Close()

	logger.Info("migrations applied", "path", cfg.MigrationsPath)
}
