package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldservice/internal/httpapi"
	"fieldservice/internal/realtime"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/config"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
	"fieldservice/pkg/objectstore"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fatal := func(msg string, err error) {
		logger.Error(msg, log.Error(err))
		os.Exit(1)
	}

	if cfg.AppEnv == "prod" && cfg.Auth.JWTSecret == "" {
		logger.Error("JWT_SECRET is required in prod")
		os.Exit(1)
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		fatal("db open failed", err)
	}
	defer conn.Close()

	if cfg.MigrationsPath != "" {
		if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
			fatal("migrate failed", err)
		}
	}

	workflows, err := workflow.LoadRegistry(cfg.WorkflowsPath)
	if err != nil {
		fatal("load workflows failed", err)
	}

	store, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		fatal("object store failed", err)
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			fatal("ensure bucket failed", err)
		}
	} else {
		logger.Warn("object store not configured, document sharing disabled")
	}

	hub := realtime.NewHub(logger)
	router, err := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:       cfg,
		DB:        conn,
		Logger:    logger,
		Workflows: workflows,
		Hub:       hub,
		Storage:   store,
	})
	if err != nil {
		fatal("router failed", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("http serve failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	hub.Close()
	logger.Info("shutdown complete")
}
