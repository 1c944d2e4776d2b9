// Command tracelight runs the error tracking backend: Sentry-compatible
// ingestion, per-project SQLite storage and the management API, all in one
// binary.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/tracelight/tracelight/internal/api"
	"github.com/tracelight/tracelight/internal/config"
	"github.com/tracelight/tracelight/internal/registry"
	"github.com/tracelight/tracelight/internal/shard"
	"github.com/tracelight/tracelight/internal/stream"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	initLog(cfg.Logging)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.WithError(err).Fatal("create data dir")
	}

	reg, err := registry.Open(cfg.Storage.RegistryDriver, registryDSN(cfg))
	if err != nil {
		log.WithError(err).Fatal("open project registry")
	}
	defer reg.Close()

	pool, err := shard.NewPool(filepath.Join(cfg.Storage.DataDir, "projects"), cfg.Storage.ShardCacheSize)
	if err != nil {
		log.WithError(err).Fatal("open shard pool")
	}
	defer pool.Close()

	hub := stream.NewHub()

	handler := api.NewRouter(api.Options{
		Registry:     reg,
		Shards:       pool,
		Hub:          hub,
		Auth:         registry.NewTokenAuth(cfg.TokenMap()),
		PublicURL:    cfg.Server.PublicURL,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithFields(log.Fields{
		"addr":       cfg.Server.Addr,
		"public_url": cfg.Server.PublicURL,
		"data_dir":   cfg.Storage.DataDir,
		"registry":   cfg.Storage.RegistryDriver,
	}).Info("tracelight listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
	log.Info("bye")
}

// registryDSN picks the registry location: the configured DSN, or a
// registry.db next to the shards for the default sqlite3 driver.
func registryDSN(cfg config.Config) string {
	if cfg.Storage.RegistryDSN != "" {
		return cfg.Storage.RegistryDSN
	}
	return filepath.Join(cfg.Storage.DataDir, "registry.db")
}

func initLog(cfg config.LoggingConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
