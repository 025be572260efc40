// Command uninstall removes the persisted search daemon settings.
//
// Usage:
//
//	go run ./cmd/uninstall [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store settings.Store
	switch cfg.Settings.Backend {
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		store = settings.NewRedisStore(client, cfg.Settings.OptionName)
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = settings.NewPostgresStore(db, cfg.Settings.OptionName)
	default:
		slog.Info("settings backend keeps nothing on disk, nothing to remove", "backend", cfg.Settings.Backend)
		return
	}

	if err := settings.NewProvider(store).Uninstall(ctx); err != nil {
		slog.Error("uninstall failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search settings removed", "backend", cfg.Settings.Backend, "option", cfg.Settings.OptionName)
}
