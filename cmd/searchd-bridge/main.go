// Command searchd-bridge serves the content search API with ranking
// delegated to an external search daemon.
//
// Search requests are handed to the configured daemon (Sphinx, Elasticsearch
// or Meilisearch) for ranking; the matching posts are then loaded from
// PostgreSQL by ID and returned in daemon order. When the daemon is
// unreachable the native PostgreSQL search answers instead. Daemon
// connection settings are edited at runtime through the admin endpoint.
//
// Usage:
//
//	go run ./cmd/searchd-bridge [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/admin"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/admin/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon/elastic"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon/meili"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon/sphinx"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/interceptor"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/reconciler"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/search"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/searchclient"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/store"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
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
	slog.Info("starting searchd bridge",
		"port", cfg.Server.Port,
		"engine", cfg.Search.Engine,
		"settings_backend", cfg.Settings.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		go func() {
			if err := metricsServer.Run(); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	checker := health.NewChecker()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")
	checker.Register("postgres", health.PingCheck(db.Ping, false))

	posts := store.NewPosts(db, cfg.Search.DefaultPerPage)
	if err := posts.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure posts schema", "error", err)
		os.Exit(1)
	}

	settingsStore, closeStore, err := openSettingsStore(ctx, cfg, db, checker)
	if err != nil {
		slog.Error("failed to open settings store", "backend", cfg.Settings.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	provider := settings.NewProvider(settingsStore)

	var collector *analytics.Collector
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.SearchTopic)
		collector = analytics.NewCollector(producer, cfg.Analytics.BufferSize)
		collector.Start(ctx)
		defer func() {
			collector.Close()
			producer.Close()
		}()
		slog.Info("analytics collector started", "topic", cfg.Kafka.SearchTopic)
	}

	driver := newDriver(cfg.Search)
	var searcher interceptor.Searcher
	var tester admin.Tester
	if driver != nil {
		adapter := searchclient.New(driver, provider, searchclient.Options{
			DefaultPerPage:  cfg.Search.DefaultPerPage,
			DateAttribute:   cfg.Search.DateAttribute,
			TitleAttribute:  cfg.Search.TitleAttribute,
			FallbackReserve: cfg.Search.FallbackReserve,
		}, m)
		searcher, tester = adapter, adapter
		checker.Register("search_daemon", health.PingCheck(func(ctx context.Context) error {
			return dialDaemon(ctx, provider.Get(ctx))
		}, true))
		slog.Info("search daemon interception enabled", "engine", driver.Name())
	} else {
		slog.Warn("no search daemon configured, native search only")
	}

	opts := []interceptor.Option{interceptor.WithMetrics(m)}
	if collector != nil {
		opts = append(opts, interceptor.WithTracker(collector))
	}
	ic := interceptor.New(searcher, cfg.Search.IDAttribute, opts...)
	rc := reconciler.New(m)

	pipeline := content.NewPipeline(posts, cfg.Search.DefaultPerPage)
	pipeline.OnParse(ic.Parse)
	pipeline.OnFoundRows(rc.RestoreCount)
	pipeline.OnResults(rc.Reorder)

	limiter := ratelimit.New(cfg.Admin.SubmitLimit, cfg.Admin.SubmitWindow)
	defer limiter.Stop()
	if cfg.Admin.NonceSecret == "" {
		slog.Warn("admin nonce secret not set, nonces will not survive a restart")
	}
	adminHandler := admin.New(provider, tester, admin.NewNonces(cfg.Admin.NonceSecret, cfg.Admin.NonceLifetime), limiter)
	searchHandler := search.New(pipeline, cfg.Tracing.Enabled)

	mux := http.NewServeMux()
	searchHandler.Register(mux)
	adminHandler.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.CORS(middleware.SearchCORSConfig(cfg.Server.AllowOrigins))(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("searchd bridge listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("searchd bridge stopped")
}

// newDriver returns the configured daemon driver, or nil for engine none.
func newDriver(cfg config.SearchConfig) daemon.Driver {
	switch cfg.Engine {
	case "sphinx":
		return sphinx.New()
	case "elastic":
		return elastic.New(cfg.Elastic)
	case "meili":
		return meili.New(cfg.Meili)
	default:
		return nil
	}
}

// openSettingsStore builds the settings backend named in cfg and registers
// its health check.
func openSettingsStore(ctx context.Context, cfg *config.Config, db *postgres.Client, checker *health.Checker) (settings.Store, func(), error) {
	switch cfg.Settings.Backend {
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		checker.Register("redis", health.PingCheck(client.Ping, false))
		return settings.NewRedisStore(client, cfg.Settings.OptionName), func() { client.Close() }, nil
	case "postgres":
		s := settings.NewPostgresStore(db, cfg.Settings.OptionName)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "memory":
		return settings.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, errors.New("unknown settings backend " + strconv.Quote(cfg.Settings.Backend))
	}
}

// dialDaemon checks that the configured daemon endpoint accepts connections.
func dialDaemon(ctx context.Context, s settings.Config) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.Server, strconv.Itoa(s.Port)))
	if err != nil {
		return err
	}
	return conn.Close()
}
