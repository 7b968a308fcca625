// Package app wires configuration into the stores, the analysis
// orchestrator and the HTTP router shared by the CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/analysis"
	"github.com/tetraminz/chatlog_audit/internal/classify"
	"github.com/tetraminz/chatlog_audit/internal/config"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/httpapi"
	"github.com/tetraminz/chatlog_audit/internal/metrics"
	"github.com/tetraminz/chatlog_audit/internal/openai"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.PipelineMetrics
	Records  store.RecordStore
	// Events is the SQLite audit store; nil when no sqlite_path is set.
	Events *store.SQLiteStore

	closers []func() error
}

// New opens the configured stores. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics.NewPipelineMetrics(registry),
	}

	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config.Store
	if strings.TrimSpace(cfg.SQLitePath) != "" {
		events, err := store.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Events = events
		a.closers = append(a.closers, events.Close)
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		if a.Events == nil {
			return errors.New("sqlite driver requires store.sqlite_path")
		}
		a.Records = a.Events
	case config.DriverMongo:
		client, err := store.ConnectMongo(ctx, cfg.MongoURI.Value())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			return client.Disconnect(context.Background())
		})
		collection := cfg.MongoCollection
		if collection == "" {
			collection = store.DefaultMongoCollection
		}
		a.Records = store.NewMongoStore(client.Database(cfg.MongoDatabase).Collection(collection))
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if addr := strings.TrimSpace(a.Config.Cache.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		a.closers = append(a.closers, client.Close)
		a.Records = store.NewCachedStore(a.Records, client, a.Config.Cache.TTL, a.Logger)
	}

	a.Logger.Info("stores_ready",
		zap.String("driver", cfg.Driver),
		zap.Bool("audit_events", a.Events != nil),
		zap.Bool("cache", a.Config.Cache.RedisAddr != ""),
	)
	return nil
}

// OracleFactory builds a rate-limited chat-completions oracle per credential.
func (a *App) OracleFactory() analysis.OracleFactory {
	oracle := a.Config.Oracle
	return func(credential string) (classify.Oracle, error) {
		client, err := openai.NewClient(openai.Config{
			APIKey:        credential,
			BaseURL:       oracle.BaseURL,
			Model:         oracle.Model,
			Temperature:   oracle.Temperature,
			Timeout:       oracle.Timeout,
			RatePerSecond: oracle.RatePerSecond,
			Burst:         oracle.Burst,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("create oracle client: %w", err)
		}
		return classify.FromCompleter(client), nil
	}
}

// Orchestrator returns an orchestrator using the app's stores and metrics.
func (a *App) Orchestrator() *analysis.Orchestrator {
	o := &analysis.Orchestrator{
		Oracles:    a.OracleFactory(),
		Normalizer: dataset.DefaultNormalizer(),
		Model:      a.Config.Oracle.Model,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	}
	if a.Events != nil {
		o.Recorder = a.Events
	}
	return o
}

// Router returns the HTTP API with /metrics served from the app registry.
func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.Config{
		Analyzer:       a.Orchestrator(),
		Records:        a.Records,
		MinSources:     a.Config.Ingest.MinSources,
		Logger:         a.Logger,
		MetricsHandler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
	})
}

// Serve runs the HTTP API until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Server.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server_listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.Logger.Info("server_shutdown")
	return srv.Shutdown(shutdownCtx)
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
