// Package httpapi exposes the analysis pipeline and the comparison
// population over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/analysis"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

// OracleKeyHeader carries the caller's oracle credential on /v1/analyze.
const OracleKeyHeader = "X-Oracle-Key"

// Analyzer runs the analysis pipeline; *analysis.Orchestrator satisfies it.
type Analyzer interface {
	Run(ctx context.Context, sources []dataset.RawSource, credential string) (analysis.Result, error)
}

// Config holds router dependencies. MetricsHandler is optional.
type Config struct {
	Analyzer       Analyzer
	Records        store.RecordStore
	MinSources     int
	MaxBodyBytes   int64
	Logger         *zap.Logger
	MetricsHandler http.Handler
}

// NewRouter creates the chi router with all routes configured.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	h := &handler{
		analyzer:     cfg.Analyzer,
		records:      cfg.Records,
		minSources:   cfg.MinSources,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/health", h.health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", h.analyze)
		r.Post("/summary", h.summary)
		r.Post("/records", h.storeRecord)
		r.Post("/compare", h.compare)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", ww.Status()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}
