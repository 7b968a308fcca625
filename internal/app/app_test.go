package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/chatlog_audit/internal/compute"
	"github.com/tetraminz/chatlog_audit/internal/config"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Oracle: config.OracleConfig{Model: "gpt-4o-mini", Temperature: 0.3, Timeout: time.Second},
		Store: config.StoreConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "chatlog.db"),
		},
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Log:    config.LogConfig{Level: "info", Format: "json"},
		Ingest: config.IngestConfig{MinSources: 3},
	}
}

func TestNewSQLiteApp(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.Events)
	assert.Same(t, a.Events, a.Records)

	o := a.Orchestrator()
	sources := []dataset.RawSource{{Name: "a.json", Payload: []byte(`{"chats":[{"user":"hi","assistant":"hello"}]}`)}}
	result, err := o.Run(context.Background(), sources, "")
	require.NoError(t, err)
	assert.Equal(t, dataset.PurposeError, result.Document.Sessions[0].Turns[0].Purpose)

	id, err := a.Records.Store(context.Background(), compute.BuildRecord(result.Document))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestNewWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache = config.CacheConfig{RedisAddr: mr.Addr(), TTL: time.Minute}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, ok := a.Records.(*store.CachedStore)
	require.True(t, ok)

	_, err = a.Records.Store(context.Background(), compute.Record{AvgHallucinationScore: 2})
	require.NoError(t, err)
	population, err := a.Records.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, population, 1)
}

func TestOracleFactoryRejectsEmptyCredential(t *testing.T) {
	a := &App{Config: testConfig(t)}
	_, err := a.OracleFactory()("")
	assert.Error(t, err)

	oracle, err := a.OracleFactory()("sk-test")
	require.NoError(t, err)
	assert.NotNil(t, oracle)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Metrics.ObserveSession(false)
	router := a.Router()

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "chatlog_analysis_sessions_total")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "postgres"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
