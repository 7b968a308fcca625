package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraminz/chatlog_audit/internal/analysis"
	"github.com/tetraminz/chatlog_audit/internal/classify"
	"github.com/tetraminz/chatlog_audit/internal/compute"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

type memoryStore struct {
	mu      sync.Mutex
	records []compute.Record
	err     error
}

func (m *memoryStore) Store(_ context.Context, record compute.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	record.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	m.records = append(m.records, record)
	return record.ID, nil
}

func (m *memoryStore) FetchAll(context.Context) ([]compute.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]compute.Record(nil), m.records...), nil
}

type credentialOracle struct {
	mu          sync.Mutex
	credentials []string
}

func (c *credentialOracle) factory(credential string) (classify.Oracle, error) {
	c.mu.Lock()
	c.credentials = append(c.credentials, credential)
	c.mu.Unlock()
	return classify.OracleFunc(func(_ context.Context, prompt classify.Prompt) (string, error) {
		if strings.Contains(prompt.SchemaName, "session") {
			return `{"over_reliance_score":2,"advice":"Verify sources yourself."}`, nil
		}
		return `{"hallucination_score":1,"issue_type":"none","reason":"none","purpose":"Information Seeking"}`, nil
	}), nil
}

func newTestServer(t *testing.T, records store.RecordStore) (*httptest.Server, *credentialOracle) {
	t.Helper()
	oracles := &credentialOracle{}
	orchestrator := &analysis.Orchestrator{
		Oracles:    oracles.factory,
		Normalizer: dataset.DefaultNormalizer(),
		Now:        func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
	srv := httptest.NewServer(NewRouter(Config{
		Analyzer:   orchestrator,
		Records:    records,
		MinSources: 3,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}))
	t.Cleanup(srv.Close)
	return srv, oracles
}

func chatExport(q, a string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"chats":[{"user":%q,"assistant":%q}]}`, q, a))
}

func post(t *testing.T, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func sampleDocument(hallucination, reliance int) dataset.Document {
	return dataset.NewDocument([]dataset.Session{{
		FileName:  "a.json",
		TurnCount: 1,
		Turns: []dataset.AnnotatedTurn{{
			Turn:               dataset.Turn{Turn: 1, User: "private question", Assistant: "private answer"},
			HallucinationScore: hallucination,
			IssueType:          dataset.IssueFactualError,
			Purpose:            dataset.PurposeContentGeneration,
		}},
		OverRelianceScore: reliance,
	}}, "2025-05-01")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestAnalyze(t *testing.T) {
	srv, oracles := newTestServer(t, &memoryStore{})

	body := AnalyzeRequest{Sources: []SourceUpload{
		{Name: "a.json", Payload: chatExport("q1", "a1")},
		{Name: "b.json", Payload: chatExport("q2", "a2")},
		{Name: "c.json", Payload: chatExport("q3", "a3")},
		{Name: "c.json", Payload: chatExport("dup", "dup")},
		{Name: "d.json", Payload: json.RawMessage(`{"unknown":true}`)},
	}}
	resp := post(t, srv.URL+"/v1/analyze", body, map[string]string{OracleKeyHeader: "sk-caller"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 3, out.Document.TotalFiles)
	assert.Equal(t, 3, out.Document.TotalTurns)
	assert.Equal(t, "2025-05-01", out.Document.GeneratedDate)
	assert.Equal(t, 6, out.OracleCalls)
	assert.Equal(t, []string{"sk-caller"}, oracles.credentials)

	require.Len(t, out.Rejected, 2)
	assert.Equal(t, Rejection{Name: "c.json", Reason: "duplicate", Error: dataset.ErrDuplicateSource.Error()}, out.Rejected[0])
	assert.Equal(t, "d.json", out.Rejected[1].Name)
	assert.Equal(t, "unrecognized_format", out.Rejected[1].Reason)
}

func TestAnalyzeRequiresEnoughSources(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{})

	body := AnalyzeRequest{Sources: []SourceUpload{{Name: "a.json", Payload: chatExport("q", "a")}}}
	resp := post(t, srv.URL+"/v1/analyze", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAnalyzeRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{})

	resp, err := http.Post(srv.URL+"/v1/analyze", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreAndCompare(t *testing.T) {
	records := &memoryStore{}
	srv, _ := newTestServer(t, records)

	for _, doc := range []dataset.Document{sampleDocument(1, 1), sampleDocument(3, 4), sampleDocument(5, 5)} {
		resp := post(t, srv.URL+"/v1/records", doc, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	require.Len(t, records.records, 3)
	stored, err := json.Marshal(records.records[0])
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "private question")

	resp := post(t, srv.URL+"/v1/compare", sampleDocument(3, 4), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var comparison compute.Comparison
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&comparison))
	assert.True(t, comparison.Available)
	assert.Equal(t, 3, comparison.PopulationSize)
	assert.Equal(t, 2, comparison.Hallucination.Rank)
	assert.Equal(t, "66.7", comparison.Hallucination.TopPercent)
	assert.Equal(t, dataset.PurposeContentGeneration, comparison.Purpose)
}

func TestCompareStoreUnavailable(t *testing.T) {
	records := &memoryStore{err: fmt.Errorf("%w: fetch: connection refused", store.ErrUnavailable)}
	srv, _ := newTestServer(t, records)

	resp := post(t, srv.URL+"/v1/compare", sampleDocument(2, 2), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	records.err = errors.New("boom")
	resp = post(t, srv.URL+"/v1/records", sampleDocument(2, 2), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	srv, _ := newTestServer(t, &memoryStore{})

	resp := post(t, srv.URL+"/v1/summary", sampleDocument(4, 2), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary compute.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 1, summary.TotalFiles)
	assert.Equal(t, 4.0, summary.AvgHallucination)
	assert.Equal(t, "1.0", summary.AvgTurnsPerFile)
}
