package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/analysis"
	"github.com/tetraminz/chatlog_audit/internal/compute"
	"github.com/tetraminz/chatlog_audit/internal/dataset"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

type handler struct {
	analyzer     Analyzer
	records      store.RecordStore
	minSources   int
	maxBodyBytes int64
	logger       *zap.Logger
}

// SourceUpload is one uploaded file of an analyze request.
type SourceUpload struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Sources []SourceUpload `json:"sources"`
}

// Rejection reports one source that was skipped.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// AnalyzeResponse is the body returned by POST /v1/analyze.
type AnalyzeResponse struct {
	Document    dataset.Document `json:"document"`
	Rejected    []Rejection      `json:"rejected"`
	OracleCalls int              `json:"oracleCalls"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		sources  []dataset.RawSource
		rejected []Rejection
	)
	seen := make(map[string]struct{}, len(req.Sources))
	for _, upload := range req.Sources {
		name := strings.TrimSpace(upload.Name)
		if _, ok := seen[name]; ok {
			rejected = append(rejected, rejection(&dataset.SourceError{Name: name, Err: dataset.ErrDuplicateSource}))
			continue
		}
		src, err := dataset.Ingest(name, upload.Payload)
		if err != nil {
			rejected = append(rejected, rejection(err))
			continue
		}
		seen[name] = struct{}{}
		sources = append(sources, src)
	}

	if err := analysis.CheckSufficiency(sources, h.minSources); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := h.analyzer.Run(r.Context(), sources, r.Header.Get(OracleKeyHeader))
	if err != nil {
		h.logger.Warn("analyze_failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "analysis interrupted")
		return
	}
	for _, srcErr := range result.Rejected {
		rejected = append(rejected, rejection(srcErr))
	}
	if rejected == nil {
		rejected = []Rejection{}
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Document:    result.Document,
		Rejected:    rejected,
		OracleCalls: result.OracleCalls,
	})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	var doc dataset.Document
	if !h.decode(w, r, &doc) {
		return
	}
	writeJSON(w, http.StatusOK, compute.Summarize(doc.Sessions))
}

func (h *handler) storeRecord(w http.ResponseWriter, r *http.Request) {
	var doc dataset.Document
	if !h.decode(w, r, &doc) {
		return
	}
	id, err := h.records.Store(r.Context(), compute.BuildRecord(doc))
	if err != nil {
		h.storeFailed(w, "store_record_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) compare(w http.ResponseWriter, r *http.Request) {
	var doc dataset.Document
	if !h.decode(w, r, &doc) {
		return
	}
	population, err := h.records.FetchAll(r.Context())
	if err != nil {
		h.storeFailed(w, "fetch_population_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, compute.Compare(doc, population))
}

func (h *handler) storeFailed(w http.ResponseWriter, event string, err error) {
	h.logger.Error(event, zap.Error(err))
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "comparison unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func rejection(err error) Rejection {
	out := Rejection{Reason: analysis.RejectReason(err), Error: err.Error()}
	var srcErr *dataset.SourceError
	if errors.As(err, &srcErr) {
		out.Name = srcErr.Name
		out.Error = srcErr.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
