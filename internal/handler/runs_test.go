package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tsingest/internal/cache"
	"tsingest/internal/domain"
	"tsingest/internal/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type runnerStub struct {
	ran    []domain.ID
	ctxErr error
}

func (s *runnerStub) Run(ctx context.Context) domain.RunReport {
	s.ctxErr = ctx.Err()
	s.ran = append(s.ran, domain.AllDomains...)
	return domain.RunReport{RunID: "run-all", Outcomes: []domain.Outcome{{Domain: domain.Market, State: domain.StateWritten}}}
}

func (s *runnerStub) RunDomain(ctx context.Context, id domain.ID) (domain.RunReport, error) {
	if id == domain.Sentiment {
		return domain.RunReport{}, fmt.Errorf("domain %q is not configured", id)
	}
	s.ran = append(s.ran, id)
	return domain.RunReport{RunID: "run-one", Outcomes: []domain.Outcome{{Domain: id, State: domain.StateWritten}}}, nil
}

type reportsStub struct {
	latest  domain.RunReport
	err     error
	history []domain.RunReport
	limit   int
}

func (s *reportsStub) LatestReport(context.Context) (domain.RunReport, error) {
	return s.latest, s.err
}

func (s *reportsStub) History(_ context.Context, limit int) ([]domain.RunReport, error) {
	s.limit = limit
	return s.history, s.err
}

type snapshotsStub struct {
	id    domain.ID
	limit int
}

func (s *snapshotsStub) ListSnapshots(_ context.Context, id domain.ID, limit int) ([]repository.SnapshotRecord, error) {
	s.id, s.limit = id, limit
	return []repository.SnapshotRecord{{Domain: domain.Macro, Artifact: "macro", Date: "2026-02-08", Rows: 250}}, nil
}

func newRouter(h *Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func tracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("handler-test")
}

func TestTriggerRunUnavailable(t *testing.T) {
	r := newRouter(New(tracer(), nil, nil, nil), "")
	if w := serve(r, http.MethodPost, "/api/runs", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestTriggerRun(t *testing.T) {
	runner := &runnerStub{}
	r := newRouter(New(tracer(), runner, nil, nil), "")

	w := serve(r, http.MethodPost, "/api/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var report domain.RunReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if report.RunID != "run-all" || len(report.Outcomes) != 1 || report.Outcomes[0].State != domain.StateWritten {
		t.Fatalf("unexpected report: %+v", report)
	}
	if runner.ctxErr != nil {
		t.Fatalf("run context should be live, got %v", runner.ctxErr)
	}
}

func TestTriggerDomainRun(t *testing.T) {
	runner := &runnerStub{}
	r := newRouter(New(tracer(), runner, nil, nil), "")

	if w := serve(r, http.MethodPost, "/api/runs/Macro", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(runner.ran) != 1 || runner.ran[0] != domain.Macro {
		t.Fatalf("expected macro to run, got %v", runner.ran)
	}
	if w := serve(r, http.MethodPost, "/api/runs/weather", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown domain, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/runs/sentiment", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unconfigured domain, got %d", w.Code)
	}
}

func TestGetLatestRun(t *testing.T) {
	reports := &reportsStub{latest: domain.RunReport{RunID: "abc"}}
	r := newRouter(New(tracer(), nil, reports, nil), "")

	w := serve(r, http.MethodGet, "/api/runs/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var report domain.RunReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil || report.RunID != "abc" {
		t.Fatalf("unexpected body %s (%v)", w.Body.String(), err)
	}

	reports.err = cache.ErrNoReport
	if w := serve(r, http.MethodGet, "/api/runs/latest", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", w.Code)
	}

	reports.err = errors.New("redis down")
	if w := serve(r, http.MethodGet, "/api/runs/latest", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestListRunsLimit(t *testing.T) {
	reports := &reportsStub{history: []domain.RunReport{{RunID: "1"}, {RunID: "2"}}}
	r := newRouter(New(tracer(), nil, reports, nil), "")

	w := serve(r, http.MethodGet, "/api/runs?limit=2", nil)
	if w.Code != http.StatusOK || reports.limit != 2 {
		t.Fatalf("expected 200 with limit 2, got %d limit=%d", w.Code, reports.limit)
	}
	if w := serve(r, http.MethodGet, "/api/runs?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestListSnapshots(t *testing.T) {
	snaps := &snapshotsStub{}
	r := newRouter(New(tracer(), nil, nil, snaps), "")

	w := serve(r, http.MethodGet, "/api/snapshots/macro?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if snaps.id != domain.Macro || snaps.limit != 5 {
		t.Fatalf("unexpected query: %s %d", snaps.id, snaps.limit)
	}

	var body struct {
		Count     int                         `json:"count"`
		Snapshots []repository.SnapshotRecord `json:"snapshots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Count != 1 || body.Snapshots[0].Rows != 250 {
		t.Fatalf("unexpected body: %+v", body)
	}

	if w := serve(r, http.MethodGet, "/api/snapshots", nil); w.Code != http.StatusOK || snaps.id != "" {
		t.Fatalf("expected all-domain listing, got %d id=%q", w.Code, snaps.id)
	}
}

func TestRoutesRequireAPIKey(t *testing.T) {
	r := newRouter(New(tracer(), &runnerStub{}, nil, nil), "secret")

	if w := serve(r, http.MethodPost, "/api/runs", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/runs", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health should not require a key, got %d", w.Code)
	}
}
