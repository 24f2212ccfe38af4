package handler

import (
	"context"

	"tsingest/internal/domain"
	"tsingest/internal/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// Runner triggers ingestion runs.
type Runner interface {
	Run(ctx context.Context) domain.RunReport
	RunDomain(ctx context.Context, id domain.ID) (domain.RunReport, error)
}

// ReportReader reads published run reports.
type ReportReader interface {
	LatestReport(ctx context.Context) (domain.RunReport, error)
	History(ctx context.Context, limit int) ([]domain.RunReport, error)
}

// SnapshotLister lists snapshots mirrored into the database.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, id domain.ID, limit int) ([]repository.SnapshotRecord, error)
}

type Handler struct {
	tracer    trace.Tracer
	runner    Runner
	reports   ReportReader
	snapshots SnapshotLister
}

// New builds the API handler. reports and snapshots may be nil when Redis or
// Postgres are not configured; their endpoints then answer 503.
func New(tracer trace.Tracer, runner Runner, reports ReportReader, snapshots SnapshotLister) *Handler {
	return &Handler{
		tracer:    tracer,
		runner:    runner,
		reports:   reports,
		snapshots: snapshots,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/latest", h.GetLatestRun)
	api.POST("/runs", h.TriggerRun)
	api.POST("/runs/:domain", h.TriggerDomainRun)
	api.GET("/snapshots", h.ListSnapshots)
	api.GET("/snapshots/:domain", h.ListSnapshots)
}
