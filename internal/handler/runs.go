package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"tsingest/internal/cache"
	"tsingest/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// TriggerRun godoc
// @Summary      Run every ingestion domain once
// @Description  Blocks until the run finishes and returns the per-domain report
// @Tags         runs
// @Produce      json
// @Success      200  {object}  domain.RunReport
// @Failure      503  {object}  map[string]string
// @Router       /api/runs [post]
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest runner unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-run")
	defer span.End()

	// A client disconnect does not abort ingestion; the run deadline still applies.
	report := h.runner.Run(context.WithoutCancel(ctx))
	span.SetAttributes(attribute.String("run_id", report.RunID))
	c.JSON(http.StatusOK, report)
}

// TriggerDomainRun godoc
// @Summary      Run one ingestion domain
// @Tags         runs
// @Produce      json
// @Param        domain  path  string  true  "market, onchain, macro or sentiment"
// @Success      200  {object}  domain.RunReport
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/runs/{domain} [post]
func (h *Handler) TriggerDomainRun(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest runner unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-domain-run")
	defer span.End()

	id, err := domain.ParseID(c.Param("domain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             err.Error(),
			"supported_domains": domain.AllDomains,
		})
		return
	}
	span.SetAttributes(attribute.String("domain", string(id)))

	report, err := h.runner.RunDomain(context.WithoutCancel(ctx), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetLatestRun godoc
// @Summary      Latest run report
// @Tags         runs
// @Produce      json
// @Success      200  {object}  domain.RunReport
// @Failure      404  {object}  map[string]string
// @Router       /api/runs/latest [get]
func (h *Handler) GetLatestRun(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report store unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-run")
	defer span.End()

	report, err := h.reports.LatestReport(ctx)
	if errors.Is(err, cache.ErrNoReport) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has been recorded yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListRuns godoc
// @Summary      Recent run reports, newest first
// @Tags         runs
// @Produce      json
// @Param        limit  query  int  false  "Maximum reports (default 10)"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report store unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-runs")
	defer span.End()

	limit, err := parseLimit(c.Query("limit"), 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.reports.History(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(reports), "runs": reports})
}

// ListSnapshots godoc
// @Summary      Snapshots mirrored into Postgres
// @Tags         snapshots
// @Produce      json
// @Param        domain  path   string  false  "Restrict to one domain"
// @Param        limit   query  int     false  "Maximum snapshots (default 30)"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/snapshots/{domain} [get]
func (h *Handler) ListSnapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot repository unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-snapshots")
	defer span.End()

	var id domain.ID
	if raw := c.Param("domain"); raw != "" {
		parsed, err := domain.ParseID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id = parsed
	}
	limit, err := parseLimit(c.Query("limit"), 30)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.snapshots.ListSnapshots(ctx, id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "snapshots": records})
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return 0, errors.New("limit must be an integer between 1 and 500")
	}
	return n, nil
}
