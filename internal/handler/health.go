package handler

import (
	"net/http"

	"tsingest/internal/domain"

	"github.com/gin-gonic/gin"
)

type domainLister interface {
	Domains() []domain.ID
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

// Health godoc
// @Summary      Health check
// @Description  Returns the service status, configured domains and optional stores
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"reports":   enabled(h.reports != nil),
		"snapshots": enabled(h.snapshots != nil),
	}
	if l, ok := h.runner.(domainLister); ok {
		body["domains"] = l.Domains()
	}
	c.JSON(http.StatusOK, body)
}
