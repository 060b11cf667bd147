package handlers

import (
	"log"
	"net/http"

	"github.com/LovationAdmin/fleet-api/services"

	"github.com/gin-gonic/gin"
)

type KPIHandler struct {
	Reconciler *services.Reconciler
	Source     services.SnapshotSource
}

// Current returns the month-to-date KPIs computed from the data source.
func (h *KPIHandler) Current(c *gin.Context) {
	if h.Source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "No data source configured"})
		return
	}

	snap, err := h.Source.Snapshot(c.Request.Context())
	partial := err != nil
	if partial {
		log.Printf("⚠️ KPI snapshot incomplete: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"partial": partial,
		"data":    h.Reconciler.Compute(snap),
	})
}
