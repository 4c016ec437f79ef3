package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/inkfeed/inkfeed/internal/db"
)

// PendingHandler exposes the durable queue of jobs waiting for a printer
// endpoint. Entries normally drain on their own once an endpoint is
// configured; discard exists for jobs the user no longer wants.
type PendingHandler struct{}

func NewPendingHandler() *PendingHandler {
	return &PendingHandler{}
}

func (h *PendingHandler) List(c *gin.Context) {
	records, err := db.Pending.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": records})
}

func (h *PendingHandler) Discard(c *gin.Context) {
	id := c.Param("id")

	record, err := db.Pending.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending job not found"})
		return
	}

	if err := db.Pending.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to discard pending job"})
		return
	}
	os.Remove(record.ContentPath)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func RegisterPendingRoutes(group *gin.RouterGroup, h *PendingHandler) {
	pending := group.Group("/pending")
	{
		pending.GET("", h.List)
		pending.DELETE("/:id", h.Discard)
	}
}
