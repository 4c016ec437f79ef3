package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/db"
)

// Uploads above this size are rejected before decoding.
const maxUploadBytes = 16 << 20

type TextJobRequest struct {
	Title string `json:"title"`
	Body  string `json:"body" binding:"required"`
}

type JobHandler struct {
	orchestrator *core.Orchestrator
}

func NewJobHandler(orchestrator *core.Orchestrator) *JobHandler {
	return &JobHandler{orchestrator: orchestrator}
}

func (h *JobHandler) CreateText(c *gin.Context) {
	var req TextJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == "" {
		req.Title = "Text Job"
	}

	job, err := h.orchestrator.SubmitText(c.Request.Context(), req.Title, req.Body)
	if err != nil {
		h.submitError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) CreateDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	if len(content) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = header.Filename
	}

	job, err := h.orchestrator.SubmitDocument(c.Request.Context(), title, content)
	if err != nil {
		h.submitError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// CreateRaw accepts pre-encoded printer bytes in the request body and sends
// them to the device untouched.
func (h *JobHandler) CreateRaw(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	title := c.Query("title")
	if title == "" {
		title = "Raw Job"
	}

	job, err := h.orchestrator.SubmitRaw(c.Request.Context(), title, data)
	if err != nil {
		h.submitError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := db.Jobs.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")

	// Live jobs carry fresher page progress than the history row.
	if job, err := h.orchestrator.GetJob(id); err == nil {
		c.JSON(http.StatusOK, job)
		return
	}

	record, err := db.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, core.ErrJobNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *JobHandler) Delete(c *gin.Context) {
	if err := db.Jobs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *JobHandler) submitError(c *gin.Context, job *core.Job, err error) {
	if errors.Is(err, core.ErrPersistFailed) {
		// The job exists but failed immediately; surface both.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "job": job})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func RegisterJobRoutes(group *gin.RouterGroup, h *JobHandler) {
	jobs := group.Group("/jobs")
	{
		jobs.POST("/text", h.CreateText)
		jobs.POST("/document", h.CreateDocument)
		jobs.POST("/raw", h.CreateRaw)
		jobs.GET("", h.List)
		jobs.GET("/:id", h.Get)
		jobs.POST("/:id/cancel", h.Cancel)
		jobs.DELETE("/:id", h.Delete)
	}
}
