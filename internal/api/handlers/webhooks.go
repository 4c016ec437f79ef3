package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/inkfeed/inkfeed/internal/db"
)

var validWebhookEvents = map[string]bool{
	"job_queued":     true,
	"job_blocked":    true,
	"job_started":    true,
	"job_completed":  true,
	"job_failed":     true,
	"job_canceled":   true,
	"printer_status": true,
}

type WebhookRequest struct {
	Name    string   `json:"name" binding:"required"`
	URL     string   `json:"url" binding:"required,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events" binding:"required,min=1"`
	Enabled *bool    `json:"enabled"`
}

type WebhookHandler struct{}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

func (h *WebhookHandler) List(c *gin.Context) {
	webhooks, err := db.Webhooks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}

func (h *WebhookHandler) Create(c *gin.Context) {
	req, ok := bindWebhook(c)
	if !ok {
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate id"})
		return
	}

	eventsJSON, _ := json.Marshal(req.Events)
	webhook := &db.Webhook{
		ID:         id,
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: string(eventsJSON),
		Enabled:    req.Enabled == nil || *req.Enabled,
		CreatedAt:  time.Now(),
	}
	if err := db.Webhooks.Create(c.Request.Context(), webhook); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}
	c.JSON(http.StatusCreated, webhook)
}

func (h *WebhookHandler) Update(c *gin.Context) {
	req, ok := bindWebhook(c)
	if !ok {
		return
	}

	webhook, err := db.Webhooks.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}

	eventsJSON, _ := json.Marshal(req.Events)
	webhook.Name = req.Name
	webhook.URL = req.URL
	if req.Secret != "" {
		webhook.Secret = req.Secret
	}
	webhook.EventsJSON = string(eventsJSON)
	if req.Enabled != nil {
		webhook.Enabled = *req.Enabled
	}

	if err := db.Webhooks.Update(c.Request.Context(), webhook); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update webhook"})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	if err := db.Webhooks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func bindWebhook(c *gin.Context) (*WebhookRequest, bool) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event: " + event})
			return nil, false
		}
	}
	return &req, true
}

func RegisterWebhookRoutes(group *gin.RouterGroup, h *WebhookHandler) {
	webhooks := group.Group("/webhooks")
	{
		webhooks.GET("", h.List)
		webhooks.POST("", h.Create)
		webhooks.PUT("/:id", h.Update)
		webhooks.DELETE("/:id", h.Delete)
	}
}
