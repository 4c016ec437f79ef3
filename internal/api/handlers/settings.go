package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/db"
)

const settingsKeyPrinter = "printer_config"

// PrinterSettingsRequest mirrors config.PrinterConfig with durations in
// milliseconds so the JSON surface stays flat.
type PrinterSettingsRequest struct {
	Transport        string `json:"transport" binding:"required,oneof=ble serial"`
	Address          string `json:"address"`
	PaperWidth       string `json:"paper_width" binding:"required,oneof=narrow wide"`
	AutoCut          *bool  `json:"auto_cut"`
	FeedLines        int    `json:"feed_lines"`
	Encoding         string `json:"encoding"`
	Density          int    `json:"density"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms"`
	WriteTimeoutMS   int    `json:"write_timeout_ms"`
	ChunkDelayMS     int    `json:"chunk_delay_ms"`
	BaudRate         int    `json:"baud_rate"`
}

type SettingsHandler struct {
	orchestrator *core.Orchestrator
	logger       *zap.Logger
}

func NewSettingsHandler(orchestrator *core.Orchestrator, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{orchestrator: orchestrator, logger: logger}
}

func (h *SettingsHandler) GetPrinter(c *gin.Context) {
	c.JSON(http.StatusOK, settingsResponse(h.orchestrator.PrinterSettings()))
}

// UpdatePrinter applies new printer settings. Setting an address where none
// existed releases every held job; changing it reconnects on the next job.
func (h *SettingsHandler) UpdatePrinter(c *gin.Context) {
	var req PrinterSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := h.orchestrator.PrinterSettings()
	cfg.Transport = req.Transport
	cfg.Address = req.Address
	cfg.PaperWidth = req.PaperWidth
	if req.AutoCut != nil {
		cfg.AutoCut = *req.AutoCut
	}
	if req.FeedLines > 0 {
		cfg.FeedLines = req.FeedLines
	}
	if req.Encoding != "" {
		cfg.Encoding = req.Encoding
	}
	if req.Density > 0 {
		cfg.Density = req.Density
	}
	if req.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeout = time.Duration(req.ConnectTimeoutMS) * time.Millisecond
	}
	if req.WriteTimeoutMS > 0 {
		cfg.WriteTimeout = time.Duration(req.WriteTimeoutMS) * time.Millisecond
	}
	if req.ChunkDelayMS > 0 {
		cfg.ChunkDelay = time.Duration(req.ChunkDelayMS) * time.Millisecond
	}
	if req.BaudRate > 0 {
		cfg.BaudRate = req.BaudRate
	}

	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orchestrator.Configure(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Persist so a restart picks up what the UI configured, not just the
	// config file.
	if raw, err := json.Marshal(cfg); err == nil {
		if err := db.Settings.SetSetting(c.Request.Context(), settingsKeyPrinter, string(raw), false); err != nil {
			h.logger.Warn("failed to persist printer settings", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, settingsResponse(cfg))
}

func settingsResponse(cfg config.PrinterConfig) gin.H {
	return gin.H{
		"transport":          cfg.Transport,
		"address":            cfg.Address,
		"paper_width":        cfg.PaperWidth,
		"auto_cut":           cfg.AutoCut,
		"feed_lines":         cfg.FeedLines,
		"encoding":           cfg.Encoding,
		"density":            cfg.Density,
		"connect_timeout_ms": int(cfg.ConnectTimeout / time.Millisecond),
		"write_timeout_ms":   int(cfg.WriteTimeout / time.Millisecond),
		"chunk_delay_ms":     int(cfg.ChunkDelay / time.Millisecond),
		"baud_rate":          cfg.BaudRate,
		"dots_per_line":      cfg.DotsPerLine(),
	}
}

// LoadPersistedPrinterConfig overlays settings saved through the API onto
// the file-derived configuration. Called once at startup.
func LoadPersistedPrinterConfig(ctx context.Context, cfg *config.Config) {
	setting, err := db.Settings.GetSetting(ctx, settingsKeyPrinter)
	if err != nil {
		return
	}
	var saved config.PrinterConfig
	if err := json.Unmarshal([]byte(setting.Value), &saved); err != nil {
		return
	}
	if saved.Validate() == nil {
		cfg.Printer = saved
	}
}

func RegisterSettingsRoutes(group *gin.RouterGroup, h *SettingsHandler) {
	settings := group.Group("/settings")
	{
		settings.GET("/printer", h.GetPrinter)
		settings.PUT("/printer", h.UpdatePrinter)
	}
}
