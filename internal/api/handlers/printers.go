package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/transport"
)

const discoveryTimeout = 30 * time.Second

// PrinterHandler serves the printer surface: the single virtual printer the
// service always advertises, plus BLE discovery for picking a physical
// endpoint.
type PrinterHandler struct {
	orchestrator *core.Orchestrator
	logger       *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	devices []transport.DeviceInfo
	seen    map[string]bool
}

func NewPrinterHandler(orchestrator *core.Orchestrator, logger *zap.Logger) *PrinterHandler {
	return &PrinterHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (h *PrinterHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"printers": []core.VirtualPrinter{h.orchestrator.VirtualPrinter()},
	})
}

// StartDiscovery begins a BLE scan session. The session replaces any
// previous one and stops on its own after a timeout.
func (h *PrinterHandler) StartDiscovery(c *gin.Context) {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	h.cancel = cancel
	h.devices = nil
	h.seen = make(map[string]bool)
	h.mu.Unlock()

	devices, err := transport.ScanBLE(ctx, h.logger)
	if err != nil {
		cancel()
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	go func() {
		for device := range devices {
			h.mu.Lock()
			if !h.seen[device.Address] {
				h.seen[device.Address] = true
				h.devices = append(h.devices, device)
			}
			h.mu.Unlock()
		}
	}()

	c.JSON(http.StatusOK, gin.H{"scanning": true})
}

func (h *PrinterHandler) StopDiscovery(c *gin.Context) {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"scanning": false})
}

func (h *PrinterHandler) Devices(c *gin.Context) {
	h.mu.Lock()
	devices := make([]transport.DeviceInfo, len(h.devices))
	copy(devices, h.devices)
	scanning := h.cancel != nil
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"scanning": scanning, "devices": devices})
}

// TestPrint queues a diagnostic page against the configured endpoint.
func (h *PrinterHandler) TestPrint(c *gin.Context) {
	content := c.Query("content")
	if content == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		content = scheme + "://" + c.Request.Host
	}

	job, err := h.orchestrator.SubmitSelfTest(c.Request.Context(), content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func RegisterPrinterRoutes(group *gin.RouterGroup, h *PrinterHandler) {
	printers := group.Group("/printers")
	{
		printers.GET("", h.List)
		printers.POST("/test", h.TestPrint)
	}
	discovery := group.Group("/discovery")
	{
		discovery.POST("/start", h.StartDiscovery)
		discovery.POST("/stop", h.StopDiscovery)
		discovery.GET("/devices", h.Devices)
	}
}
