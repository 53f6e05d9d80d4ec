package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats is a snapshot of host load.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	Goroutines    int     `json:"goroutines"`
}

// HealthHandler reports the state of the database, the event bus and the
// host.
type HealthHandler struct {
	store   EventStore
	bus     events.EventBus
	started time.Time
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. bus may be nil.
func NewHealthHandler(store EventStore, bus events.EventBus) *HealthHandler {
	return &HealthHandler{store: store, bus: bus, started: time.Now(), timeout: 2 * time.Second}
}

// HandleHealthCheck answers 200 when the database is reachable and 503
// otherwise. A stopped or backed-up bus only degrades the status.
func (h *HealthHandler) HandleHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := gin.H{}

	if err := h.store.Ping(ctx); err != nil {
		status = "error"
		code = http.StatusServiceUnavailable
		checks["database"] = gin.H{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = gin.H{"status": "ok"}
	}

	if h.bus != nil {
		bus := gin.H{"status": "ok", "stats": h.bus.Stats()}
		if err := h.bus.Health(); err != nil {
			bus["status"] = "error"
			bus["error"] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
		}
		checks["events"] = bus
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "projectace",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"checks":  checks,
		"system":  collectSystemStats(ctx),
	})
}

// collectSystemStats reads host counters; unavailable values stay zero.
func collectSystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{Goroutines: runtime.NumGoroutine()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsed = vm.Used
		stats.MemoryTotal = vm.Total
	}
	return stats
}
