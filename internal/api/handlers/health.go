package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/services"
)

var startTime = time.Now()

// RadarStatus is the read-only view of the scanner used by the handlers.
type RadarStatus interface {
	Ready() bool
	Stats() services.OrchestratorStats
	Zones() []models.MonitoredZone
	LastHealth() (services.HealthReport, bool)
}

// CheckFunc probes an optional dependency such as Redis.
type CheckFunc func(ctx context.Context) error

type HealthHandler struct {
	radar   RadarStatus
	checks  map[string]CheckFunc
	version string
}

type HealthResponse struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Services  map[string]string          `json:"services"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Scanner   services.OrchestratorStats `json:"scanner"`
	Health    *services.HealthReport     `json:"health,omitempty"`
}

// ZoneView is the JSON form of a monitored zone.
type ZoneView struct {
	Symbol       string             `json:"symbol"`
	Timeframe    string             `json:"timeframe"`
	Support      float64            `json:"support"`
	Resistance   float64            `json:"resistance"`
	RangePct     float64            `json:"range_pct"`
	Quality      models.ZoneQuality `json:"quality"`
	Strength     float64            `json:"strength"`
	Lookback     int                `json:"lookback"`
	Status       models.ZoneStatus  `json:"status"`
	BreakoutUp   bool               `json:"breakout_up"`
	BreakoutDown bool               `json:"breakout_down"`
	CreatedAt    time.Time          `json:"created_at"`
}

func NewHealthHandler(radar RadarStatus, checks map[string]CheckFunc, version string) *HealthHandler {
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &HealthHandler{radar: radar, checks: checks, version: version}
}

// HealthCheck reports scanner statistics and the state of optional
// dependencies. A failing dependency degrades the status but the scanner
// keeps running, so the endpoint still answers 200.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	svc := make(map[string]string, len(h.checks)+1)

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	for _, name := range names {
		if err := h.checks[name](c.Request.Context()); err != nil {
			svc[name] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			svc[name] = "healthy"
		}
	}

	if h.radar.Ready() {
		svc["scanner"] = "healthy"
	} else {
		svc["scanner"] = "starting"
		if status == "healthy" {
			status = "starting"
		}
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  svc,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
		Scanner:   h.radar.Stats(),
	}
	if report, ok := h.radar.LastHealth(); ok {
		resp.Health = &report
	}
	c.JSON(http.StatusOK, resp)
}

// ReadinessCheck answers 503 until catalogs are loaded and the scan loop runs.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.radar.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Liveness check for container restarts
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ListZones returns monitored zones, optionally filtered by symbol and
// timeframe query parameters.
func (h *HealthHandler) ListZones(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")

	zones := h.radar.Zones()
	out := make([]ZoneView, 0, len(zones))
	for _, mz := range zones {
		z := mz.Zone
		if symbol != "" && z.Symbol() != symbol {
			continue
		}
		if tf != "" && z.Timeframe().String() != tf {
			continue
		}
		out = append(out, ZoneView{
			Symbol:       z.Symbol(),
			Timeframe:    z.Timeframe().String(),
			Support:      z.Support(),
			Resistance:   z.Resistance(),
			RangePct:     z.RangePct(),
			Quality:      z.Quality(),
			Strength:     z.StrengthScore(),
			Lookback:     z.Lookback(),
			Status:       mz.Status,
			BreakoutUp:   mz.BreakoutUp,
			BreakoutDown: mz.BreakoutDown,
			CreatedAt:    z.CreatedAt(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "zones": out})
}
