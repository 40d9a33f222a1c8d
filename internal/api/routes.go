package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/accumulation-radar/internal/api/handlers"
	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/middleware"
)

// NewRouter creates a gin engine with recovery, tracing and request logging.
func NewRouter(serviceName string, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestTelemetry(logger))
	return router
}

func SetupRoutes(router *gin.Engine, radar handlers.RadarStatus, checks map[string]handlers.CheckFunc, version string) {
	health := handlers.NewHealthHandler(radar, checks, version)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "accumulation-radar",
			"version":   version,
			"endpoints": []string{"/health", "/ready", "/live", "/api/v1/zones"},
		})
	})
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/zones", health.ListZones)
	}
}

// NewServer creates the HTTP server with security timeouts.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}
}
