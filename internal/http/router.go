package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterConfig carries the settings of the HTTP layer.
type RouterConfig struct {
	// AllowedOrigins for CORS; all origins are allowed when empty.
	AllowedOrigins []string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// SetupRouter creates and configures the Gin router.
func SetupRouter(jobs LoadJobs, cfg RouterConfig) *gin.Engine {

	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	router.Use(cors.New(corsConfig))

	// Create handler.
	handler := NewHandler(jobs)

	// API v1 routes.
	v1 := router.Group("/v1")
	loads := v1.Group("/loads")
	loads.POST("", handler.CreateLoad)
	loads.GET("", handler.ListLoads)
	loads.GET("/:id", handler.GetLoad)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	return router
}
