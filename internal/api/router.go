package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mudmap/mudmap-backend-go/internal/handler"
	"github.com/mudmap/mudmap-backend-go/internal/middleware"
)

// SetupRouter wires the HTTP surface over the core engine
func SetupRouter(reports *handler.ReportHandler, tiles *handler.TileHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	limiter := middleware.NewRateLimiter(60, time.Minute)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Mudmap backend is running",
		})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/reports", middleware.RateLimit(limiter), reports.SubmitReport)
		api.GET("/cells", reports.GetCells)
		api.GET("/tiles/:zoom/:x/:y", tiles.GetTile)
		api.GET("/region/version", tiles.GetVersion)
	}

	return r
}
