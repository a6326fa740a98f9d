package admin

import (
	"github.com/gin-gonic/gin"

	"magick/internal/engine"
	"magick/pkg/logger"
)

// RouterConfig configures the admin façade.
type RouterConfig struct {
	Engine *engine.Engine
	Logger *logger.Logger
}

// NewRouter builds the admin HTTP API (spec §6.1): contract-only, no
// authorization layer of its own.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(recovery())
	router.Use(trace())
	router.Use(requestLogger())
	router.Use(errorHandler())

	router.GET("/health/live", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	h := &handler{engine: cfg.Engine}

	flags := router.Group("/api/v1/flags")
	{
		flags.GET("", h.list)
		flags.POST("", h.register)
		flags.GET("/:name", h.get)
		flags.POST("/:name/enable", h.enable)
		flags.POST("/:name/disable", h.disable)
		flags.PUT("/:name/value", h.setValue)
		flags.PUT("/:name/group", h.setGroup)
		flags.PUT("/:name/targeting", h.updateTargeting)
		flags.POST("/:name/roles/:role/enable", h.enableForRole)
		flags.POST("/:name/roles/:role/disable", h.disableForRole)
		flags.POST("/:name/users/:user/enable", h.enableForUser)
		flags.POST("/:name/users/:user/disable", h.disableForUser)
		flags.POST("/:name/evaluate", h.evaluate)
		flags.POST("/bulk-enable", h.bulkEnable)
		flags.POST("/bulk-disable", h.bulkDisable)
	}

	router.POST("/api/v1/reload", h.reload)
	router.POST("/api/v1/reset", h.reset)

	return router
}
