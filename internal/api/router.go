package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the gin engine with every route of
// spec §6.
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.NoRoute(NotFoundHandler)

	h := NewJobHandler(deps)

	r.GET("/health", h.Health)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/:requestId", h.GetJob)
	r.POST("/vendor-webhook/:vendor", h.OnVendorWebhook)
	r.GET("/vendors/:name/stats", h.VendorStats)

	return r
}
