package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthComponents struct {
	Database     bool            `json:"database"`
	DatabasePool string          `json:"database_pool"`
	Vendors      map[string]bool `json:"vendors"`
}

type healthResponse struct {
	Status     string           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
	Components healthComponents `json:"components"`
}

// Health handles GET /health, aggregating the store's reachability with
// every configured vendor's /health probe.
func (h *JobHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := h.store.HealthCheck(ctx)
	vendorHealth := h.vendors.HealthCheckAll(ctx)

	status := "healthy"
	if !dbHealthy {
		status = "degraded"
	}
	for _, ok := range vendorHealth {
		if !ok {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Components: healthComponents{
			Database:     dbHealthy,
			DatabasePool: h.store.DBStats(),
			Vendors:      vendorHealth,
		},
	})
}

type vendorStatsResponse struct {
	Vendor          string  `json:"vendor"`
	BreakerState    string  `json:"breaker_state"`
	Failures        int     `json:"failures"`
	Successes       int     `json:"successes"`
	TotalRequests   int64   `json:"total_requests"`
	ErrorRate       float64 `json:"error_rate"`
	RateLimitTokens float64 `json:"rate_limit_tokens"`
}

// VendorStats handles the supplemented GET /vendors/:name/stats endpoint,
// exposing circuit breaker and rate limiter state for operators.
func (h *JobHandler) VendorStats(c *gin.Context) {
	name := c.Param("name")

	if _, ok := h.vendors.Lookup(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vendor"})
		return
	}

	stats, _ := h.vendors.BreakerStats(name)
	tokens, _ := h.vendors.RateLimitTokens(name)

	c.JSON(http.StatusOK, vendorStatsResponse{
		Vendor:          name,
		BreakerState:    string(stats.State),
		Failures:        stats.Failures,
		Successes:       stats.Successes,
		TotalRequests:   stats.TotalRequests,
		ErrorRate:       stats.ErrorRate,
		RateLimitTokens: tokens,
	})
}
