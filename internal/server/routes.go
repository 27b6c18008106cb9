package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes wires the compliance endpoints onto the router group. Mutating
// endpoints require a privileged caller; that check lives in the upstream
// auth layer.
func Routes(router *gin.RouterGroup, h *Handler) {
	compliance := router.Group("/compliance")
	{
		compliance.GET("/capital", h.GetCapitalCompliance)
		compliance.POST("/capital", h.TrackCapital)

		compliance.GET("/dormancy", h.GetDormancy)
		compliance.POST("/dormancy", h.PostDormancy)

		compliance.GET("/processing", h.GetProcessing)
		compliance.POST("/processing", h.PostProcessing)
	}
}

// MetricsHandler exposes the prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
