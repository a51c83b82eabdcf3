package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all gateway routes.
func RegisterRoutes(router *gin.Engine, api *API) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", api.PostMessageHandler)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/subscribe", api.WebSocketHandler)
	}

	router.GET("/healthz", api.HealthzHandler)
}
