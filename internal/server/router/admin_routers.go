package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/optionsradar/internal/server/handler"
)

func registerAdminRoutes(router *gin.RouterGroup, adminHandler *handler.AdminHandler, auth gin.HandlerFunc) {
	router.POST("/sync", auth, adminHandler.Sync)

	admin := router.Group("/admin", auth)
	{
		admin.POST("/symbols", adminHandler.AddSymbol)
		admin.GET("/sync/:symbol", adminHandler.SyncStatus)

		admin.POST("/refill", adminHandler.TriggerRefill)
		admin.DELETE("/refill", adminHandler.CancelNextRefill)
		admin.POST("/drain", adminHandler.TriggerDrain)
		admin.POST("/drain/force", adminHandler.ForceDrain)
		admin.DELETE("/drain", adminHandler.CancelNextDrain)

		admin.GET("/buffer", adminHandler.GetBuffer)
		admin.GET("/buffer/contents", adminHandler.GetBufferContents)
		admin.POST("/buffer/missing", adminHandler.EnqueueMissing)
		admin.DELETE("/buffer", adminHandler.ClearBuffer)

		admin.GET("/schedule", adminHandler.GetSchedule)
		admin.PUT("/schedule", adminHandler.SetSchedule)
		admin.PUT("/batch-size", adminHandler.SetBatchSize)

		admin.GET("/logs", adminHandler.GetLogs)
		admin.DELETE("/logs", adminHandler.ClearLogs)

		admin.POST("/cleanup", adminHandler.Cleanup)
		admin.GET("/cleanup/stats", adminHandler.CleanupStats)
	}
}
