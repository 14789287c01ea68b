package router

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/optionsradar/internal/server/handler"
)

func registerOptionsRoutes(router *gin.RouterGroup, optionsHandler *handler.OptionsHandler) {
	opts := router.Group("/options")
	{
		opts.GET("/:symbol", optionsHandler.GetOptions)
		opts.GET("/:symbol/latest", optionsHandler.GetLatest)
		opts.GET("/:symbol/expirations", optionsHandler.GetExpirations)
	}
}
