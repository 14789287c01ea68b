package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/faulttolerance"
	"github.com/navid-fn/optionsradar/internal/server/handler"
	"github.com/navid-fn/optionsradar/internal/server/middleware"
)

type Config struct {
	OptionsHandler *handler.OptionsHandler
	AdminHandler   *handler.AdminHandler
	Health         *faulttolerance.HealthMonitor
	Gatherer       prometheus.Gatherer
	AdminToken     string
	Logger         *logrus.Logger
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(router)
	}
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/v1/", middleware.Zstd())
	registerOptionsRoutes(api, cfg.OptionsHandler)
	registerAdminRoutes(api, cfg.AdminHandler, middleware.AdminToken(cfg.AdminToken))

	return router
}
