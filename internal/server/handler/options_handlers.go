package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/service"
)

type OptionsHandler struct {
	optionsService *service.OptionsService
	logger         *logrus.Logger
}

func NewOptionsHandler(svc *service.OptionsService, logger *logrus.Logger) *OptionsHandler {
	return &OptionsHandler{
		optionsService: svc,
		logger:         logger,
	}
}

// GetOptions serves /options/:symbol?date=&strike=&field=&type=&exclude_bid_0=
func (h *OptionsHandler) GetOptions(c *gin.Context) {
	excludeBidZero, ok := queryBool(c, "exclude_bid_0")
	if !ok {
		return
	}

	result, err := h.optionsService.Query(c.Request.Context(), service.OptionQuery{
		Symbol:         c.Param("symbol"),
		Date:           c.Query("date"),
		Strike:         c.Query("strike"),
		Field:          c.Query("field"),
		Type:           c.Query("type"),
		ExcludeBidZero: excludeBidZero,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OptionsHandler) GetLatest(c *gin.Context) {
	quote, err := h.optionsService.Latest(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *OptionsHandler) GetExpirations(c *gin.Context) {
	dates, err := h.optionsService.Expirations(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(c.Param("symbol")), "expirations": dates})
}
