package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/service"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

// DefaultLogLimit is how many run log entries GET /logs returns by default.
const DefaultLogLimit = 50

type AdminHandler struct {
	adminService *service.AdminService
	logger       *logrus.Logger
}

func NewAdminHandler(svc *service.AdminService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: svc,
		logger:       logger,
	}
}

type symbolRequest struct {
	Symbol  string `json:"symbol" form:"symbol"`
	Enqueue *bool  `json:"enqueue" form:"enqueue"`
}

// symbolParam reads symbol from the body (JSON or form) or the query string.
func symbolParam(c *gin.Context) symbolRequest {
	var req symbolRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBind(&req)
	}
	if req.Symbol == "" {
		req.Symbol = c.Query("symbol")
	}
	return req
}

// Sync runs a synchronous sync: 200 on success, 404 for an unregistered
// symbol, 422 for any other failure. The body is the sync result either way.
func (h *AdminHandler) Sync(c *gin.Context) {
	req := symbolParam(c)
	result, err := h.adminService.Sync(c.Request.Context(), req.Symbol)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		var nerr *syncer.NotRegisteredError
		if errors.As(result.Cause(), &nerr) {
			status = http.StatusNotFound
		} else {
			status = http.StatusUnprocessableEntity
		}
	}
	c.JSON(status, result)
}

func (h *AdminHandler) SyncStatus(c *gin.Context) {
	status, err := h.adminService.SyncStatus(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// AddSymbol registers a symbol; it is queued unless enqueue=false.
func (h *AdminHandler) AddSymbol(c *gin.Context) {
	req := symbolParam(c)
	enqueue := true
	if req.Enqueue != nil {
		enqueue = *req.Enqueue
	}

	result, err := h.adminService.AddSymbol(c.Request.Context(), req.Symbol, enqueue)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *AdminHandler) TriggerRefill(c *gin.Context) {
	result, err := h.adminService.TriggerRefill(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) CancelNextRefill(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.adminService.CancelNextRefill(c.Request.Context())})
}

func (h *AdminHandler) TriggerDrain(c *gin.Context) {
	result, err := h.adminService.TriggerDrainOnce(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) ForceDrain(c *gin.Context) {
	result, err := h.adminService.ForceDrainNow(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) CancelNextDrain(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.adminService.CancelNextDrain(c.Request.Context())})
}

func (h *AdminHandler) GetBuffer(c *gin.Context) {
	status, err := h.adminService.BufferStatus(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) GetBufferContents(c *gin.Context) {
	symbols, err := h.adminService.BufferContents(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols, "count": len(symbols)})
}

func (h *AdminHandler) ClearBuffer(c *gin.Context) {
	if err := h.adminService.ClearBuffer(c.Request.Context()); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) EnqueueMissing(c *gin.Context) {
	added, err := h.adminService.EnqueueMissing(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *AdminHandler) GetSchedule(c *gin.Context) {
	status, err := h.adminService.ScheduleStatus(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) SetSchedule(c *gin.Context) {
	var req struct {
		Schedule string `json:"schedule" form:"schedule" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		abort(c, codeInvalidRequest, "schedule is required")
		return
	}

	schedule, err := h.adminService.SetRefillSchedule(c.Request.Context(), req.Schedule)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refill_schedule": schedule})
}

func (h *AdminHandler) SetBatchSize(c *gin.Context) {
	var req struct {
		BatchSize *int `json:"batch_size" form:"batch_size" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		abort(c, codeInvalidRequest, "batch_size is required")
		return
	}

	if err := h.adminService.SetBatchSize(c.Request.Context(), *req.BatchSize); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_size": *req.BatchSize})
}

func (h *AdminHandler) GetLogs(c *gin.Context) {
	limit := DefaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abort(c, codeInvalidRequest, "Invalid limit: "+raw)
			return
		}
		limit = n
	}

	logs, err := h.adminService.Logs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *AdminHandler) ClearLogs(c *gin.Context) {
	if err := h.adminService.ClearLogs(c.Request.Context()); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Cleanup runs garbage collection; ?start=YYMMDD&end=YYMMDD restricts it to
// deleting the records expiring in that range.
func (h *AdminHandler) Cleanup(c *gin.Context) {
	result, err := h.adminService.Cleanup(c.Request.Context(), c.Query("start"), c.Query("end"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) CleanupStats(c *gin.Context) {
	stats, err := h.adminService.CleanupStatistics(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
