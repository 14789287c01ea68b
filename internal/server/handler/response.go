// Package handler adapts the services to gin.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/optionsradar/internal/service"
)

const (
	codeInvalidBool    = "invalid_bool"
	codeInvalidRequest = "invalid_request"
)

var statusByCode = map[string]int{
	service.CodeInvalidSymbol:     http.StatusBadRequest,
	service.CodeInvalidDate:       http.StatusBadRequest,
	service.CodeInvalidStrike:     http.StatusBadRequest,
	service.CodeInvalidField:      http.StatusBadRequest,
	service.CodeInvalidOptionType: http.StatusBadRequest,
	service.CodeInvalidSchedule:   http.StatusBadRequest,
	service.CodeInvalidBatchSize:  http.StatusBadRequest,
	service.CodeInvalidDateRange:  http.StatusBadRequest,
	service.CodeFieldNotFound:     http.StatusBadRequest,
	codeInvalidBool:               http.StatusBadRequest,
	codeInvalidRequest:            http.StatusBadRequest,
	service.CodeStockNotFound:     http.StatusNotFound,
	service.CodeNotInCBOE:         http.StatusNotFound,
	service.CodeNoOptionsFound:    http.StatusNotFound,
	service.CodeOptionNotFound:    http.StatusNotFound,
	service.CodeStockExists:       http.StatusConflict,
	service.CodeAlreadyProcessing: http.StatusConflict,
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, code, message string) {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}

// writeError renders err, hiding the cause of internal failures.
func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Code: service.CodeInternal, Message: "Internal error", Err: err}
	}
	if se.Code == service.CodeInternal {
		cause := err
		if se.Err != nil {
			cause = se.Err
		}
		logger.WithField("path", c.FullPath()).Errorf("Request failed: %v", cause)
	}
	abort(c, se.Code, se.Message)
}

// queryBool accepts true/false/1/0; an absent parameter is false.
func queryBool(c *gin.Context, name string) (bool, bool) {
	switch c.Query(name) {
	case "", "false", "0":
		return false, true
	case "true", "1":
		return true, true
	}
	abort(c, codeInvalidBool, "Invalid boolean for "+name+": "+c.Query(name))
	return false, false
}
