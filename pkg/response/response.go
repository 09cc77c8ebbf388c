package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/groupcare/backend/internal/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind apperr.Kind `json:"error_kind,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, ErrorKind: apperr.KindInvalid})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, ErrorKind: apperr.KindNotFound})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, ErrorKind: apperr.KindInternal})
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindInvalidState:    http.StatusConflict,
	apperr.KindFull:            http.StatusConflict,
	apperr.KindAlreadyEnrolled: http.StatusConflict,
	apperr.KindTooLate:         http.StatusConflict,
	apperr.KindNotEligible:     http.StatusForbidden,
	apperr.KindUnauthorized:    http.StatusForbidden,
	apperr.KindInvalid:         http.StatusBadRequest,
}

// Error sends err as a typed failure. Internal errors never expose their message.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		c.JSON(http.StatusInternalServerError, Body{Success: false, Error: "internal error", ErrorKind: apperr.KindInternal})
		return
	}
	c.JSON(status, Body{Success: false, Error: err.Error(), ErrorKind: kind})
}
