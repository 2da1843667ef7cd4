package web

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/suren-cb/qatestsuit/internal/catalog"
	"github.com/suren-cb/qatestsuit/internal/instance"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor maps a lifecycle or catalog error to its HTTP status and
// machine-readable error code.
func statusFor(err error) (int, string) {
	var (
		vErr  *instance.ValidationError
		cErr  *instance.CapacityError
		nfErr *instance.NotFoundError
		rErr  *instance.RuntimeError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &cErr):
		return http.StatusConflict, "capacity_exceeded"
	case errors.As(err, &nfErr), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &rErr):
		return http.StatusBadGateway, "engine_error"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

// ErrorHandler is a middleware that renders errors attached to the
// context. Handlers report failures with c.Error and leave the response
// body to this middleware, so every error is shaped the same way.
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(err).Error("Error handling request")
		}
		c.JSON(status, ErrorResponse{
			Error:   code,
			Code:    status,
			Message: err.Error(),
		})
	}
}

// RecoveryHandler is a middleware that recovers from panics
func RecoveryHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic recovered: %v\n%s", r, debug.Stack())

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:   "internal_server_error",
					Code:    http.StatusInternalServerError,
					Message: fmt.Sprintf("Internal server error: %v", r),
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}

// LoggingMiddleware is a middleware that logs requests
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"ip":     c.ClientIP(),
		}).Debug("Request started")

		c.Next()

		end := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"ip":       c.ClientIP(),
			"status":   c.Writer.Status(),
			"size":     c.Writer.Size(),
			"duration": c.Writer.Header().Get("X-Response-Time"),
		})

		if len(c.Errors) > 0 {
			end.WithField("error", c.Errors.Last().Error()).Info("Request completed with errors")
		} else {
			end.Info("Request completed")
		}
	}
}
