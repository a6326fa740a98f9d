// Package admin provides a thin, contract-only HTTP façade over the Engine
// (spec §6.1): register/enable/disable/bulk operations and read-only
// evaluation endpoints for operational tooling. Authorization is an
// explicit spec Non-goal; callers are expected to front this with their own
// gateway-level auth.
package admin

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"magick/internal/core/apperror"
	appctx "magick/internal/core/context"
	"magick/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// trace adds a request/trace ID pair to the request context, generating
// either one that isn't supplied by the caller.
func trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		tc := &appctx.TraceContext{TraceID: traceID, SpanID: uuid.New().String()[:16], RequestID: requestID}
		ctx := appctx.WithTrace(c.Request.Context(), tc)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)
		c.Next()
	}
}

// recovery turns a panic into a 500 INTERNAL_ERROR instead of crashing the
// process; the stack trace is logged, never returned to the caller.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "admin: panic recovered", "error", r, "stack", string(debug.Stack()))
				_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", r)))
				c.AbortWithStatusJSON(500, gin.H{"code": apperror.CodeInternal, "message": "internal server error"})
			}
		}()
		c.Next()
	}
}

// requestLogger logs method/path/status/latency for every admin call.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info(c.Request.Context(), "admin request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// errorHandler converts the last gin error into the AppError JSON contract
// the admin API promises; it hides internal error detail from the client
// while still logging it.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if ae, ok := apperror.AsAppError(err); ok {
			if ae.Err != nil {
				logger.Error(c.Request.Context(), "admin request error", "code", ae.Code, "cause", ae.Err)
			}
			c.JSON(ae.HTTPStatus, gin.H{"code": ae.Code, "message": ae.Message, "details": ae.Details})
			return
		}

		logger.Error(c.Request.Context(), "admin unhandled error", "error", err)
		c.JSON(500, gin.H{"code": apperror.CodeInternal, "message": "internal server error"})
	}
}
