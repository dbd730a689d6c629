package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cinema-chat/internal/observability"
	"cinema-chat/internal/services"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(observability.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

// requestContext carries the request id into service calls for audit records.
func requestContext(c *gin.Context) context.Context {
	return services.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}

func userIDFromContext(c *gin.Context) int {
	return c.GetInt("userID")
}

func intParam(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
