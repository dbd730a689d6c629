package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cinema-chat/internal/apperrors"
)

// writeError maps service errors to HTTP responses. Internal causes are logged, never returned.
func writeError(c *gin.Context, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ReasonOf(err)})
	case apperrors.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": apperrors.ReasonOf(err)})
	case apperrors.KindWindowExpired:
		c.JSON(http.StatusForbidden, gin.H{"error": apperrors.ReasonOf(err), "code": "window_expired"})
	case apperrors.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": apperrors.ReasonOf(err)})
	case apperrors.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": apperrors.ReasonOf(err)})
	default:
		log.Printf("request failed method=%s path=%s request_id=%s: %v", c.Request.Method, c.FullPath(), requestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
