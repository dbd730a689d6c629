package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuditHandler exposes stored message state, including deleted rows, to operators.
type AuditHandler struct {
	svc ChatService
}

func NewAuditHandler(svc ChatService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

func (h *AuditHandler) MessageAudit(c *gin.Context) {
	messageID, ok := intParam(c, "message_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	audit, err := h.svc.MessageAudit(requestContext(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}
