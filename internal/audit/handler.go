package audit

import (
	"net/http"

	"siniopay/internal/api"
	"siniopay/internal/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// TransactionTrail serves the reversal and flag history of one transaction.
func (h *Handler) TransactionTrail(c *gin.Context) {
	h.trail(c, EntityTransaction)
}

// AccountTrail serves the status changes of one account.
func (h *Handler) AccountTrail(c *gin.Context) {
	h.trail(c, EntityAccount)
}

func (h *Handler) trail(c *gin.Context, entityType string) {
	id := c.Param("id")
	entries, err := h.reader.ListForEntity(c.Request.Context(), entityType, id)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("failed to read audit trail", "entity_type", entityType, "entity_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to read audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
