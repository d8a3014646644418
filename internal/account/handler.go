package account

import (
	"errors"
	"net/http"

	"siniopay/internal/audit"
	"siniopay/internal/auth"
	"siniopay/internal/logger"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo  Repository
	audit audit.Sink
}

// NewHandler wires the account endpoints. sink may be nil.
func NewHandler(repo Repository, sink audit.Sink) *Handler {
	return &Handler{repo: repo, audit: sink}
}

func (h *Handler) GetMine(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	a, err := h.repo.FindByOwner(c.Request.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		logger.Error("failed to load account", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of active, frozen, closed"})
		return
	}

	adminID, _ := auth.GetUserID(c)
	a, err := h.repo.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		logger.Error("failed to update account status", "account_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update account status"})
		return
	}

	logger.Info("account status changed", "account_id", a.ID, "status", a.Status, "admin_id", adminID)
	if h.audit != nil {
		details := map[string]any{"status": string(a.Status)}
		if err := h.audit.Record(c.Request.Context(), adminID, audit.ActionAccountStatus, audit.EntityAccount, a.ID, details); err != nil {
			logger.Error("failed to audit account status change", "account_id", a.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, a)
}
