package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"siniopay/internal/account"
	"siniopay/internal/api"
	"siniopay/internal/auth"
	"siniopay/internal/logger"
	"siniopay/internal/transaction"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Service is the slice of Engine the HTTP layer depends on.
type Service interface {
	ExecuteTransfer(ctx context.Context, req TransferRequest) (transaction.Transaction, error)
	ReverseTransaction(ctx context.Context, transactionID, reviewerID string) (transaction.Transaction, error)
	FlagTransaction(ctx context.Context, transactionID, reviewerID, reason string) (transaction.Transaction, error)
}

type Handler struct {
	service      Service
	accounts     account.Repository
	transactions transaction.Repository
	retry        RetryPolicy
}

func NewHandler(service Service, accounts account.Repository, transactions transaction.Repository) *Handler {
	return &Handler{
		service:      service,
		accounts:     accounts,
		transactions: transactions,
		retry:        DefaultRetryPolicy,
	}
}

type CreateTransferRequest struct {
	ToAccountNumber string          `json:"to_account_number" binding:"required,len=10,numeric"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

type FlagRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type statusError struct {
	target error
	status int
}

var errorStatuses = []statusError{
	{ErrAccountNotFound, http.StatusNotFound},
	{ErrTransactionNotFound, http.StatusNotFound},
	{ErrInvalidAmount, http.StatusBadRequest},
	{ErrInvalidTransactionType, http.StatusBadRequest},
	{ErrSelfTransfer, http.StatusBadRequest},
	{ErrInvalidReviewer, http.StatusBadRequest},
	{ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{ErrAccountNotActive, http.StatusConflict},
	{ErrInvalidReversalState, http.StatusConflict},
	{ErrInvalidFlagState, http.StatusConflict},
	{ErrReversalWouldOverdraw, http.StatusConflict},
	{ErrComplianceRejected, http.StatusForbidden},
	{ErrComplianceUnavailable, http.StatusServiceUnavailable},
	{ErrContentionTimeout, http.StatusServiceUnavailable},
	{ErrStorageFailure, http.StatusServiceUnavailable},
	{ErrInvariantViolation, http.StatusInternalServerError},
}

func StatusFor(err error) int {
	for _, se := range errorStatuses {
		if errors.Is(err, se.target) {
			return se.status
		}
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"error": publicMessage(err), "retryable": IsRetryable(err)}
	if IsRetryable(err) {
		c.Header("Retry-After", "1")
	}
	if errors.Is(err, ErrContentionTimeout) || errors.Is(err, ErrComplianceUnavailable) {
		api.MarkNothingWritten(c)
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("ledger request failed", "route", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}

// publicMessage strips wrapped driver detail from the error text.
func publicMessage(err error) string {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			if errors.Is(err, ErrComplianceRejected) || errors.Is(err, ErrAccountNotActive) {
				return err.Error()
			}
			return target.Error()
		}
	}
	return "internal error"
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	txType := transaction.TypeTransfer
	if req.Type != "" {
		txType = transaction.Type(req.Type)
	}
	if string(req.Metadata) == "null" {
		req.Metadata = nil
	}
	if len(req.Metadata) > 0 && req.Metadata[0] != '{' {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be a JSON object"})
		return
	}

	ctx := c.Request.Context()
	recipient, err := h.accounts.FindByNumber(ctx, req.ToAccountNumber)
	if errors.Is(err, account.ErrNotFound) {
		respondError(c, ErrAccountNotFound)
		return
	}
	if err != nil {
		api.MarkNothingWritten(c)
		respondError(c, classify(err))
		return
	}

	tx, err := Retry(ctx, h.retry, func(ctx context.Context) (transaction.Transaction, error) {
		return h.service.ExecuteTransfer(ctx, TransferRequest{
			FromUserID: userID,
			ToUserID:   recipient.OwnerID,
			Amount:     req.Amount,
			Type:       txType,
			Metadata:   types.JSONText(req.Metadata),
		})
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	id := c.Param("id")
	if err := checkTransactionID(id); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	tx, err := h.transactions.FindByID(ctx, id)
	if err != nil {
		respondError(c, classify(err))
		return
	}

	if !auth.IsAdmin(c) {
		own, err := h.accounts.FindByOwner(ctx, userID)
		if err != nil || !tx.Involves(own.ID) {
			// Do not reveal transactions of other users.
			respondError(c, ErrTransactionNotFound)
			return
		}
	}

	c.JSON(http.StatusOK, tx)
}

func (h *Handler) ListMyTransactions(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx := c.Request.Context()
	own, err := h.accounts.FindByOwner(ctx, userID)
	if err != nil {
		respondError(c, classify(err))
		return
	}

	txs, err := h.transactions.FindByAccount(ctx, own.ID, limit, offset)
	if err != nil {
		respondError(c, classify(err))
		return
	}

	c.JSON(http.StatusOK, txs)
}

func (h *Handler) ReverseTransaction(c *gin.Context) {
	adminID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	id := c.Param("id")
	if err := checkTransactionID(id); err != nil {
		respondError(c, err)
		return
	}

	tx, err := h.service.ReverseTransaction(c.Request.Context(), id, adminID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

func (h *Handler) FlagTransaction(c *gin.Context) {
	adminID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	id := c.Param("id")
	if err := checkTransactionID(id); err != nil {
		respondError(c, err)
		return
	}

	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	tx, err := h.service.FlagTransaction(c.Request.Context(), id, adminID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tx)
}
