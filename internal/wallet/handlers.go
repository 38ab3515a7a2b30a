package wallet

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celf-labs/celfd/internal/pagination"
)

// Handler provides HTTP endpoints for wallet balances and ledger history.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet/:accountId/balance", h.GetBalance)
	r.GET("/wallet/:accountId/transactions", h.ListTransactions)
}

// GetBalance handles GET /api/v1/wallet/:accountId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	accountID := c.Param("accountId")

	acct, err := h.ledger.Balance(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":        acct.AccountID,
		"confirmed_balance": acct.ConfirmedBalance,
		"pending_balance":   acct.PendingBalance,
		"updated_at":        acct.UpdatedAt,
	})
}

// ListTransactions handles GET /api/v1/wallet/:accountId/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID := c.Param("accountId")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	var before time.Time
	var beforeID string
	if cursor != nil {
		before = cursor.At
		beforeID = cursor.ID
	}

	// Fetch one extra row to detect whether another page exists.
	txns, err := h.ledger.Transactions(c.Request.Context(), accountID, limit+1, before, beforeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	txns, next, hasMore := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.AppliedAt, t.TxID
	})
	if txns == nil {
		txns = []*Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
		"next_cursor":  next,
		"has_more":     hasMore,
	})
}
