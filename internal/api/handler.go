// Package api exposes the collaborator-facing HTTP interface of the credit
// ledger: the write path used by bot, task, and governance drivers, and the
// read-only balance, history, statistics, and transparency endpoints.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spraxxx/pantry-ledger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler serves the ledger API.
type LedgerHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc *ledger.Service, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

// Register mounts the ledger routes on the given router group. writeAuth is
// applied to mutating endpoints only; pass a pass-through handler to
// disable authentication.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, writeAuth gin.HandlerFunc) {
	rg.POST("/transactions", writeAuth, h.RecordTransaction)
	rg.POST("/credits/award", writeAuth, h.AwardCredits)
	rg.POST("/credits/spend", writeAuth, h.SpendCredits)

	rg.GET("/transactions", h.TransactionsByKind)
	rg.GET("/accounts/:id", h.AccountSummary)
	rg.GET("/accounts/:id/balance", h.Balance)
	rg.GET("/accounts/:id/transactions", h.TransactionsByActor)
	rg.GET("/leaderboard", h.Leaderboard)

	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
	}

	rg.GET("/statistics", h.Statistics)
	rg.GET("/reports/transparency", h.TransparencyReport)
}

// recordRequest is the payload for POST /transactions.
type recordRequest struct {
	Kind        ledger.TransactionKind `json:"transaction_kind" binding:"required"`
	ActorID     string                 `json:"actor_id"`
	Description string                 `json:"description"`
	Credits     ledger.CreditMap       `json:"credits_awarded"`
	Metadata    map[string]any         `json:"metadata"`
}

// creditRequest is the payload for the award and spend endpoints.
type creditRequest struct {
	ActorID  string                `json:"actor_id"`
	Category ledger.CreditCategory `json:"category" binding:"required"`
	Amount   float64               `json:"amount"`
	Reason   string                `json:"reason"`
}

// RecordTransaction handles POST /transactions.
func (h *LedgerHandler) RecordTransaction(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	entry, err := h.svc.RecordTransaction(c.Request.Context(), req.Kind, req.ActorID, req.Description, req.Credits, req.Metadata)
	h.respondWrite(c, entry, err)
}

// AwardCredits handles POST /credits/award.
func (h *LedgerHandler) AwardCredits(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	entry, err := h.svc.AwardCredits(c.Request.Context(), req.ActorID, req.Category, req.Amount, req.Reason)
	h.respondWrite(c, entry, err)
}

// SpendCredits handles POST /credits/spend.
func (h *LedgerHandler) SpendCredits(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	entry, err := h.svc.SpendCredits(c.Request.Context(), req.ActorID, req.Category, req.Amount, req.Reason)
	h.respondWrite(c, entry, err)
}

// respondWrite maps write-path outcomes to HTTP. A persistence warning is a
// committed write: the response is still 201, with the warning surfaced so
// callers can see the durability gap.
func (h *LedgerHandler) respondWrite(c *gin.Context, entry *ledger.Entry, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"entry_id": entry.EntryID, "hash_current": entry.HashCurrent})
	case errors.Is(err, ledger.ErrPersistence):
		c.JSON(http.StatusCreated, gin.H{
			"entry_id":            entry.EntryID,
			"hash_current":        entry.HashCurrent,
			"persistence_warning": err.Error(),
		})
	case errors.Is(err, ledger.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientCredits):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("record transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record transaction"})
	}
}

// Balance handles GET /accounts/:id/balance. An optional category query
// restricts the result to one category.
func (h *LedgerHandler) Balance(c *gin.Context) {
	category := ledger.CreditCategory(c.Query("category"))
	if category != "" && !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown credit category"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actor_id": c.Param("id"),
		"balances": h.svc.Balance(c.Param("id"), category),
	})
}

// AccountSummary handles GET /accounts/:id.
func (h *LedgerHandler) AccountSummary(c *gin.Context) {
	acct := h.svc.AccountSummary(c.Param("id"))
	if acct == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":        acct.AccountID,
		"account_type":      acct.AccountType,
		"display_name":      acct.DisplayName,
		"balances":          acct.Balances,
		"lifetime_earned":   acct.LifetimeEarned,
		"transaction_count": acct.TransactionCount,
		"created_at":        acct.CreatedAt,
		"last_activity":     acct.LastActivity,
		"account_age_days":  time.Since(acct.CreatedAt).Hours() / 24,
	})
}

// TransactionsByActor handles GET /accounts/:id/transactions.
func (h *LedgerHandler) TransactionsByActor(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actor_id":     c.Param("id"),
		"transactions": h.svc.TransactionsByActor(c.Param("id"), limit),
	})
}

// TransactionsByKind handles GET /transactions?kind=.
func (h *LedgerHandler) TransactionsByKind(c *gin.Context) {
	kind := ledger.TransactionKind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be a known transaction kind"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_kind": kind,
		"transactions":     h.svc.TransactionsByKind(kind, limit),
	})
}

// Leaderboard handles GET /leaderboard?category=&limit=.
func (h *LedgerHandler) Leaderboard(c *gin.Context) {
	category := ledger.CreditCategory(c.Query("category"))
	if !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be a known credit category"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"accounts": h.svc.TopByCategory(category, limit),
	})
}

// Overview handles GET /ledger: chain length and current tail hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries": h.svc.Len(),
		"tail":    h.svc.TailHash(),
	})
}

// Verify handles GET /ledger/verify by walking the full chain.
func (h *LedgerHandler) Verify(c *gin.Context) {
	result := h.svc.VerifyChain()
	RecordIntegrityCheck(result.OK)
	if !result.OK {
		h.logger.Warn("ledger integrity check failed",
			zap.Intp("index", result.FirstViolation),
			zap.String("reason", result.Reason),
		)
	}
	c.JSON(http.StatusOK, result)
}

// Statistics handles GET /statistics.
func (h *LedgerHandler) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Statistics())
}

// TransparencyReport handles GET /reports/transparency.
func (h *LedgerHandler) TransparencyReport(c *gin.Context) {
	report := h.svc.TransparencyReport()
	RecordIntegrityCheck(report.Verification.OK)
	c.JSON(http.StatusOK, report)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", "0")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}
