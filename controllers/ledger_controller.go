package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"loandesk/middleware"
	"loandesk/models"
	"loandesk/repository"
	"loandesk/services"
	"loandesk/utils"
)

const maxAuditLimit = 500

// LedgerController отдает журнал проводок и журнал аудита
type LedgerController struct {
	ledger  *services.LedgerService
	audit   *services.AuditService
	metrics *utils.Metrics
}

func NewLedgerController(ledger *services.LedgerService, audit *services.AuditService, metrics *utils.Metrics) *LedgerController {
	return &LedgerController{ledger: ledger, audit: audit, metrics: metrics}
}

func (lc *LedgerController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", lc.GetTransactions)
	r.GET("/audit", lc.GetAuditEvents)
}

// GetTransactions возвращает проводки
// GET /api/transactions?applicationId=&borrowerId=&type=&currency=
func (lc *LedgerController) GetTransactions(c *gin.Context) {
	filter := repository.TransactionFilter{
		ApplicationID: c.Query("applicationId"),
		BorrowerID:    c.Query("borrowerId"),
		Type:          models.TransactionType(c.Query("type")),
		Currency:      strings.ToUpper(c.Query("currency")),
	}

	txs, err := lc.ledger.List(c.Request.Context(), middleware.CurrentActor(c), filter)
	if err != nil {
		respondError(c, lc.metrics, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

// GetAuditEvents возвращает журнал аудита
// GET /api/audit?entityId=&actorId=&limit=
func (lc *LedgerController) GetAuditEvents(c *gin.Context) {
	filter := repository.AuditFilter{
		EntityID: c.Query("entityId"),
		ActorID:  c.Query("actorId"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxAuditLimit {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = limit
	}

	events, err := lc.audit.List(c.Request.Context(), middleware.CurrentActor(c), filter)
	if err != nil {
		respondError(c, lc.metrics, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
