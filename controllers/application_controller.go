package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"loandesk/middleware"
	"loandesk/models"
	"loandesk/repository"
	"loandesk/services"
	"loandesk/utils"
)

// ApplicationController обрабатывает запросы по заявкам, выдаче и погашению
type ApplicationController struct {
	applications  *services.ApplicationService
	disbursements *services.DisbursementService
	repayments    *services.RepaymentService
	metrics       *utils.Metrics
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// NewApplicationController создает новый экземпляр ApplicationController
func NewApplicationController(applications *services.ApplicationService, disbursements *services.DisbursementService, repayments *services.RepaymentService, metrics *utils.Metrics) *ApplicationController {
	return &ApplicationController{
		applications:  applications,
		disbursements: disbursements,
		repayments:    repayments,
		metrics:       metrics,
	}
}

// RegisterRoutes регистрирует маршруты заявок. idempotent защищает операции с деньгами от повтора.
func (ac *ApplicationController) RegisterRoutes(r *gin.RouterGroup, idempotent gin.HandlerFunc) {
	apps := r.Group("/applications")
	{
		apps.POST("", ac.CreateApplication)
		apps.GET("", ac.GetApplications)
		apps.GET("/:id", ac.GetApplication)
		apps.POST("/:id/submit", ac.Submit)
		apps.POST("/:id/approve", middleware.RequireRole(models.RoleAdmin), ac.Approve)
		apps.POST("/:id/reject", middleware.RequireRole(models.RoleAdmin), ac.Reject)
		apps.POST("/:id/disburse", middleware.RequireRole(models.RoleAdmin), idempotent, ac.Disburse)
		apps.GET("/:id/schedule", ac.GetSchedule)
		apps.POST("/:id/repayments", idempotent, ac.PostRepayment)
		apps.GET("/:id/repayments", ac.GetRepayments)
	}
}

// CreateApplication создает черновик заявки
// POST /api/applications
func (ac *ApplicationController) CreateApplication(c *gin.Context) {
	var in services.CreateApplicationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	app, err := ac.applications.Create(c.Request.Context(), middleware.CurrentActor(c), in)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

// GetApplications возвращает список заявок
// GET /api/applications?status=&borrowerId=
func (ac *ApplicationController) GetApplications(c *gin.Context) {
	filter := repository.ApplicationFilter{
		Status: models.ApplicationStatus(c.Query("status")),
	}
	if borrowerID := c.Query("borrowerId"); borrowerID != "" {
		filter.BorrowerIDs = []string{borrowerID}
	}

	apps, err := ac.applications.List(c.Request.Context(), middleware.CurrentActor(c), filter)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

// GetApplication возвращает заявку
// GET /api/applications/:id
func (ac *ApplicationController) GetApplication(c *gin.Context) {
	app, err := ac.applications.Get(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Submit отправляет заявку на рассмотрение
// POST /api/applications/:id/submit
func (ac *ApplicationController) Submit(c *gin.Context) {
	app, err := ac.applications.Submit(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Approve одобряет заявку
// POST /api/applications/:id/approve
func (ac *ApplicationController) Approve(c *gin.Context) {
	app, err := ac.applications.Approve(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Reject отклоняет заявку; причина необязательна
// POST /api/applications/:id/reject
func (ac *ApplicationController) Reject(c *gin.Context) {
	var req RejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	app, err := ac.applications.Reject(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Disburse выдает одобренный кредит
// POST /api/applications/:id/disburse
func (ac *ApplicationController) Disburse(c *gin.Context) {
	var in services.DisburseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	in.ApplicationID = c.Param("id")

	result, err := ac.disbursements.Disburse(c.Request.Context(), middleware.CurrentActor(c), in)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetSchedule возвращает график платежей
// GET /api/applications/:id/schedule
func (ac *ApplicationController) GetSchedule(c *gin.Context) {
	schedule, err := ac.applications.Schedule(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// PostRepayment принимает платеж по графику
// POST /api/applications/:id/repayments
func (ac *ApplicationController) PostRepayment(c *gin.Context) {
	var in services.RepaymentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	in.ApplicationID = c.Param("id")

	result, err := ac.repayments.PostRepayment(c.Request.Context(), middleware.CurrentActor(c), in)
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetRepayments возвращает платежи по заявке
// GET /api/applications/:id/repayments
func (ac *ApplicationController) GetRepayments(c *gin.Context) {
	repayments, err := ac.repayments.List(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, ac.metrics, err)
		return
	}
	c.JSON(http.StatusOK, repayments)
}
