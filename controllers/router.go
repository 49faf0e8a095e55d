package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loandesk/middleware"
	"loandesk/models"
	"loandesk/services"
	"loandesk/utils"
)

// RouterDeps - зависимости HTTP слоя
type RouterDeps struct {
	Logger  *zap.Logger
	Metrics *utils.Metrics
	Limiter *utils.RateLimiter
	Redis   redis.UniversalClient // nil - без защиты от повторов

	JWTSecret      []byte
	JWTTTL         time.Duration
	IdempotencyTTL time.Duration

	Users         *services.UserService
	Products      *services.ProductService
	Borrowers     *services.BorrowerService
	Applications  *services.ApplicationService
	Disbursements *services.DisbursementService
	Repayments    *services.RepaymentService
	Ledger        *services.LedgerService
	Audit         *services.AuditService
	Rates         services.RatesProvider // nil - таблица курсов недоступна
}

// NewRouter собирает gin.Engine со всеми маршрутами
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Logger(deps.Logger, deps.Metrics))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.CORSMiddleware())
	if deps.Limiter != nil {
		r.Use(middleware.RateLimit(deps.Limiter))
	}

	r.GET("/health", Health)

	api := r.Group("/api")

	// Публичные маршруты для аутентификации
	authController := NewAuthController(deps.Users, deps.JWTSecret, deps.JWTTTL, deps.Metrics)
	authController.RegisterRoutes(api)

	// Защищенные маршруты
	protected := api.Group("")
	protected.Use(middleware.Auth(deps.JWTSecret))
	protected.GET("/me", authController.Me)

	idempotent := middleware.Idempotency(deps.Redis, deps.IdempotencyTTL, deps.Logger)

	NewCatalogController(deps.Products, deps.Borrowers, deps.Rates, deps.Metrics).RegisterRoutes(protected)
	NewApplicationController(deps.Applications, deps.Disbursements, deps.Repayments, deps.Metrics).RegisterRoutes(protected, idempotent)
	NewLedgerController(deps.Ledger, deps.Audit, deps.Metrics).RegisterRoutes(protected)

	protected.GET("/metrics", middleware.RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Metrics.GetMetricsSnapshot())
	})

	return r
}

// Health отвечает, что сервис жив
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
