package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loandesk/config"
	"loandesk/controllers"
	"loandesk/database"
	"loandesk/repository"
	"loandesk/services"
	"loandesk/utils"
)

// app - собранное приложение
type app struct {
	handler   http.Handler
	scheduler *services.PaymentSchedulerService
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// newStore выбирает хранилище по драйверу из конфигурации
func newStore(cfg *config.Config) (repository.Store, func() error, error) {
	if cfg.DB.Driver == "memory" {
		return database.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return database.NewGormStore(db.DB), db.Close, nil
}

// newRedis создает клиент Redis; пустой адрес - Redis не используется
func newRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) redis.UniversalClient {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis is not reachable, continuing without cache", zap.Error(err))
	}
	return client
}

// newConverter выбирает источник курсов; при наличии Redis курсы на дату кэшируются
func newConverter(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) services.Converter {
	client := &http.Client{Timeout: cfg.FX.Timeout}

	var fx services.Converter
	switch cfg.FX.Provider {
	case "cbr":
		fx = services.NewCentralBankConverter(cfg.FX.CBRURL, client, logger)
	default:
		fx = services.NewExchangeRateHostConverter(cfg.FX.BaseURL, client, logger)
	}

	if rdb != nil && cfg.FX.CacheTTL > 0 {
		fx = services.NewCachedConverter(fx, rdb, cfg.FX.CacheTTL, logger)
	}
	return fx
}

// newNotifier отправляет письма, если SMTP включен, иначе пишет уведомления в лог
func newNotifier(cfg *config.Config, logger *zap.Logger) services.Notifier {
	if cfg.SMTP.Enabled {
		return services.NewEmailService(cfg)
	}
	return services.NewLogNotifier(logger)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	// Инициализируем хранилище
	store, closeStore, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	rdb := newRedis(ctx, cfg, logger)
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
	}

	metrics := utils.GetMetrics()
	ids := services.UUIDGenerator{}
	clock := services.Clock(services.SystemClock)
	fx := newConverter(cfg, rdb, logger)
	notifier := newNotifier(cfg, logger)
	rates, _ := fx.(services.RatesProvider)

	// Инициализируем сервисы
	audit := services.NewAuditService(store, ids)
	users := services.NewUserService(store, ids, clock, logger)
	products := services.NewProductService(store, ids)
	borrowers := services.NewBorrowerService(store, ids, clock)
	applications := services.NewApplicationService(store, audit, ids, clock, logger)
	disbursements := services.NewDisbursementService(store, audit, fx, notifier, metrics, ids, clock, logger)
	repayments := services.NewRepaymentService(store, fx, metrics, ids, clock, logger)
	ledger := services.NewLedgerService(store)

	// Создаем администратора
	if cfg.Admin.Email != "" {
		start := time.Now()
		_, err := users.SeedAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password)
		utils.LogOperation(logger, "seed_admin", start, err)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}

	if cfg.Scheduler.Enabled {
		a.scheduler = services.NewPaymentSchedulerService(store, notifier, metrics, clock, cfg.Scheduler.Interval, logger)
	}

	a.handler = controllers.NewRouter(controllers.RouterDeps{
		Logger:         logger,
		Metrics:        metrics,
		Limiter:        utils.NewRateLimiter(100, time.Minute),
		Redis:          rdb,
		JWTSecret:      []byte(cfg.JWT.SecretKey),
		JWTTTL:         time.Duration(cfg.JWT.ExpiresIn) * time.Hour,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Users:          users,
		Products:       products,
		Borrowers:      borrowers,
		Applications:   applications,
		Disbursements:  disbursements,
		Repayments:     repayments,
		Ledger:         ledger,
		Audit:          audit,
		Rates:          rates,
	})
	return a, nil
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// Запускаем планировщик платежей
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		logger.Info("payment scheduler started", zap.Duration("interval", cfg.Scheduler.Interval))
	}

	// Запускаем сервер
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
