package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"loandesk/models"
	"loandesk/repository"
	"loandesk/utils"
)

// reminderCooldown - не чаще одного напоминания по платежу за период
const reminderCooldown = 24 * time.Hour

// PaymentSchedulerService периодически ищет просроченные платежи и напоминает заемщикам.
// График и платежи не изменяются.
type PaymentSchedulerService struct {
	store    repository.Store
	notifier Notifier
	metrics  *utils.Metrics
	now      Clock
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	reminded map[string]time.Time // installmentID -> время последнего напоминания
}

// NewPaymentSchedulerService создает новый экземпляр PaymentSchedulerService
func NewPaymentSchedulerService(store repository.Store, notifier Notifier, metrics *utils.Metrics, now Clock, interval time.Duration, logger *zap.Logger) *PaymentSchedulerService {
	if now == nil {
		now = SystemClock
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentSchedulerService{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		now:      now,
		interval: interval,
		logger:   logger,
		reminded: make(map[string]time.Time),
	}
}

// Start запускает планировщик до отмены ctx
func (s *PaymentSchedulerService) Start(ctx context.Context) {
	overdueTicker := time.NewTicker(s.interval)
	go func() {
		defer overdueTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-overdueTicker.C:
				if _, err := s.ProcessOverduePayments(ctx); err != nil {
					s.logger.Error("overdue payments processing failed", zap.Error(err))
				}
			}
		}
	}()
}

// ProcessOverduePayments отправляет напоминания по просроченным платежам и возвращает их число
func (s *PaymentSchedulerService) ProcessOverduePayments(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.store.ListOverdueInstallments(ctx, now)
	if err != nil {
		return 0, err
	}
	s.forgetSettled(overdue)

	sent := 0
	for i := range overdue {
		item := &overdue[i]
		if !s.due(item.ID, now) {
			continue
		}

		app, err := s.store.GetApplication(ctx, item.ApplicationID)
		if err != nil {
			s.logger.Warn("overdue installment without application",
				zap.String("application_id", item.ApplicationID),
				zap.Error(err),
			)
			continue
		}
		borrower, err := s.store.GetBorrower(ctx, app.BorrowerID)
		if err != nil {
			s.logger.Warn("overdue installment without borrower",
				zap.String("borrower_id", app.BorrowerID),
				zap.Error(err),
			)
			continue
		}

		if s.notifier != nil {
			if err := s.notifier.SendOverdueNotification(borrower.Email, app.ID, &item.Installment, app.Currency); err != nil {
				s.logger.Warn("overdue notification failed",
					zap.String("application_id", app.ID),
					zap.String("installment_id", item.ID),
					zap.Error(err),
				)
				continue
			}
		}

		s.markReminded(item.ID, now)
		s.metrics.RecordOverdueReminder()
		sent++
	}

	if sent > 0 {
		s.logger.Info("overdue reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

func (s *PaymentSchedulerService) due(installmentID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.reminded[installmentID]
	return !ok || now.Sub(last) >= reminderCooldown
}

// forgetSettled удаляет отметки по платежам, которые больше не просрочены
func (s *PaymentSchedulerService) forgetSettled(overdue []models.OverdueInstallment) {
	active := make(map[string]struct{}, len(overdue))
	for i := range overdue {
		active[overdue[i].ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.reminded {
		if _, ok := active[id]; !ok {
			delete(s.reminded, id)
		}
	}
}

func (s *PaymentSchedulerService) markReminded(installmentID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminded[installmentID] = now
}
