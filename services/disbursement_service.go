package services

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"loandesk/models"
	"loandesk/repository"
	"loandesk/utils"
)

// DisburseInput представляет данные для выдачи кредита
type DisburseInput struct {
	ApplicationID  string `json:"-" validate:"required"`
	PayoutAccount  string `json:"payoutAccount" validate:"required,max=64"`
	PayoutCurrency string `json:"payoutCurrency" validate:"required,currency"`
}

// DisbursementResult - результат выдачи кредита
type DisbursementResult struct {
	Application *models.LoanApplication   `json:"application"`
	Transaction *models.Transaction       `json:"transaction"`
	Schedule    *models.RepaymentSchedule `json:"schedule"`
}

// DisbursementService выдает одобренные кредиты
type DisbursementService struct {
	store     repository.Store
	audit     *AuditService
	fx        Converter
	notifier  Notifier
	metrics   *utils.Metrics
	ids       IDGenerator
	now       Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDisbursementService создает новый экземпляр DisbursementService
func NewDisbursementService(store repository.Store, audit *AuditService, fx Converter, notifier Notifier, metrics *utils.Metrics, ids IDGenerator, now Clock, logger *zap.Logger) *DisbursementService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisbursementService{
		store:     store,
		audit:     audit,
		fx:        fx,
		notifier:  notifier,
		metrics:   metrics,
		ids:       ids,
		now:       now,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Disburse выдает кредит одной атомарной операцией: статус, проводка, график, аудит.
// Сумма выплаты пересчитывается в валюту выплаты по курсу на сегодня;
// график строится по исходной сумме в валюте заявки.
// Сбой курсов отменяет всю операцию. Уведомление отправляется после фиксации.
func (s *DisbursementService) Disburse(ctx context.Context, actor *models.Actor, in DisburseInput) (*DisbursementResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := AssertAdmin(actor.Role); err != nil {
		return nil, err
	}
	in.PayoutCurrency = strings.ToUpper(strings.TrimSpace(in.PayoutCurrency))
	in.PayoutAccount = strings.TrimSpace(in.PayoutAccount)
	if err := validateStruct(s.validator, in); err != nil {
		return nil, err
	}

	var (
		result    *DisbursementResult
		converted bool
	)
	err := s.store.WithinApplicationTx(ctx, in.ApplicationID, func(tx repository.Tx, app *models.LoanApplication) error {
		if app.Status != models.StatusApproved {
			return &InvalidStateError{ID: app.ID, Status: app.Status, Action: ActionDisburse}
		}

		product, err := tx.GetProduct(ctx, app.ProductID)
		if err != nil {
			return notFoundOr(err, "product", app.ProductID)
		}

		// Пересчитываем сумму в валюту выплаты
		disbursedAt := s.now()
		conv, didConvert, err := convertIfNeeded(ctx, s.fx, app.Principal, app.Currency, in.PayoutCurrency, disbursedAt)
		if err != nil {
			s.metrics.RecordFXFailure()
			return err
		}
		converted = didConvert

		app.Status = models.StatusDisbursed
		app.DisbursedAt = &disbursedAt
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return notFoundOr(err, "application", app.ID)
		}

		borrowerID := app.BorrowerID
		ledger := &models.Transaction{
			ID:            s.ids.NewID(),
			Type:          models.TransactionDisbursement,
			Amount:        app.Principal,
			Currency:      in.PayoutCurrency,
			CreatedAt:     disbursedAt,
			ApplicationID: app.ID,
			BorrowerID:    &borrowerID,
			PayoutAccount: in.PayoutAccount,
			AppCurrency:   app.Currency,
		}
		if didConvert {
			ledger.Amount = conv.Result.Round(2)
			ledger.FX = fxMeta(app.Currency, in.PayoutCurrency, app.Principal, conv)
		}
		if err := tx.CreateTransaction(ctx, ledger); err != nil {
			return err
		}

		// График всегда в валюте заявки
		installments, err := BuildSchedule(disbursedAt, app.Principal, product.InterestRate, product.TermMonths, s.ids)
		if err != nil {
			return err
		}
		schedule := &models.RepaymentSchedule{
			ID:            s.ids.NewID(),
			ApplicationID: app.ID,
			Installments:  installments,
		}
		for i := range schedule.Installments {
			schedule.Installments[i].ScheduleID = schedule.ID
		}
		if err := tx.CreateSchedule(ctx, schedule); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, actor.ID, ActionDisburse, EntityLoanApplication, app.ID, disbursedAt, nil); err != nil {
			return err
		}

		result = &DisbursementResult{Application: app, Transaction: ledger, Schedule: schedule}
		return nil
	})
	if err != nil {
		return nil, notFoundOr(err, "application", in.ApplicationID)
	}

	s.logger.Info("loan disbursed",
		zap.String("application_id", result.Application.ID),
		zap.String("amount", result.Transaction.Amount.StringFixed(2)),
		zap.String("currency", result.Transaction.Currency),
		zap.Bool("converted", converted),
		zap.Int("installments", len(result.Schedule.Installments)),
	)
	s.afterDisbursement(ctx, result, converted)
	return result, nil
}

// afterDisbursement выполняется после фиксации; ошибки только логируются
func (s *DisbursementService) afterDisbursement(ctx context.Context, result *DisbursementResult, converted bool) {
	s.metrics.RecordDisbursement(result.Transaction.Amount, result.Transaction.Currency, converted)

	if s.notifier == nil {
		return
	}
	borrower, err := s.store.GetBorrower(ctx, result.Application.BorrowerID)
	if err != nil {
		s.logger.Warn("borrower lookup for notification failed",
			zap.String("application_id", result.Application.ID),
			zap.Error(err),
		)
		return
	}
	if err := s.notifier.SendDisbursementNotification(borrower.Email, result.Application, result.Transaction, len(result.Schedule.Installments)); err != nil {
		s.logger.Warn("disbursement notification failed",
			zap.String("application_id", result.Application.ID),
			zap.Error(err),
		)
	}
}
