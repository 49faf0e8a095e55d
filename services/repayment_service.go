package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"loandesk/models"
	"loandesk/repository"
	"loandesk/utils"
)

// paidTolerance - допуск при сравнении внесенной суммы с суммой платежа
var paidTolerance = decimal.New(1, -6)

// RepaymentInput представляет данные поступившего платежа
type RepaymentInput struct {
	ApplicationID string          `json:"-" validate:"required"`
	InstallmentID string          `json:"installmentId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,currency"`
}

// RepaymentResult - результат приема платежа
type RepaymentResult struct {
	Repayment       *models.Repayment   `json:"repayment"`
	Transaction     *models.Transaction `json:"transaction"`
	InstallmentPaid bool                `json:"installmentPaid"`
}

// RepaymentService принимает платежи по графику
type RepaymentService struct {
	store     repository.Store
	fx        Converter
	metrics   *utils.Metrics
	ids       IDGenerator
	now       Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRepaymentService создает новый экземпляр RepaymentService
func NewRepaymentService(store repository.Store, fx Converter, metrics *utils.Metrics, ids IDGenerator, now Clock, logger *zap.Logger) *RepaymentService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepaymentService{
		store:     store,
		fx:        fx,
		metrics:   metrics,
		ids:       ids,
		now:       now,
		validator: NewValidator(),
		logger:    logger,
	}
}

// PostRepayment принимает платеж по одному платежу графика.
//
// Платеж в другой валюте пересчитывается в валюту заявки по курсу на сегодня.
// Платеж графика считается оплаченным, если пересчитанная сумма покрывает
// totalDue (с допуском 1e-6). Излишек на следующие платежи не переносится.
// Повторная оплата уже оплаченного платежа его не меняет.
// Платеж и проводка пишутся всегда, даже если суммы не хватило.
func (s *RepaymentService) PostRepayment(ctx context.Context, actor *models.Actor, in RepaymentInput) (*RepaymentResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := assertCanWrite(actor); err != nil {
		return nil, err
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validateStruct(s.validator, in); err != nil {
		return nil, err
	}
	if err := requirePositive("amount", in.Amount); err != nil {
		return nil, err
	}

	var (
		result    *RepaymentResult
		converted bool
	)
	err := s.store.WithinApplicationTx(ctx, in.ApplicationID, func(tx repository.Tx, app *models.LoanApplication) error {
		if actor.Role == models.RoleCustomer {
			if _, err := AssertOwnsBorrower(ctx, tx, actor.ID, app.BorrowerID); err != nil {
				return err
			}
		}

		receivedAt := s.now()
		conv, didConvert, err := convertIfNeeded(ctx, s.fx, in.Amount, in.Currency, app.Currency, receivedAt)
		if err != nil {
			s.metrics.RecordFXFailure()
			return err
		}
		converted = didConvert
		applied := conv.Result

		// Ищем платеж в графике; без графика или платежа деньги все равно учитываются
		paid := false
		schedule, err := tx.GetScheduleByApplication(ctx, app.ID)
		if err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
			return err
		}
		if schedule != nil {
			inst := schedule.FindInstallment(in.InstallmentID)
			if inst != nil && !inst.Paid && applied.Add(paidTolerance).GreaterThanOrEqual(inst.TotalDue) {
				if err := tx.MarkInstallmentPaid(ctx, inst.ID, receivedAt); err != nil {
					return notFoundOr(err, "installment", inst.ID)
				}
				paid = true
			}
		}

		repayment := &models.Repayment{
			ID:            s.ids.NewID(),
			ApplicationID: app.ID,
			InstallmentID: in.InstallmentID,
			Amount:        in.Amount,
			Currency:      in.Currency,
			ReceivedAt:    receivedAt,
		}
		if err := tx.CreateRepayment(ctx, repayment); err != nil {
			return err
		}

		appliedRounded := applied.Round(2)
		installmentID := in.InstallmentID
		borrowerID := app.BorrowerID
		ledger := &models.Transaction{
			ID:            s.ids.NewID(),
			Type:          models.TransactionRepayment,
			Amount:        in.Amount,
			Currency:      in.Currency,
			CreatedAt:     receivedAt,
			ApplicationID: app.ID,
			BorrowerID:    &borrowerID,
			InstallmentID: &installmentID,
			AppCurrency:   app.Currency,
			AppliedAmount: &appliedRounded,
		}
		if didConvert {
			ledger.FX = fxMeta(in.Currency, app.Currency, in.Amount, conv)
		}
		if err := tx.CreateTransaction(ctx, ledger); err != nil {
			return err
		}

		result = &RepaymentResult{Repayment: repayment, Transaction: ledger, InstallmentPaid: paid}
		return nil
	})
	if err != nil {
		return nil, notFoundOr(err, "application", in.ApplicationID)
	}

	s.metrics.RecordRepayment(in.Amount, in.Currency, converted, result.InstallmentPaid)
	s.logger.Info("repayment posted",
		zap.String("application_id", in.ApplicationID),
		zap.String("installment_id", in.InstallmentID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("currency", in.Currency),
		zap.Bool("installment_paid", result.InstallmentPaid),
	)
	return result, nil
}

// List возвращает платежи по заявке
func (s *RepaymentService) List(ctx context.Context, actor *models.Actor, applicationID string) ([]models.Repayment, error) {
	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, notFoundOr(err, "application", applicationID)
	}
	if err := AssertCanView(ctx, s.store, actor, app); err != nil {
		return nil, err
	}
	return s.store.ListRepayments(ctx, applicationID)
}
