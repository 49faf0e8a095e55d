package services

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"loandesk/models"
	"loandesk/repository"
)

// CreateApplicationInput представляет данные для создания заявки
type CreateApplicationInput struct {
	BorrowerID string          `json:"borrowerId" validate:"required"`
	ProductID  string          `json:"productId" validate:"required"`
	Principal  decimal.Decimal `json:"principal"`
	Notes      string          `json:"notes" validate:"max=2000"`
}

// ApplicationService управляет жизненным циклом заявки:
// draft -> submitted -> approved|rejected, approved -> disbursed (см. DisbursementService).
type ApplicationService struct {
	store     repository.Store
	audit     *AuditService
	ids       IDGenerator
	now       Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewApplicationService создает новый экземпляр ApplicationService
func NewApplicationService(store repository.Store, audit *AuditService, ids IDGenerator, now Clock, logger *zap.Logger) *ApplicationService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		store:     store,
		audit:     audit,
		ids:       ids,
		now:       now,
		validator: NewValidator(),
		logger:    logger,
	}
}

// assertCanWrite запрещает изменения аудиторам
func assertCanWrite(actor *models.Actor) error {
	if actor != nil && actor.Role == models.RoleAuditor {
		return &ForbiddenError{Reason: "auditors are read-only"}
	}
	return nil
}

// Create создает заявку в статусе draft. Валюта берется из продукта и больше не меняется.
func (s *ApplicationService) Create(ctx context.Context, actor *models.Actor, in CreateApplicationInput) (*models.LoanApplication, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(s.validator, in); err != nil {
		return nil, err
	}
	if err := requirePositive("principal", in.Principal); err != nil {
		return nil, err
	}
	if err := assertCanWrite(actor); err != nil {
		return nil, err
	}

	var app *models.LoanApplication
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		// Клиент может подать заявку только за своего заемщика
		if actorRole(actor) == models.RoleCustomer {
			if _, err := AssertOwnsBorrower(ctx, tx, actor.ID, in.BorrowerID); err != nil {
				return err
			}
		} else if _, err := tx.GetBorrower(ctx, in.BorrowerID); err != nil {
			return notFoundOr(err, "borrower", in.BorrowerID)
		}

		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return notFoundOr(err, "product", in.ProductID)
		}

		app = &models.LoanApplication{
			ID:         s.ids.NewID(),
			BorrowerID: in.BorrowerID,
			ProductID:  product.ID,
			Principal:  in.Principal,
			Currency:   product.Currency,
			Status:     models.StatusDraft,
			Notes:      strings.TrimSpace(in.Notes),
			CreatedAt:  s.now(),
		}
		return tx.CreateApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application created",
		zap.String("application_id", app.ID),
		zap.String("borrower_id", app.BorrowerID),
		zap.String("principal", app.Principal.StringFixed(2)),
		zap.String("currency", app.Currency),
	)
	return app, nil
}

// Submit переводит заявку из draft в submitted.
// Без актора (автоматическая подача) в журнал пишется "system".
func (s *ApplicationService) Submit(ctx context.Context, actor *models.Actor, id string) (*models.LoanApplication, error) {
	if err := assertCanWrite(actor); err != nil {
		return nil, err
	}

	var out *models.LoanApplication
	err := s.withApplication(ctx, id, func(tx repository.Tx, app *models.LoanApplication) error {
		if actorRole(actor) == models.RoleCustomer {
			if _, err := AssertOwnsBorrower(ctx, tx, actor.ID, app.BorrowerID); err != nil {
				return err
			}
		}
		if app.Status != models.StatusDraft {
			return &InvalidStateError{ID: id, Status: app.Status, Action: ActionSubmit}
		}

		app.Status = models.StatusSubmitted
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return notFoundOr(err, "application", id)
		}
		if _, err := s.audit.Record(ctx, tx, actor.AuditID(), ActionSubmit, EntityLoanApplication, id, s.now(), nil); err != nil {
			return err
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application submitted", zap.String("application_id", id), zap.String("actor_id", actor.AuditID()))
	return out, nil
}

// Approve переводит заявку из submitted в approved (только администратор)
func (s *ApplicationService) Approve(ctx context.Context, actor *models.Actor, id string) (*models.LoanApplication, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := AssertAdmin(actor.Role); err != nil {
		return nil, err
	}

	var out *models.LoanApplication
	err := s.withApplication(ctx, id, func(tx repository.Tx, app *models.LoanApplication) error {
		if app.Status != models.StatusSubmitted {
			return &InvalidStateError{ID: id, Status: app.Status, Action: ActionApprove}
		}

		approvedAt := s.now()
		approverID := actor.ID
		app.Status = models.StatusApproved
		app.ApprovedAt = &approvedAt
		app.ApproverID = &approverID
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return notFoundOr(err, "application", id)
		}
		if _, err := s.audit.Record(ctx, tx, actor.ID, ActionApprove, EntityLoanApplication, id, approvedAt, nil); err != nil {
			return err
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application approved", zap.String("application_id", id), zap.String("approver_id", actor.ID))
	return out, nil
}

// Reject переводит заявку из submitted в rejected (только администратор)
func (s *ApplicationService) Reject(ctx context.Context, actor *models.Actor, id, reason string) (*models.LoanApplication, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := AssertAdmin(actor.Role); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var out *models.LoanApplication
	err := s.withApplication(ctx, id, func(tx repository.Tx, app *models.LoanApplication) error {
		if app.Status != models.StatusSubmitted {
			return &InvalidStateError{ID: id, Status: app.Status, Action: ActionReject}
		}

		app.Status = models.StatusRejected
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return notFoundOr(err, "application", id)
		}
		diff := map[string]any{"reason": reason}
		if _, err := s.audit.Record(ctx, tx, actor.ID, ActionReject, EntityLoanApplication, id, s.now(), diff); err != nil {
			return err
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application rejected", zap.String("application_id", id), zap.String("reason", reason))
	return out, nil
}

// Get возвращает заявку, если у актора есть право ее видеть
func (s *ApplicationService) Get(ctx context.Context, actor *models.Actor, id string) (*models.LoanApplication, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() {
		return AssertOwnsApplication(ctx, s.store, actor.ID, id)
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "application", id)
	}
	return app, nil
}

// List возвращает заявки; клиент видит только заявки своих заемщиков
func (s *ApplicationService) List(ctx context.Context, actor *models.Actor, filter repository.ApplicationFilter) ([]models.LoanApplication, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() {
		borrowers, err := s.store.ListBorrowers(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		requested := make(map[string]bool, len(filter.BorrowerIDs))
		for _, id := range filter.BorrowerIDs {
			requested[id] = true
		}
		owned := make([]string, 0, len(borrowers))
		for _, b := range borrowers {
			if len(requested) == 0 || requested[b.ID] {
				owned = append(owned, b.ID)
			}
		}
		filter.BorrowerIDs = owned
	}
	return s.store.ListApplications(ctx, filter)
}

// Schedule возвращает график платежей по заявке
func (s *ApplicationService) Schedule(ctx context.Context, actor *models.Actor, id string) (*models.RepaymentSchedule, error) {
	app, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	schedule, err := s.store.GetScheduleByApplication(ctx, app.ID)
	if err != nil {
		return nil, notFoundOr(err, "schedule", id)
	}
	return schedule, nil
}

// withApplication выполняет fn под блокировкой заявки
func (s *ApplicationService) withApplication(ctx context.Context, id string, fn func(tx repository.Tx, app *models.LoanApplication) error) error {
	err := s.store.WithinApplicationTx(ctx, id, fn)
	return notFoundOr(err, "application", id)
}
