package services

import (
	"context"
	"time"

	"loandesk/models"
	"loandesk/repository"
)

// Сущности и действия журнала аудита
const (
	EntityLoanApplication = "LoanApplication"

	ActionSubmit   = "submit"
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionDisburse = "disburse"
)

// AuditService пишет и читает журнал аудита
type AuditService struct {
	store repository.Store
	ids   IDGenerator
}

// NewAuditService создает новый экземпляр AuditService
func NewAuditService(store repository.Store, ids IDGenerator) *AuditService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &AuditService{store: store, ids: ids}
}

// Record добавляет событие в рамках транзакции вызывающего
func (s *AuditService) Record(ctx context.Context, tx repository.Tx, actorID, action, entity, entityID string, at time.Time, diff map[string]any) (*models.AuditEvent, error) {
	if actorID == "" {
		actorID = models.SystemActorID
	}
	event := &models.AuditEvent{
		ID:       s.ids.NewID(),
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		At:       at,
		Diff:     diff,
	}
	if err := tx.CreateAuditEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// List возвращает события от новых к старым. Журнал видят только сотрудники.
func (s *AuditService) List(ctx context.Context, actor *models.Actor, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() {
		return nil, &ForbiddenError{Reason: "staff only"}
	}
	return s.store.ListAuditEvents(ctx, filter)
}
