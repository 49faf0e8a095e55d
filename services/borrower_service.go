package services

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"

	"loandesk/models"
	"loandesk/repository"
)

// CreateBorrowerDTO представляет данные для создания заемщика
type CreateBorrowerDTO struct {
	UserID    string           `json:"userId"`
	Name      string           `json:"name" validate:"required,min=2,max=100"`
	Email     string           `json:"email" validate:"required,email"`
	Phone     string           `json:"phone" validate:"omitempty,max=32"`
	Currency  string           `json:"currency" validate:"required,currency"`
	KYCStatus models.KYCStatus `json:"kycStatus" validate:"omitempty,oneof=pending verified rejected"`
}

// BorrowerService управляет заемщиками
type BorrowerService struct {
	store     repository.Store
	ids       IDGenerator
	now       Clock
	validator *validator.Validate
}

// NewBorrowerService создает новый экземпляр BorrowerService
func NewBorrowerService(store repository.Store, ids IDGenerator, now Clock) *BorrowerService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = SystemClock
	}
	return &BorrowerService{store: store, ids: ids, now: now, validator: NewValidator()}
}

// Create добавляет заемщика. Клиент создает заемщика только для себя,
// статус KYC для него всегда pending.
func (s *BorrowerService) Create(ctx context.Context, actor *models.Actor, dto CreateBorrowerDTO) (*models.Borrower, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleCustomer:
		dto.UserID = actor.ID
		dto.KYCStatus = models.KYCPending
	case models.RoleAdmin, models.RoleOfficer:
	default:
		return nil, &ForbiddenError{Reason: "cannot create borrowers"}
	}

	dto.Name = strings.TrimSpace(dto.Name)
	dto.Email = strings.TrimSpace(dto.Email)
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
	if err := validateStruct(s.validator, dto); err != nil {
		return nil, err
	}
	if dto.KYCStatus == "" {
		dto.KYCStatus = models.KYCPending
	}

	borrower := &models.Borrower{
		ID:        s.ids.NewID(),
		Name:      dto.Name,
		Email:     dto.Email,
		Phone:     strings.TrimSpace(dto.Phone),
		KYCStatus: dto.KYCStatus,
		Currency:  dto.Currency,
		CreatedAt: s.now(),
	}
	if dto.UserID != "" {
		userID := dto.UserID
		if _, err := s.store.GetUser(ctx, userID); err != nil {
			return nil, notFoundOr(err, "user", userID)
		}
		borrower.UserID = &userID
	}

	if err := s.store.CreateBorrower(ctx, borrower); err != nil {
		return nil, err
	}
	return borrower, nil
}

// List возвращает заемщиков по имени; клиент видит только своих
func (s *BorrowerService) List(ctx context.Context, actor *models.Actor) ([]models.Borrower, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role.IsStaff() {
		return s.store.ListBorrowers(ctx, "")
	}
	return s.store.ListBorrowers(ctx, actor.ID)
}
