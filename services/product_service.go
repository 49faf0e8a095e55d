package services

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"loandesk/models"
	"loandesk/repository"
)

// CreateProductDTO представляет данные для создания кредитного продукта
type CreateProductDTO struct {
	Name             string              `json:"name" validate:"required,min=2,max=100"`
	Currency         string              `json:"currency" validate:"required,currency"`
	InterestRate     float64             `json:"interestRate" validate:"gte=0,lte=1000"`
	InterestType     models.InterestType `json:"interestType" validate:"omitempty,oneof=flat reducing"`
	TermMonths       int                 `json:"termMonths" validate:"required,gt=0,lte=600"`
	ProcessingFeePct decimal.Decimal     `json:"processingFeePct"`
	PenaltyPct       decimal.Decimal     `json:"penaltyPct"`
}

// ProductService управляет каталогом кредитных продуктов
type ProductService struct {
	store     repository.Store
	ids       IDGenerator
	validator *validator.Validate
}

// NewProductService создает новый экземпляр ProductService
func NewProductService(store repository.Store, ids IDGenerator) *ProductService {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &ProductService{store: store, ids: ids, validator: NewValidator()}
}

// Create добавляет продукт (только администратор)
func (s *ProductService) Create(ctx context.Context, actor *models.Actor, dto CreateProductDTO) (*models.LoanProduct, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := AssertAdmin(actor.Role); err != nil {
		return nil, err
	}

	dto.Name = strings.TrimSpace(dto.Name)
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
	if err := validateStruct(s.validator, dto); err != nil {
		return nil, err
	}
	if dto.ProcessingFeePct.IsNegative() || dto.PenaltyPct.IsNegative() {
		return nil, &ValidationError{Message: "fee and penalty percentages must not be negative"}
	}
	if dto.InterestType == "" {
		dto.InterestType = models.InterestReducing
	}

	product := &models.LoanProduct{
		ID:               s.ids.NewID(),
		Name:             dto.Name,
		Currency:         dto.Currency,
		InterestRate:     dto.InterestRate,
		InterestType:     dto.InterestType,
		TermMonths:       dto.TermMonths,
		ProcessingFeePct: dto.ProcessingFeePct,
		PenaltyPct:       dto.PenaltyPct,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// List возвращает продукты, отсортированные по имени
func (s *ProductService) List(ctx context.Context) ([]models.LoanProduct, error) {
	return s.store.ListProducts(ctx)
}
