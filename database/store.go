package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loandesk/models"
	"loandesk/repository"
)

// GormStore реализует repository.Store поверх PostgreSQL
type GormStore struct {
	gormTx
}

// NewGormStore создает хранилище на основе подключения GORM
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormTx{db: db}}
}

// WithinTx выполняет fn в транзакции БД
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormTx{db: tx})
	})
}

// WithinApplicationTx берет блокировку строки заявки (SELECT ... FOR UPDATE) до конца транзакции
func (s *GormStore) WithinApplicationTx(ctx context.Context, applicationID string, fn func(tx repository.Tx, app *models.LoanApplication) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app models.LoanApplication
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", applicationID).
			First(&app).Error
		if err != nil {
			return translate(err)
		}
		return fn(gormTx{db: tx}, &app)
	})
}

// gormTx реализует repository.Tx; db - либо пул, либо открытая транзакция
type gormTx struct {
	db *gorm.DB
}

// translate переводит ошибку GORM в ошибку репозитория
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", repository.ErrDuplicateKey, err)
	}
	return err
}

func (r gormTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r gormTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("LOWER(TRIM(email)) = LOWER(TRIM(?))", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r gormTx) CreateUser(ctx context.Context, user *models.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r gormTx) GetBorrower(ctx context.Context, id string) (*models.Borrower, error) {
	var borrower models.Borrower
	if err := r.db.WithContext(ctx).First(&borrower, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &borrower, nil
}

func (r gormTx) ListBorrowers(ctx context.Context, userID string) ([]models.Borrower, error) {
	var borrowers []models.Borrower
	q := r.db.WithContext(ctx).Order("name ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&borrowers).Error; err != nil {
		return nil, err
	}
	return borrowers, nil
}

func (r gormTx) CreateBorrower(ctx context.Context, borrower *models.Borrower) error {
	return translate(r.db.WithContext(ctx).Create(borrower).Error)
}

func (r gormTx) GetProduct(ctx context.Context, id string) (*models.LoanProduct, error) {
	var product models.LoanProduct
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (r gormTx) ListProducts(ctx context.Context) ([]models.LoanProduct, error) {
	var products []models.LoanProduct
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r gormTx) CreateProduct(ctx context.Context, product *models.LoanProduct) error {
	return translate(r.db.WithContext(ctx).Create(product).Error)
}

func (r gormTx) GetApplication(ctx context.Context, id string) (*models.LoanApplication, error) {
	var app models.LoanApplication
	if err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

func (r gormTx) ListApplications(ctx context.Context, filter repository.ApplicationFilter) ([]models.LoanApplication, error) {
	var apps []models.LoanApplication
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.BorrowerIDs != nil {
		if len(filter.BorrowerIDs) == 0 {
			return []models.LoanApplication{}, nil
		}
		q = q.Where("borrower_id IN ?", filter.BorrowerIDs)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if err := q.Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

func (r gormTx) CreateApplication(ctx context.Context, app *models.LoanApplication) error {
	if app.Version == 0 {
		app.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(app).Error)
}

// UpdateApplication реализует оптимистическую блокировку
// SQL: UPDATE loan_applications SET ..., version = version + 1 WHERE id = ? AND version = ?
func (r gormTx) UpdateApplication(ctx context.Context, app *models.LoanApplication) error {
	result := r.db.WithContext(ctx).Model(&models.LoanApplication{}).
		Where("id = ? AND version = ?", app.ID, app.Version).
		Updates(map[string]interface{}{
			"status":       app.Status,
			"approved_at":  app.ApprovedAt,
			"disbursed_at": app.DisbursedAt,
			"approver_id":  app.ApproverID,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}

	// Если ни одна строка не обновлена, версия не совпала
	if result.RowsAffected == 0 {
		return repository.ErrVersionConflict
	}

	app.Version++
	return nil
}

func (r gormTx) GetScheduleByApplication(ctx context.Context, applicationID string) (*models.RepaymentSchedule, error) {
	var schedule models.RepaymentSchedule
	err := r.db.WithContext(ctx).
		Preload("Installments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installments.seq ASC")
		}).
		Where("application_id = ?", applicationID).
		First(&schedule).Error
	if err != nil {
		return nil, translate(err)
	}
	return &schedule, nil
}

func (r gormTx) CreateSchedule(ctx context.Context, schedule *models.RepaymentSchedule) error {
	// GORM сам вставит связанные платежи
	return translate(r.db.WithContext(ctx).Create(schedule).Error)
}

func (r gormTx) MarkInstallmentPaid(ctx context.Context, installmentID string, paidAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Installment{}).
		Where("id = ? AND paid = ?", installmentID, false).
		Updates(map[string]interface{}{"paid": true, "paid_at": paidAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("installment %s: %w", installmentID, repository.ErrVersionConflict)
	}
	return nil
}

func (r gormTx) ListOverdueInstallments(ctx context.Context, now time.Time) ([]models.OverdueInstallment, error) {
	var out []models.OverdueInstallment
	err := r.db.WithContext(ctx).
		Table("installments").
		Select("installments.*, repayment_schedules.application_id").
		Joins("JOIN repayment_schedules ON repayment_schedules.id = installments.schedule_id").
		Where("installments.paid = ? AND installments.due_date < ?", false, now).
		Order("installments.due_date ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r gormTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return translate(r.db.WithContext(ctx).Create(tx).Error)
}

func (r gormTx) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if filter.ApplicationID != "" {
		q = q.Where("application_id = ?", filter.ApplicationID)
	}
	if filter.BorrowerID != "" {
		q = q.Where("borrower_id = ?", filter.BorrowerID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Currency != "" {
		q = q.Where("currency = ?", filter.Currency)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r gormTx) CreateRepayment(ctx context.Context, repayment *models.Repayment) error {
	return translate(r.db.WithContext(ctx).Create(repayment).Error)
}

func (r gormTx) ListRepayments(ctx context.Context, applicationID string) ([]models.Repayment, error) {
	var repayments []models.Repayment
	if err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("received_at ASC").
		Find(&repayments).Error; err != nil {
		return nil, err
	}
	return repayments, nil
}

func (r gormTx) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error)
}

func (r gormTx) ListAuditEvents(ctx context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	q := r.db.WithContext(ctx).Order("at DESC").Order("seq DESC")
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
