package repository

import (
	"context"
	"errors"
	"time"

	"loandesk/models"
)

var (
	// ErrRecordNotFound возвращается, если запись с указанным ключом отсутствует
	ErrRecordNotFound = errors.New("record not found")
	// ErrVersionConflict возвращается, если запись изменили параллельно (версия не совпала)
	ErrVersionConflict = errors.New("optimistic lock conflict: record modified by others")
	// ErrDuplicateKey возвращается при нарушении уникальности
	ErrDuplicateKey = errors.New("duplicate key")
)

// ApplicationFilter задает условия выборки заявок. Пустые поля не фильтруют.
type ApplicationFilter struct {
	BorrowerIDs []string
	Status      models.ApplicationStatus
}

// TransactionFilter задает условия выборки проводок
type TransactionFilter struct {
	ApplicationID string
	BorrowerID    string
	Type          models.TransactionType
	Currency      string
}

// AuditFilter задает условия выборки журнала аудита
type AuditFilter struct {
	EntityID string
	ActorID  string
	Limit    int
}

// Tx - набор операций над хранилищем в рамках одной единицы работы
type Tx interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	GetBorrower(ctx context.Context, id string) (*models.Borrower, error)
	// ListBorrowers возвращает заемщиков по имени; userID != "" ограничивает выборку владельцем
	ListBorrowers(ctx context.Context, userID string) ([]models.Borrower, error)
	CreateBorrower(ctx context.Context, borrower *models.Borrower) error

	GetProduct(ctx context.Context, id string) (*models.LoanProduct, error)
	ListProducts(ctx context.Context) ([]models.LoanProduct, error)
	CreateProduct(ctx context.Context, product *models.LoanProduct) error

	GetApplication(ctx context.Context, id string) (*models.LoanApplication, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]models.LoanApplication, error)
	CreateApplication(ctx context.Context, app *models.LoanApplication) error
	// UpdateApplication сохраняет заявку, если ее версия не изменилась, и увеличивает app.Version
	UpdateApplication(ctx context.Context, app *models.LoanApplication) error

	GetScheduleByApplication(ctx context.Context, applicationID string) (*models.RepaymentSchedule, error)
	CreateSchedule(ctx context.Context, schedule *models.RepaymentSchedule) error
	MarkInstallmentPaid(ctx context.Context, installmentID string, paidAt time.Time) error
	ListOverdueInstallments(ctx context.Context, now time.Time) ([]models.OverdueInstallment, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)

	CreateRepayment(ctx context.Context, repayment *models.Repayment) error
	ListRepayments(ctx context.Context, applicationID string) ([]models.Repayment, error)

	// CreateAuditEvent только добавляет; изменения и удаления журнала не предусмотрены
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// ListAuditEvents возвращает события от новых к старым, при равном времени первой идет последняя вставка
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error)
}

// Store - хранилище с транзакционной областью записи на несколько таблиц.
// Методы Tx, вызванные напрямую у Store, работают вне транзакции.
type Store interface {
	Tx

	// WithinTx выполняет fn атомарно: либо все записи видны, либо ни одной
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// WithinApplicationTx блокирует заявку до конца fn, так что единицы работы
	// над одной заявкой не пересекаются. Если заявки нет - ErrRecordNotFound.
	WithinApplicationTx(ctx context.Context, applicationID string, fn func(tx Tx, app *models.LoanApplication) error) error
}
