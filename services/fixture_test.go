package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loandesk/database"
	"loandesk/models"
	"loandesk/repository"
	"loandesk/utils"
)

type mockConverter struct {
	mock.Mock
}

func (m *mockConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*Conversion, error) {
	args := m.Called(amount.String(), from, to)
	conv, _ := args.Get(0).(*Conversion)
	return conv, args.Error(1)
}

type sentNotification struct {
	kind string
	to   string
	app  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) SendDisbursementNotification(to string, app *models.LoanApplication, tx *models.Transaction, installments int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: "disbursement", to: to, app: app.ID})
	return n.err
}

func (n *recordingNotifier) SendOverdueNotification(to string, applicationID string, inst *models.Installment, currency string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{kind: "overdue", to: to, app: applicationID})
	return nil
}

// loanFixture - заемщик клиента, продукт USD 12% на 2 месяца и набор сервисов над MemoryStore
type loanFixture struct {
	t        *testing.T
	ctx      context.Context
	store    *database.MemoryStore
	now      time.Time
	fx       *mockConverter
	notifier *recordingNotifier
	metrics  *utils.Metrics

	audit         *AuditService
	applications  *ApplicationService
	disbursements *DisbursementService
	repayments    *RepaymentService

	admin    *models.Actor
	officer  *models.Actor
	auditor  *models.Actor
	customer *models.Actor
	stranger *models.Actor

	borrower *models.Borrower
	product  *models.LoanProduct
}

func newLoanFixture(t *testing.T) *loanFixture {
	t.Helper()

	f := &loanFixture{
		t:        t,
		ctx:      context.Background(),
		store:    database.NewMemoryStore(),
		now:      time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		fx:       &mockConverter{},
		notifier: &recordingNotifier{},
		metrics:  utils.NewMetrics(),
		admin:    &models.Actor{ID: "admin-1", Role: models.RoleAdmin},
		officer:  &models.Actor{ID: "officer-1", Role: models.RoleOfficer},
		auditor:  &models.Actor{ID: "auditor-1", Role: models.RoleAuditor},
		customer: &models.Actor{ID: "user-1", Role: models.RoleCustomer},
		stranger: &models.Actor{ID: "user-2", Role: models.RoleCustomer},
	}
	clock := Clock(func() time.Time { return f.now })
	ids := seqIDs("id-")
	logger := zap.NewNop()

	f.audit = NewAuditService(f.store, ids)
	f.applications = NewApplicationService(f.store, f.audit, ids, clock, logger)
	f.disbursements = NewDisbursementService(f.store, f.audit, f.fx, f.notifier, f.metrics, ids, clock, logger)
	f.repayments = NewRepaymentService(f.store, f.fx, f.metrics, ids, clock, logger)

	userID := f.customer.ID
	f.borrower = &models.Borrower{
		ID:        "borrower-1",
		UserID:    &userID,
		Name:      "Ivan Petrov",
		Email:     "ivan@example.com",
		KYCStatus: models.KYCVerified,
		Currency:  "USD",
		CreatedAt: f.now,
	}
	require.NoError(t, f.store.CreateBorrower(f.ctx, f.borrower))

	f.product = &models.LoanProduct{
		ID:           "product-1",
		Name:         "Consumer 2m",
		Currency:     "USD",
		InterestRate: 12,
		InterestType: models.InterestReducing,
		TermMonths:   2,
	}
	require.NoError(t, f.store.CreateProduct(f.ctx, f.product))
	return f
}

func (f *loanFixture) createDraft(principal string) *models.LoanApplication {
	f.t.Helper()
	app, err := f.applications.Create(f.ctx, f.customer, CreateApplicationInput{
		BorrowerID: f.borrower.ID,
		ProductID:  f.product.ID,
		Principal:  decimal.RequireFromString(principal),
	})
	require.NoError(f.t, err)
	return app
}

func (f *loanFixture) createApproved(principal string) *models.LoanApplication {
	f.t.Helper()
	app := f.createDraft(principal)
	_, err := f.applications.Submit(f.ctx, f.customer, app.ID)
	require.NoError(f.t, err)
	app, err = f.applications.Approve(f.ctx, f.admin, app.ID)
	require.NoError(f.t, err)
	return app
}

func (f *loanFixture) createDisbursed(principal string) (*models.LoanApplication, *models.RepaymentSchedule) {
	f.t.Helper()
	app := f.createApproved(principal)
	result, err := f.disbursements.Disburse(f.ctx, f.admin, DisburseInput{
		ApplicationID:  app.ID,
		PayoutAccount:  "ACC-1",
		PayoutCurrency: "USD",
	})
	require.NoError(f.t, err)
	return result.Application, result.Schedule
}

func (f *loanFixture) auditEvents(appID string) []models.AuditEvent {
	f.t.Helper()
	events, err := f.store.ListAuditEvents(f.ctx, repository.AuditFilter{EntityID: appID})
	require.NoError(f.t, err)
	return events
}
