package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"

	"loandesk/database"
	"loandesk/middleware"
	"loandesk/models"
	"loandesk/services"
	"loandesk/utils"
)

var testSecret = []byte("controller-test-secret")

type fixedRateConverter struct {
	rate  decimal.Decimal
	calls int
}

func (f *fixedRateConverter) Convert(_ context.Context, amount decimal.Decimal, from, to string, asOf *time.Time) (*services.Conversion, error) {
	f.calls++
	return &services.Conversion{Result: amount.Mul(f.rate), Rate: f.rate, Date: "2024-05-01"}, nil
}

func (f *fixedRateConverter) LatestRates(_ context.Context, base string) (*services.LatestRates, error) {
	return &services.LatestRates{Base: base, Date: "2024-05-01", Rates: map[string]decimal.Decimal{base: decimal.NewFromInt(1), "GBP": f.rate}}, nil
}

type RouterSuite struct {
	suite.Suite
	router     *gin.Engine
	fx         *fixedRateConverter
	metrics    *utils.Metrics
	adminToken string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	store := database.NewMemoryStore()
	mr := miniredis.RunT(s.T())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := zap.NewNop()
	s.metrics = utils.NewMetrics()
	s.fx = &fixedRateConverter{rate: decimal.RequireFromString("0.9")}
	ids := services.UUIDGenerator{}
	clock := services.Clock(func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) })

	audit := services.NewAuditService(store, ids)
	users := services.NewUserService(store, ids, clock, logger).WithBcryptCost(bcrypt.MinCost)

	admin, err := users.SeedAdmin(context.Background(), "admin@loandesk.local", "Admin12345")
	s.Require().NoError(err)
	s.adminToken, _, err = middleware.GenerateToken(testSecret, admin, time.Hour, time.Now())
	s.Require().NoError(err)

	s.router = NewRouter(RouterDeps{
		Logger:         logger,
		Metrics:        s.metrics,
		Redis:          rdb,
		JWTSecret:      testSecret,
		JWTTTL:         time.Hour,
		IdempotencyTTL: time.Hour,
		Users:          users,
		Products:       services.NewProductService(store, ids),
		Borrowers:      services.NewBorrowerService(store, ids, clock),
		Applications:   services.NewApplicationService(store, audit, ids, clock, logger),
		Disbursements:  services.NewDisbursementService(store, audit, s.fx, services.NewLogNotifier(logger), s.metrics, ids, clock, logger),
		Repayments:     services.NewRepaymentService(store, s.fx, s.metrics, ids, clock, logger),
		Ledger:         services.NewLedgerService(store),
		Audit:          audit,
		Rates:          s.fx,
	})
}

func (s *RouterSuite) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *RouterSuite) signUpCustomer(email string) string {
	w := s.do(http.MethodPost, "/api/auth/signUp", "", `{"name":"Ivan Petrov","email":"`+email+`","password":"Secret123"}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp AuthResponse
	s.decode(w, &resp)
	s.Equal(models.RoleCustomer, resp.User.Role)
	return resp.Token.Token
}

func (s *RouterSuite) createProduct() string {
	w := s.do(http.MethodPost, "/api/products", s.adminToken,
		`{"name":"Consumer 2m","currency":"USD","interestRate":12,"termMonths":2}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var product models.LoanProduct
	s.decode(w, &product)
	return product.ID
}

func (s *RouterSuite) createBorrower(token string) string {
	w := s.do(http.MethodPost, "/api/borrowers", token,
		`{"name":"Ivan Petrov","email":"ivan@example.com","currency":"USD"}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var borrower models.Borrower
	s.decode(w, &borrower)
	return borrower.ID
}

func (s *RouterSuite) TestSignInErrors() {
	s.signUpCustomer("ivan@example.com")

	w := s.do(http.MethodPost, "/api/auth/signIn", "", `{"email":"ivan@example.com","password":"wrong"}`)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/auth/signUp", "", `{"name":"Ivan","email":"IVAN@example.com","password":"Secret123"}`)
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/auth/signUp", "", `{"name":"Weak","email":"weak@example.com","password":"password"}`)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/auth/signIn", "", `{"email":"ivan@example.com","password":"Secret123"}`)
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/me", "", "")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterSuite) TestLoanLifecycle() {
	customer := s.signUpCustomer("ivan@example.com")
	productID := s.createProduct()
	borrowerID := s.createBorrower(customer)

	// Черновик заявки
	w := s.do(http.MethodPost, "/api/applications", customer,
		`{"borrowerId":"`+borrowerID+`","productId":"`+productID+`","principal":"1000.00"}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var app models.LoanApplication
	s.decode(w, &app)
	s.Equal(models.StatusDraft, app.Status)
	s.Equal("USD", app.Currency)
	base := "/api/applications/" + app.ID

	// Одобрить черновик нельзя
	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/approve", s.adminToken, "").Code)

	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, base+"/submit", customer, "").Code)

	// Клиент не одобряет и не выдает
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, base+"/approve", customer, "").Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, base+"/disburse", customer, `{"payoutAccount":"ACC-1","payoutCurrency":"EUR"}`).Code)

	w = s.do(http.MethodPost, base+"/approve", s.adminToken, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &app)
	s.Equal(models.StatusApproved, app.Status)
	s.NotNil(app.ApprovedAt)

	// Выдача с пересчетом в EUR и защитой от повтора
	w = s.do(http.MethodPost, base+"/disburse", s.adminToken,
		`{"payoutAccount":"ACC-1","payoutCurrency":"eur"}`, middleware.IdempotencyHeader, "disburse-1")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var disbursed services.DisbursementResult
	s.decode(w, &disbursed)
	s.Equal(models.StatusDisbursed, disbursed.Application.Status)
	s.Equal("EUR", disbursed.Transaction.Currency)
	s.Equal("900", disbursed.Transaction.Amount.String())
	s.Require().NotNil(disbursed.Transaction.FX)
	s.Len(disbursed.Schedule.Installments, 2)

	retry := s.do(http.MethodPost, base+"/disburse", s.adminToken,
		`{"payoutAccount":"ACC-1","payoutCurrency":"eur"}`, middleware.IdempotencyHeader, "disburse-1")
	s.Equal(http.StatusCreated, retry.Code)
	s.Equal("true", retry.Header().Get("X-Idempotency-Hit"))
	s.JSONEq(w.Body.String(), retry.Body.String())

	// Без ключа повторная выдача запрещена статусом
	s.Equal(http.StatusConflict, s.do(http.MethodPost, base+"/disburse", s.adminToken, `{"payoutAccount":"ACC-1","payoutCurrency":"EUR"}`).Code)

	// График
	w = s.do(http.MethodGet, base+"/schedule", customer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var schedule models.RepaymentSchedule
	s.decode(w, &schedule)
	s.Require().Len(schedule.Installments, 2)
	first := schedule.Installments[0]
	s.Equal("507.51", first.TotalDue.StringFixed(2))

	// Платеж в валюте заявки без конвертации
	callsBefore := s.fx.calls
	w = s.do(http.MethodPost, base+"/repayments", customer,
		`{"installmentId":"`+first.ID+`","amount":"507.51","currency":"USD"}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var repaid services.RepaymentResult
	s.decode(w, &repaid)
	s.True(repaid.InstallmentPaid)
	s.Equal(callsBefore, s.fx.calls)

	w = s.do(http.MethodGet, base+"/repayments", customer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var repayments []models.Repayment
	s.decode(w, &repayments)
	s.Len(repayments, 1)

	// Журналы
	w = s.do(http.MethodGet, "/api/transactions?applicationId="+app.ID, customer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var txs []models.Transaction
	s.decode(w, &txs)
	s.Len(txs, 2)

	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/api/audit", customer, "").Code)
	w = s.do(http.MethodGet, "/api/audit?entityId="+app.ID, s.adminToken, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var events []models.AuditEvent
	s.decode(w, &events)
	s.Require().Len(events, 3)
	s.Equal(services.ActionDisburse, events[0].Action)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/audit?limit=abc", s.adminToken, "").Code)
}

func (s *RouterSuite) TestForeignCustomerIsIsolated() {
	owner := s.signUpCustomer("owner@example.com")
	stranger := s.signUpCustomer("stranger@example.com")
	productID := s.createProduct()
	borrowerID := s.createBorrower(owner)

	// Чужой заемщик
	w := s.do(http.MethodPost, "/api/applications", stranger,
		`{"borrowerId":"`+borrowerID+`","productId":"`+productID+`","principal":"500"}`)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/applications", owner,
		`{"borrowerId":"`+borrowerID+`","productId":"`+productID+`","principal":"500"}`)
	s.Require().Equal(http.StatusCreated, w.Code)
	var app models.LoanApplication
	s.decode(w, &app)

	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/api/applications/"+app.ID, stranger, "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/applications/missing", s.adminToken, "").Code)

	w = s.do(http.MethodGet, "/api/applications", stranger, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var apps []models.LoanApplication
	s.decode(w, &apps)
	s.Empty(apps)

	w = s.do(http.MethodGet, "/api/borrowers", stranger, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var borrowers []models.Borrower
	s.decode(w, &borrowers)
	s.Empty(borrowers)
}

func (s *RouterSuite) TestLatestRates() {
	w := s.do(http.MethodGet, "/api/fx/latest?base=eur", s.adminToken, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var rates struct {
		Base  string            `json:"base"`
		Date  string            `json:"date"`
		Rates map[string]string `json:"rates"`
	}
	s.decode(w, &rates)
	s.Equal("EUR", rates.Base)
	s.Equal("2024-05-01", rates.Date)
	s.Equal("0.9", rates.Rates["GBP"])

	w = s.do(http.MethodGet, "/api/fx/latest", s.adminToken, "")
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/fx/latest?base=EURO", s.adminToken, "")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/fx/latest?base=EUR", "", "")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterSuite) TestValidationAndRoles() {
	customer := s.signUpCustomer("ivan@example.com")

	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/api/products", customer,
		`{"name":"Consumer","currency":"USD","interestRate":12,"termMonths":12}`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/products", s.adminToken,
		`{"name":"Consumer","currency":"usdollar","interestRate":12,"termMonths":12}`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/products", s.adminToken, `{not json`).Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/api/metrics", customer, "").Code)

	w := s.do(http.MethodGet, "/api/metrics", s.adminToken, "")
	s.Require().Equal(http.StatusOK, w.Code)
	snapshot := map[string]any{}
	s.decode(w, &snapshot)
	s.Contains(snapshot, "error_types")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&services.ValidationError{Message: "bad"}, http.StatusBadRequest},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{&services.ForbiddenError{}, http.StatusForbidden},
		{&services.NotFoundError{Entity: "application", ID: "x"}, http.StatusNotFound},
		{&services.InvalidStateError{ID: "x", Status: models.StatusDraft, Action: "approve"}, http.StatusConflict},
		{&services.ConflictError{Message: "dup"}, http.StatusConflict},
		{&services.ExternalServiceError{Service: "fx", Err: io.EOF}, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
	require.NotPanics(t, func() { errorStatus(io.EOF) })
}
