package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"loandesk/models"
	"loandesk/repository"
)

// MemoryStore реализует repository.Store в памяти процесса.
// Используется в тестах и при DB_DRIVER=memory. Записи транзакции копятся
// отдельно и применяются к общему состоянию одним шагом при фиксации.
type MemoryStore struct {
	memTx

	mu           sync.RWMutex
	users        map[string]models.User
	borrowers    map[string]models.Borrower
	products     map[string]models.LoanProduct
	apps         map[string]models.LoanApplication
	schedules    map[string]models.RepaymentSchedule
	transactions []models.Transaction
	repayments   []models.Repayment
	audits       []models.AuditEvent
	auditSeq     int64

	appLocks keyedMutex
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		users:     make(map[string]models.User),
		borrowers: make(map[string]models.Borrower),
		products:  make(map[string]models.LoanProduct),
		apps:      make(map[string]models.LoanApplication),
		schedules: make(map[string]models.RepaymentSchedule),
		appLocks:  keyedMutex{locks: make(map[string]*refMutex)},
	}
	// Вызовы вне транзакции фиксируются сразу
	s.memTx = *newMemTx(s)
	s.memTx.autocommit = true
	return s
}

// WithinTx выполняет fn и применяет накопленные записи только при успехе
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// WithinApplicationTx держит мьютекс заявки на все время fn
func (s *MemoryStore) WithinApplicationTx(ctx context.Context, applicationID string, fn func(tx repository.Tx, app *models.LoanApplication) error) error {
	unlock := s.appLocks.Lock(applicationID)
	defer unlock()

	return s.WithinTx(ctx, func(tx repository.Tx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		return fn(tx, app)
	})
}

// memTx хранит изменения одной единицы работы
type memTx struct {
	store      *MemoryStore
	autocommit bool

	users        map[string]models.User
	borrowers    map[string]models.Borrower
	products     map[string]models.LoanProduct
	apps         map[string]models.LoanApplication
	appVersions  map[string]int64 // версия в общем состоянии на момент чтения
	schedules    map[string]models.RepaymentSchedule
	transactions []models.Transaction
	repayments   []models.Repayment
	audits       []models.AuditEvent
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		store:       s,
		users:       make(map[string]models.User),
		borrowers:   make(map[string]models.Borrower),
		products:    make(map[string]models.LoanProduct),
		apps:        make(map[string]models.LoanApplication),
		appVersions: make(map[string]int64),
		schedules:   make(map[string]models.RepaymentSchedule),
	}
}

// direct выполняет запись в отдельной транзакции и сразу фиксирует ее
func (t *memTx) direct(fn func(tx *memTx) error) error {
	tx := newMemTx(t.store)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сначала проверяем все условия, потом пишем
	for id, seen := range t.appVersions {
		if current, ok := s.apps[id]; ok && current.Version != seen {
			return fmt.Errorf("application %s: %w", id, repository.ErrVersionConflict)
		}
	}
	for _, u := range t.users {
		for _, existing := range s.users {
			if existing.ID != u.ID && strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("user email %s: %w", u.Email, repository.ErrDuplicateKey)
			}
		}
	}
	for id, sch := range t.schedules {
		for _, existing := range s.schedules {
			if existing.ID != id && existing.ApplicationID == sch.ApplicationID {
				return fmt.Errorf("schedule for application %s: %w", sch.ApplicationID, repository.ErrDuplicateKey)
			}
		}
	}

	for id, u := range t.users {
		s.users[id] = u
	}
	for id, b := range t.borrowers {
		s.borrowers[id] = b
	}
	for id, p := range t.products {
		s.products[id] = p
	}
	for id, a := range t.apps {
		s.apps[id] = a
	}
	for id, sch := range t.schedules {
		s.schedules[id] = cloneSchedule(sch)
	}
	s.transactions = append(s.transactions, t.transactions...)
	s.repayments = append(s.repayments, t.repayments...)
	for _, e := range t.audits {
		s.auditSeq++
		e.Seq = s.auditSeq
		s.audits = append(s.audits, e)
	}
	return nil
}

func cloneSchedule(s models.RepaymentSchedule) models.RepaymentSchedule {
	out := s
	out.Installments = make([]models.Installment, len(s.Installments))
	copy(out.Installments, s.Installments)
	return out
}

func (t *memTx) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := t.users[id]; ok {
		return &u, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if u, ok := t.store.users[id]; ok {
		return &u, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (t *memTx) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	for _, u := range t.users {
		if strings.EqualFold(strings.TrimSpace(u.Email), email) {
			return &u, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, u := range t.store.users {
		if strings.EqualFold(strings.TrimSpace(u.Email), email) {
			return &u, nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (t *memTx) CreateUser(ctx context.Context, user *models.User) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateUser(ctx, user) })
	}
	if _, err := t.GetUserByEmail(ctx, user.Email); err == nil {
		return fmt.Errorf("user email %s: %w", user.Email, repository.ErrDuplicateKey)
	}
	t.users[user.ID] = *user
	return nil
}

func (t *memTx) GetBorrower(_ context.Context, id string) (*models.Borrower, error) {
	if b, ok := t.borrowers[id]; ok {
		return &b, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if b, ok := t.store.borrowers[id]; ok {
		return &b, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (t *memTx) ListBorrowers(_ context.Context, userID string) ([]models.Borrower, error) {
	merged := make(map[string]models.Borrower)
	t.store.mu.RLock()
	for id, b := range t.store.borrowers {
		merged[id] = b
	}
	t.store.mu.RUnlock()
	for id, b := range t.borrowers {
		merged[id] = b
	}

	out := make([]models.Borrower, 0, len(merged))
	for _, b := range merged {
		if userID != "" && !b.OwnedBy(userID) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) CreateBorrower(ctx context.Context, borrower *models.Borrower) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateBorrower(ctx, borrower) })
	}
	t.borrowers[borrower.ID] = *borrower
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (*models.LoanProduct, error) {
	if p, ok := t.products[id]; ok {
		return &p, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if p, ok := t.store.products[id]; ok {
		return &p, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (t *memTx) ListProducts(_ context.Context) ([]models.LoanProduct, error) {
	merged := make(map[string]models.LoanProduct)
	t.store.mu.RLock()
	for id, p := range t.store.products {
		merged[id] = p
	}
	t.store.mu.RUnlock()
	for id, p := range t.products {
		merged[id] = p
	}

	out := make([]models.LoanProduct, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) CreateProduct(ctx context.Context, product *models.LoanProduct) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateProduct(ctx, product) })
	}
	t.products[product.ID] = *product
	return nil
}

func (t *memTx) GetApplication(_ context.Context, id string) (*models.LoanApplication, error) {
	if a, ok := t.apps[id]; ok {
		return &a, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if a, ok := t.store.apps[id]; ok {
		return &a, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (t *memTx) ListApplications(_ context.Context, filter repository.ApplicationFilter) ([]models.LoanApplication, error) {
	merged := make(map[string]models.LoanApplication)
	t.store.mu.RLock()
	for id, a := range t.store.apps {
		merged[id] = a
	}
	t.store.mu.RUnlock()
	for id, a := range t.apps {
		merged[id] = a
	}

	var allowed map[string]bool
	if filter.BorrowerIDs != nil {
		allowed = make(map[string]bool, len(filter.BorrowerIDs))
		for _, id := range filter.BorrowerIDs {
			allowed[id] = true
		}
	}

	out := make([]models.LoanApplication, 0, len(merged))
	for _, a := range merged {
		if allowed != nil && !allowed[a.BorrowerID] {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) CreateApplication(ctx context.Context, app *models.LoanApplication) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateApplication(ctx, app) })
	}
	if app.Version == 0 {
		app.Version = 1
	}
	t.apps[app.ID] = *app
	return nil
}

func (t *memTx) UpdateApplication(ctx context.Context, app *models.LoanApplication) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.UpdateApplication(ctx, app) })
	}
	current, err := t.GetApplication(ctx, app.ID)
	if err != nil {
		return err
	}
	if current.Version != app.Version {
		return repository.ErrVersionConflict
	}
	if _, staged := t.apps[app.ID]; !staged {
		t.appVersions[app.ID] = current.Version
	}

	// Меняются только поля жизненного цикла, валюта и сумма неизменны
	updated := *current
	updated.Status = app.Status
	updated.ApprovedAt = app.ApprovedAt
	updated.DisbursedAt = app.DisbursedAt
	updated.ApproverID = app.ApproverID
	updated.Version = current.Version + 1
	t.apps[app.ID] = updated

	app.Version = updated.Version
	return nil
}

// scheduleFor возвращает копию графика по заявке (сначала из транзакции)
func (t *memTx) scheduleFor(applicationID string) (models.RepaymentSchedule, bool) {
	for _, sch := range t.schedules {
		if sch.ApplicationID == applicationID {
			return cloneSchedule(sch), true
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, sch := range t.store.schedules {
		if sch.ApplicationID == applicationID {
			return cloneSchedule(sch), true
		}
	}
	return models.RepaymentSchedule{}, false
}

func (t *memTx) allSchedules() map[string]models.RepaymentSchedule {
	merged := make(map[string]models.RepaymentSchedule)
	t.store.mu.RLock()
	for id, sch := range t.store.schedules {
		merged[id] = cloneSchedule(sch)
	}
	t.store.mu.RUnlock()
	for id, sch := range t.schedules {
		merged[id] = cloneSchedule(sch)
	}
	return merged
}

func (t *memTx) GetScheduleByApplication(_ context.Context, applicationID string) (*models.RepaymentSchedule, error) {
	sch, ok := t.scheduleFor(applicationID)
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &sch, nil
}

func (t *memTx) CreateSchedule(ctx context.Context, schedule *models.RepaymentSchedule) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateSchedule(ctx, schedule) })
	}
	if _, exists := t.scheduleFor(schedule.ApplicationID); exists {
		return fmt.Errorf("schedule for application %s: %w", schedule.ApplicationID, repository.ErrDuplicateKey)
	}
	for i := range schedule.Installments {
		schedule.Installments[i].ScheduleID = schedule.ID
	}
	t.schedules[schedule.ID] = cloneSchedule(*schedule)
	return nil
}

func (t *memTx) MarkInstallmentPaid(ctx context.Context, installmentID string, paidAt time.Time) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.MarkInstallmentPaid(ctx, installmentID, paidAt) })
	}
	for id, sch := range t.allSchedules() {
		inst := sch.FindInstallment(installmentID)
		if inst == nil {
			continue
		}
		if inst.Paid {
			return fmt.Errorf("installment %s: %w", installmentID, repository.ErrVersionConflict)
		}
		at := paidAt
		inst.Paid = true
		inst.PaidAt = &at
		t.schedules[id] = sch
		return nil
	}
	return repository.ErrRecordNotFound
}

func (t *memTx) ListOverdueInstallments(_ context.Context, now time.Time) ([]models.OverdueInstallment, error) {
	var out []models.OverdueInstallment
	for _, sch := range t.allSchedules() {
		for _, inst := range sch.Installments {
			if !inst.Paid && inst.DueDate.Before(now) {
				out = append(out, models.OverdueInstallment{Installment: inst, ApplicationID: sch.ApplicationID})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (t *memTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	if t.autocommit {
		return t.direct(func(staged *memTx) error { return staged.CreateTransaction(ctx, tx) })
	}
	t.transactions = append(t.transactions, *tx)
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, filter repository.TransactionFilter) ([]models.Transaction, error) {
	t.store.mu.RLock()
	all := make([]models.Transaction, 0, len(t.store.transactions)+len(t.transactions))
	all = append(all, t.store.transactions...)
	t.store.mu.RUnlock()
	all = append(all, t.transactions...)

	out := make([]models.Transaction, 0, len(all))
	for _, tx := range all {
		if filter.ApplicationID != "" && tx.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.BorrowerID != "" && (tx.BorrowerID == nil || *tx.BorrowerID != filter.BorrowerID) {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Currency != "" && tx.Currency != filter.Currency {
			continue
		}
		out = append(out, tx)
	}
	// Новые сверху, при равном времени - позже добавленные сверху
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) CreateRepayment(ctx context.Context, repayment *models.Repayment) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateRepayment(ctx, repayment) })
	}
	t.repayments = append(t.repayments, *repayment)
	return nil
}

func (t *memTx) ListRepayments(_ context.Context, applicationID string) ([]models.Repayment, error) {
	t.store.mu.RLock()
	all := append([]models.Repayment{}, t.store.repayments...)
	t.store.mu.RUnlock()
	all = append(all, t.repayments...)

	out := make([]models.Repayment, 0, len(all))
	for _, r := range all {
		if r.ApplicationID == applicationID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (t *memTx) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if t.autocommit {
		return t.direct(func(tx *memTx) error { return tx.CreateAuditEvent(ctx, event) })
	}
	t.audits = append(t.audits, *event)
	return nil
}

func (t *memTx) ListAuditEvents(_ context.Context, filter repository.AuditFilter) ([]models.AuditEvent, error) {
	t.store.mu.RLock()
	all := append([]models.AuditEvent{}, t.store.audits...)
	t.store.mu.RUnlock()
	all = append(all, t.audits...)

	out := make([]models.AuditEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		out = append(out, e)
	}
	// Список уже в обратном порядке вставки, стабильная сортировка сохраняет его при равном времени
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// keyedMutex выдает отдельный мьютекс на каждый ключ
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock блокирует ключ и возвращает функцию разблокировки
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
