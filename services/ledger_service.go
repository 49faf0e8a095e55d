package services

import (
	"context"

	"loandesk/models"
	"loandesk/repository"
)

// LedgerService читает журнал проводок
type LedgerService struct {
	store repository.Store
}

// NewLedgerService создает новый экземпляр LedgerService
func NewLedgerService(store repository.Store) *LedgerService {
	return &LedgerService{store: store}
}

// List возвращает проводки от новых к старым.
// Клиент видит только проводки по заявкам своих заемщиков.
func (s *LedgerService) List(ctx context.Context, actor *models.Actor, filter repository.TransactionFilter) ([]models.Transaction, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role.IsStaff() {
		return s.store.ListTransactions(ctx, filter)
	}

	borrowers, err := s.store.ListBorrowers(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(borrowers))
	for _, b := range borrowers {
		owned[b.ID] = true
	}
	if filter.BorrowerID != "" && !owned[filter.BorrowerID] {
		return nil, &ForbiddenError{Reason: "borrower does not belong to user"}
	}

	apps, err := s.store.ListApplications(ctx, repository.ApplicationFilter{BorrowerIDs: keys(owned)})
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(apps))
	for _, a := range apps {
		allowed[a.ID] = true
	}
	if filter.ApplicationID != "" && !allowed[filter.ApplicationID] {
		return nil, &ForbiddenError{Reason: "application does not belong to user"}
	}

	txs, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(txs))
	for _, t := range txs {
		if allowed[t.ApplicationID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
