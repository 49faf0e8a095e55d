package services

import (
	"context"
	"errors"

	"loandesk/models"
	"loandesk/repository"
)

// AssertAdmin проверяет, что операцию выполняет администратор
func AssertAdmin(role models.Role) error {
	if role != models.RoleAdmin {
		return &ForbiddenError{Reason: "admin required"}
	}
	return nil
}

// AssertOwnsBorrower проверяет, что заемщик существует и связан с пользователем.
// Отсутствующий заемщик тоже дает ForbiddenError, чтобы не раскрывать чужие ID.
func AssertOwnsBorrower(ctx context.Context, tx repository.Tx, userID, borrowerID string) (*models.Borrower, error) {
	borrower, err := tx.GetBorrower(ctx, borrowerID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, &ForbiddenError{Reason: "borrower does not belong to user"}
		}
		return nil, err
	}
	if !borrower.OwnedBy(userID) {
		return nil, &ForbiddenError{Reason: "borrower does not belong to user"}
	}
	return borrower, nil
}

// AssertOwnsApplication проверяет, что заявка принадлежит заемщику пользователя
func AssertOwnsApplication(ctx context.Context, tx repository.Tx, userID, applicationID string) (*models.LoanApplication, error) {
	app, err := tx.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, notFoundOr(err, "application", applicationID)
	}
	if _, err := AssertOwnsBorrower(ctx, tx, userID, app.BorrowerID); err != nil {
		return nil, err
	}
	return app, nil
}

// AssertCanView проверяет право чтения заявки: сотрудники видят все, клиент - только свои
func AssertCanView(ctx context.Context, tx repository.Tx, actor *models.Actor, app *models.LoanApplication) error {
	if actor == nil || actor.ID == "" {
		return &ForbiddenError{Reason: "authentication required"}
	}
	if actor.Role.IsStaff() {
		return nil
	}
	_, err := AssertOwnsBorrower(ctx, tx, actor.ID, app.BorrowerID)
	return err
}

// requireActor проверяет, что вызывающий аутентифицирован
func requireActor(actor *models.Actor) error {
	if actor == nil || actor.ID == "" {
		return &ForbiddenError{Reason: "authentication required"}
	}
	return nil
}

// actorRole возвращает роль или пустую строку для анонимного вызова
func actorRole(actor *models.Actor) models.Role {
	if actor == nil {
		return ""
	}
	return actor.Role
}
