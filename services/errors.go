package services

import (
	"errors"
	"fmt"

	"loandesk/models"
	"loandesk/repository"
)

// NotFoundError возвращается, если сущность не найдена
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStateError возвращается при недопустимом переходе статуса заявки
type InvalidStateError struct {
	ID     string
	Status models.ApplicationStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s application %s in status %s", e.Action, e.ID, e.Status)
}

// ForbiddenError возвращается, если у пользователя нет прав на операцию
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Reason
}

// ExternalServiceError возвращается при сбое внешнего сервиса (курсы валют)
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// ValidationError возвращается при некорректных входных данных
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError возвращается, если запись нарушает уникальность или была изменена параллельно
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// notFoundOr переводит repository.ErrRecordNotFound в NotFoundError
func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return &ConflictError{Message: fmt.Sprintf("%s %s was modified concurrently", entity, id)}
	}
	return err
}
