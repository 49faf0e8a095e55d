package services

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator выдает идентификаторы новых записей
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc позволяет использовать функцию как IDGenerator
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string {
	return f()
}

// UUIDGenerator выдает UUID v4
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Clock возвращает текущее время; подменяется в тестах
type Clock func() time.Time

// SystemClock возвращает текущее время в UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}
