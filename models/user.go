package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role представляет роль пользователя в системе
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOfficer  Role = "officer"
	RoleAuditor  Role = "auditor"
	RoleCustomer Role = "customer"
)

// SystemActorID используется в журнале аудита для автоматических действий
const SystemActorID = "system"

// IsStaff сообщает, является ли роль сотрудником (видит все заявки)
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleOfficer || r == RoleAuditor
}

// Actor представляет пользователя, от имени которого выполняется операция
type Actor struct {
	ID   string
	Role Role
}

// AuditID возвращает идентификатор для журнала аудита
func (a *Actor) AuditID() string {
	if a == nil || a.ID == "" {
		return SystemActorID
	}
	return a.ID
}

type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string    `gorm:"column:name;not null;size:100" json:"name"`
	Email        string    `gorm:"column:email;unique;not null;size:100;index" json:"email"`
	Role         Role      `gorm:"column:role;type:varchar(20);not null;index" json:"role"`
	PasswordHash string    `gorm:"column:password_hash;not null;size:100" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(u.Name) == "" || len(u.Name) > 100 {
		return errors.New("name must be between 1 and 100 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	return nil
}
