package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus представляет статус заявки на кредит
type ApplicationStatus string

const (
	StatusDraft     ApplicationStatus = "draft"
	StatusSubmitted ApplicationStatus = "submitted"
	StatusApproved  ApplicationStatus = "approved"
	StatusRejected  ApplicationStatus = "rejected"
	StatusDisbursed ApplicationStatus = "disbursed"
)

// IsTerminal сообщает, что из статуса нет переходов
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusDisbursed
}

// LoanApplication представляет заявку на кредит.
// Валюта фиксируется при создании и больше не меняется.
type LoanApplication struct {
	ID          string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BorrowerID  string            `gorm:"column:borrower_id;type:varchar(36);not null;index" json:"borrowerId"`
	ProductID   string            `gorm:"column:product_id;type:varchar(36);not null;index" json:"productId"`
	Principal   decimal.Decimal   `gorm:"column:principal;type:decimal(20,2);not null" json:"principal"`
	Currency    string            `gorm:"column:currency;type:char(3);not null;index" json:"currency"`
	Status      ApplicationStatus `gorm:"column:status;type:varchar(20);not null;default:'draft';index" json:"status"`
	Notes       string            `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null;index" json:"createdAt"`
	ApprovedAt  *time.Time        `gorm:"column:approved_at;index" json:"approvedAt,omitempty"`
	DisbursedAt *time.Time        `gorm:"column:disbursed_at;index" json:"disbursedAt,omitempty"`
	ApproverID  *string           `gorm:"column:approver_id;type:varchar(36)" json:"approverId,omitempty"`
	Version     int64             `gorm:"column:version;not null;default:1" json:"-"` // оптимистическая блокировка
}

func (LoanApplication) TableName() string {
	return "loan_applications"
}
