package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RepaymentSchedule представляет график платежей по заявке (создается один раз при выдаче)
type RepaymentSchedule struct {
	ID            string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ApplicationID string        `gorm:"column:application_id;type:varchar(36);not null;uniqueIndex" json:"applicationId"`
	Installments  []Installment `gorm:"foreignKey:ScheduleID" json:"installments"`
}

func (RepaymentSchedule) TableName() string {
	return "repayment_schedules"
}

// Installment представляет один плановый платеж
type Installment struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ScheduleID   string          `gorm:"column:schedule_id;type:varchar(36);not null;index" json:"-"`
	Seq          int             `gorm:"column:seq;not null" json:"seq"`
	DueDate      time.Time       `gorm:"column:due_date;not null;index" json:"dueDate"`
	PrincipalDue decimal.Decimal `gorm:"column:principal_due;type:decimal(20,2);not null" json:"principalDue"`
	InterestDue  decimal.Decimal `gorm:"column:interest_due;type:decimal(20,2);not null" json:"interestDue"`
	TotalDue     decimal.Decimal `gorm:"column:total_due;type:decimal(20,2);not null" json:"totalDue"`
	Paid         bool            `gorm:"column:paid;not null;default:false" json:"paid"`
	PaidAt       *time.Time      `gorm:"column:paid_at" json:"paidAt,omitempty"`
}

func (Installment) TableName() string {
	return "installments"
}

// FindInstallment ищет платеж по ID
func (s *RepaymentSchedule) FindInstallment(id string) *Installment {
	for i := range s.Installments {
		if s.Installments[i].ID == id {
			return &s.Installments[i]
		}
	}
	return nil
}

// OverdueInstallment представляет неоплаченный просроченный платеж вместе с заявкой
type OverdueInstallment struct {
	Installment
	ApplicationID string `json:"applicationId"`
}
