package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Repayment представляет факт поступления платежа. Сумма хранится в валюте платежа.
type Repayment struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ApplicationID string          `gorm:"column:application_id;type:varchar(36);not null;index" json:"applicationId"`
	InstallmentID string          `gorm:"column:installment_id;type:varchar(36);not null;index" json:"installmentId"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Currency      string          `gorm:"column:currency;type:char(3);not null" json:"currency"`
	ReceivedAt    time.Time       `gorm:"column:received_at;not null;index" json:"receivedAt"`
}

func (Repayment) TableName() string {
	return "repayments"
}
