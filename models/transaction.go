package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType представляет тип проводки
type TransactionType string

const (
	TransactionDisbursement TransactionType = "disbursement"
	TransactionRepayment    TransactionType = "repayment"
	TransactionFee          TransactionType = "fee"
	TransactionPenalty      TransactionType = "penalty"
)

// FXConversion описывает конвертацию суммы между валютами
type FXConversion struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Rate         decimal.Decimal `json:"rate"`
	Date         string          `json:"date,omitempty"`
	AmountSource decimal.Decimal `json:"amountSource"`
}

// Transaction представляет запись в журнале движения денег. Только добавление.
type Transaction struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Type          TransactionType `gorm:"column:type;type:varchar(20);not null;index" json:"type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Currency      string          `gorm:"column:currency;type:char(3);not null;index" json:"currency"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;index" json:"createdAt"`
	ApplicationID string          `gorm:"column:application_id;type:varchar(36);not null;index" json:"applicationId"`
	BorrowerID    *string         `gorm:"column:borrower_id;type:varchar(36);index" json:"borrowerId,omitempty"`
	PayoutAccount string          `gorm:"column:payout_account;size:64" json:"payoutAccount,omitempty"`
	InstallmentID *string         `gorm:"column:installment_id;type:varchar(36)" json:"installmentId,omitempty"`
	AppCurrency   string          `gorm:"column:app_currency;type:char(3);not null" json:"appCurrency"`
	// AppliedAmount - эквивалент суммы в валюте заявки (для погашений)
	AppliedAmount *decimal.Decimal `gorm:"column:applied_amount;type:decimal(20,2)" json:"appliedAmount,omitempty"`
	FX            *FXConversion    `gorm:"column:fx;type:jsonb;serializer:json" json:"fx,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}
