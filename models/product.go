package models

import "github.com/shopspring/decimal"

// InterestType представляет способ начисления процентов
type InterestType string

const (
	InterestFlat     InterestType = "flat"
	InterestReducing InterestType = "reducing"
)

// LoanProduct представляет кредитный продукт.
// После того как на продукт сослалась заявка, его не изменяют.
type LoanProduct struct {
	ID               string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name             string          `gorm:"column:name;not null;size:100;index" json:"name"`
	Currency         string          `gorm:"column:currency;type:char(3);not null;index" json:"currency"`
	InterestRate     float64         `gorm:"column:interest_rate;not null" json:"interestRate"`
	InterestType     InterestType    `gorm:"column:interest_type;type:varchar(20);not null;default:'reducing'" json:"interestType"`
	TermMonths       int             `gorm:"column:term_months;not null" json:"termMonths"`
	ProcessingFeePct decimal.Decimal `gorm:"column:processing_fee_pct;type:decimal(10,4);not null;default:0" json:"processingFeePct"`
	PenaltyPct       decimal.Decimal `gorm:"column:penalty_pct;type:decimal(10,4);not null;default:0" json:"penaltyPct"`
}

func (LoanProduct) TableName() string {
	return "loan_products"
}
