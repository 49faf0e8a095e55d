package models

import "time"

// KYCStatus представляет статус проверки заемщика
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// Borrower представляет заемщика. UserID заполнен, если заемщик связан с учетной записью клиента
type Borrower struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    *string   `gorm:"column:user_id;type:varchar(36);index" json:"userId,omitempty"`
	Name      string    `gorm:"column:name;not null;size:100;index" json:"name"`
	Email     string    `gorm:"column:email;not null;size:100" json:"email"`
	Phone     string    `gorm:"column:phone;size:32" json:"phone,omitempty"`
	KYCStatus KYCStatus `gorm:"column:kyc_status;type:varchar(20);not null;default:'pending';index" json:"kycStatus"`
	Currency  string    `gorm:"column:currency;type:char(3);not null" json:"currency"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

func (Borrower) TableName() string {
	return "borrowers"
}

// OwnedBy проверяет, принадлежит ли заемщик пользователю
func (b *Borrower) OwnedBy(userID string) bool {
	return b != nil && b.UserID != nil && userID != "" && *b.UserID == userID
}
