package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanTransactionType представляет тип проводки по займу
type LoanTransactionType string

const (
	LoanTransactionDisbursement LoanTransactionType = "disbursement"
	LoanTransactionPayment      LoanTransactionType = "payment"
)

// LoanTransaction журнал движения остатка по займу
type LoanTransaction struct {
	ID               uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanID           uint                `gorm:"column:loan_id;not null;index" json:"loan_id"`
	PaymentID        *uint               `gorm:"column:payment_id" json:"payment_id,omitempty"`
	Type             LoanTransactionType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	PrincipalPortion decimal.Decimal     `gorm:"column:principal_portion;type:decimal(20,2);not null;default:0" json:"principal_portion"`
	InterestPortion  decimal.Decimal     `gorm:"column:interest_portion;type:decimal(20,2);not null;default:0" json:"interest_portion"`
	BalanceBefore    decimal.Decimal     `gorm:"column:balance_before;type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter     decimal.Decimal     `gorm:"column:balance_after;type:decimal(20,2);not null" json:"balance_after"`
	ActorID          uint                `gorm:"column:actor_id;not null" json:"actor_id"`
	Description      string              `gorm:"column:description;size:255" json:"description"`
	CreatedAt        time.Time           `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (LoanTransaction) TableName() string {
	return "loan_transactions"
}
