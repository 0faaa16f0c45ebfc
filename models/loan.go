package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus представляет статус займа
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaidOff   LoanStatus = "paid_off"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusCancelled LoanStatus = "cancelled"
	LoanStatusClosed    LoanStatus = "closed"
)

// AcceptsPayments сообщает, можно ли проводить платежи по займу в этом статусе
func (s LoanStatus) AcceptsPayments() bool {
	return s == LoanStatusActive || s == LoanStatusDefaulted
}

// Loan представляет выданный займ
type Loan struct {
	ID               uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	Number           string           `gorm:"column:number;unique;not null;size:40" json:"number"`
	ApplicationID    uint             `gorm:"column:application_id;not null;uniqueIndex" json:"application_id"`
	ApplicantID      uint             `gorm:"column:applicant_id;not null;index" json:"applicant_id"`
	PlanCode         string           `gorm:"column:plan_code;not null;size:50" json:"plan_code"`
	PrincipalAmount  decimal.Decimal  `gorm:"column:principal_amount;type:decimal(20,2);not null" json:"principal_amount"`
	InterestRate     float64          `gorm:"column:interest_rate;not null" json:"interest_rate"`
	TermMonths       int              `gorm:"column:term_months;not null" json:"term_months"`
	PaymentFrequency PaymentFrequency `gorm:"column:payment_frequency;type:varchar(20);not null" json:"payment_frequency"`
	Status           LoanStatus       `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`
	DisbursementDate time.Time        `gorm:"column:disbursement_date;not null" json:"disbursement_date"`

	// Накопительные показатели
	CurrentBalance     decimal.Decimal `gorm:"column:current_balance;type:decimal(20,2);not null;default:0" json:"current_balance"`
	TotalPaid          decimal.Decimal `gorm:"column:total_paid;type:decimal(20,2);not null;default:0" json:"total_paid"`
	TotalPrincipalPaid decimal.Decimal `gorm:"column:total_principal_paid;type:decimal(20,2);not null;default:0" json:"total_principal_paid"`
	TotalInterestPaid  decimal.Decimal `gorm:"column:total_interest_paid;type:decimal(20,2);not null;default:0" json:"total_interest_paid"`

	NextPaymentAmount decimal.NullDecimal `gorm:"column:next_payment_amount;type:decimal(20,2)" json:"next_payment_amount"`
	NextPaymentDate   *time.Time          `gorm:"column:next_payment_date" json:"next_payment_date,omitempty"`
	LastPaymentAmount decimal.NullDecimal `gorm:"column:last_payment_amount;type:decimal(20,2)" json:"last_payment_amount"`
	LastPaymentDate   *time.Time          `gorm:"column:last_payment_date" json:"last_payment_date,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName возвращает имя таблицы для модели Loan
func (Loan) TableName() string {
	return "loans"
}
