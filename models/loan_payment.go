package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus представляет статус платежа по графику
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // Создан вместе с графиком
	PaymentStatusScheduled PaymentStatus = "scheduled" // Ближайший к оплате
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusOverdue   PaymentStatus = "overdue"
	PaymentStatusMissed    PaymentStatus = "missed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PayableStatuses перечисляет статусы, по которым еще можно принять оплату
var PayableStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusScheduled,
	PaymentStatusOverdue,
	PaymentStatusMissed,
}

// IsPayable сообщает, можно ли принять оплату в этом статусе
func (s PaymentStatus) IsPayable() bool {
	for _, p := range PayableStatuses {
		if s == p {
			return true
		}
	}
	return false
}

// LoanPayment представляет один платеж графика погашения
type LoanPayment struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanID          uint            `gorm:"column:loan_id;not null;index" json:"loan_id"`
	Sequence        int             `gorm:"column:sequence;not null" json:"sequence"`
	DueDate         time.Time       `gorm:"column:due_date;not null;index" json:"due_date"`
	AmountDue       decimal.Decimal `gorm:"column:amount_due;type:decimal(20,2);not null" json:"amount_due"`
	PrincipalAmount decimal.Decimal `gorm:"column:principal_amount;type:decimal(20,2);not null" json:"principal_amount"`
	InterestAmount  decimal.Decimal `gorm:"column:interest_amount;type:decimal(20,2);not null" json:"interest_amount"`
	LateFee         decimal.Decimal `gorm:"column:late_fee;type:decimal(20,2);not null;default:0" json:"late_fee"`
	PenaltyAmount   decimal.Decimal `gorm:"column:penalty_amount;type:decimal(20,2);not null;default:0" json:"penalty_amount"`
	Status          PaymentStatus   `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`

	// Поля оплаты заполняются ровно один раз
	AmountPaid decimal.Decimal `gorm:"column:amount_paid;type:decimal(20,2);not null;default:0" json:"amount_paid"`
	PaidDate   *time.Time      `gorm:"column:paid_date" json:"paid_date,omitempty"`
	Method     string          `gorm:"column:method;size:50" json:"method,omitempty"`
	Reference  string          `gorm:"column:reference;size:100" json:"reference,omitempty"`
	Notes      string          `gorm:"column:notes" json:"notes,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName возвращает имя таблицы для модели LoanPayment
func (LoanPayment) TableName() string {
	return "loan_payments"
}

// TotalDue возвращает максимальную сумму, которую можно внести по платежу
func (p *LoanPayment) TotalDue() decimal.Decimal {
	return p.AmountDue.Add(p.LateFee).Add(p.PenaltyAmount)
}

// IsOverdue вычисляет просрочку на момент asOf, не полагаясь на сохраненный статус
func (p *LoanPayment) IsOverdue(asOf time.Time) bool {
	if p.Status == PaymentStatusOverdue || p.Status == PaymentStatusMissed {
		return true
	}
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusScheduled {
		return false
	}
	return p.DueDate.Before(asOf)
}
