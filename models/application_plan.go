package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationPlan представляет привязку программы к заявке.
// Активной может быть только одна привязка, прежние остаются как история.
type ApplicationPlan struct {
	ID               uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	ApplicationID    uint                `gorm:"column:application_id;not null;index" json:"application_id"`
	PlanCode         string              `gorm:"column:plan_code;not null;size:50" json:"plan_code"`
	CustomLoanAmount decimal.NullDecimal `gorm:"column:custom_loan_amount;type:decimal(20,2)" json:"custom_loan_amount"`
	CustomMaxAmount  decimal.NullDecimal `gorm:"column:custom_max_amount;type:decimal(20,2)" json:"custom_max_amount"`
	Notes            string              `gorm:"column:notes" json:"notes,omitempty"`
	Active           bool                `gorm:"column:active;not null;default:true" json:"active"`
	AssignedBy       uint                `gorm:"column:assigned_by;not null" json:"assigned_by"`
	AssignedAt       time.Time           `gorm:"column:assigned_at;not null" json:"assigned_at"`
	DeactivatedAt    *time.Time          `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
}

// TableName возвращает имя таблицы для модели ApplicationPlan
func (ApplicationPlan) TableName() string {
	return "application_plans"
}
