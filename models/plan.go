package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentFrequency представляет периодичность платежей по займу
type PaymentFrequency string

const (
	FrequencyMonthly    PaymentFrequency = "monthly"
	FrequencyQuarterly  PaymentFrequency = "quarterly"
	FrequencySemiAnnual PaymentFrequency = "semi_annual"
	FrequencyAnnual     PaymentFrequency = "annual"
)

// PaymentsPerYear возвращает количество платежей в году, 0 для неизвестной периодичности
func (f PaymentFrequency) PaymentsPerYear() int {
	switch f {
	case FrequencyMonthly:
		return 12
	case FrequencyQuarterly:
		return 4
	case FrequencySemiAnnual:
		return 2
	case FrequencyAnnual:
		return 1
	}
	return 0
}

// MonthsPerPeriod возвращает длину одного периода в месяцах
func (f PaymentFrequency) MonthsPerPeriod() int {
	perYear := f.PaymentsPerYear()
	if perYear == 0 {
		return 0
	}
	return 12 / perYear
}

// IsValid проверяет, что периодичность известна
func (f PaymentFrequency) IsValid() bool {
	return f.PaymentsPerYear() > 0
}

// Plan представляет программу благотворительного финансирования
type Plan struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string `gorm:"column:code;unique;not null;size:50" json:"code"`
	Name        string `gorm:"column:name;not null;size:150" json:"name"`
	Description string `gorm:"column:description" json:"description"`

	// Пороги допуска, nil означает "не задано"
	MinIncome                *float64                    `gorm:"column:min_income" json:"min_income,omitempty"`
	MinAssets                *float64                    `gorm:"column:min_assets" json:"min_assets,omitempty"`
	MinAge                   *int                        `gorm:"column:min_age" json:"min_age,omitempty"`
	RequiredAssetTypes       datatypes.JSONSlice[string] `gorm:"column:required_asset_types;type:jsonb" json:"required_asset_types"`
	RequiresCharitableIntent bool                        `gorm:"column:requires_charitable_intent;not null;default:false" json:"requires_charitable_intent"`
	TaxDeductionPercent      float64                     `gorm:"column:tax_deduction_percent;not null;default:0" json:"tax_deduction_percent"`

	// Параметры калькулятора суммы займа
	IncomeMultiplier float64  `gorm:"column:income_multiplier;not null;default:0" json:"income_multiplier"`
	AssetPercent     float64  `gorm:"column:asset_percent;not null;default:0" json:"asset_percent"`
	MinRatio         float64  `gorm:"column:min_ratio;not null;default:0" json:"min_ratio"`
	FloorAmount      float64  `gorm:"column:floor_amount;not null;default:0" json:"floor_amount"`
	CeilingAmount    float64  `gorm:"column:ceiling_amount;not null;default:0" json:"ceiling_amount"`
	SuggestedWeight  *float64 `gorm:"column:suggested_weight" json:"suggested_weight,omitempty"`

	// Ценообразование
	InterestRate     float64          `gorm:"column:interest_rate;not null;default:0" json:"interest_rate"`
	UseReferenceRate bool             `gorm:"column:use_reference_rate;not null;default:false" json:"use_reference_rate"`
	RateSpread       float64          `gorm:"column:rate_spread;not null;default:0" json:"rate_spread"`
	TermMonths       int              `gorm:"column:term_months;not null;default:12" json:"term_months"`
	PaymentFrequency PaymentFrequency `gorm:"column:payment_frequency;type:varchar(20);not null;default:'monthly'" json:"payment_frequency"`

	Benefits  datatypes.JSONSlice[string] `gorm:"column:benefits;type:jsonb" json:"benefits"`
	Active    bool                        `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time                   `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName возвращает имя таблицы для модели Plan
func (Plan) TableName() string {
	return "plans"
}
