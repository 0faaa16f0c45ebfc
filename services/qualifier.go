package services

import (
	"fmt"
	"math"
	"strings"

	"charitylending/models"

	"github.com/shopspring/decimal"
)

const (
	defaultMinRatio        = 0.5
	defaultSuggestedWeight = 0.5
)

// LoanRange предлагаемый диапазон суммы займа
type LoanRange struct {
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	Suggested decimal.Decimal `json:"suggested"`
}

// QualifiedPlan программа, по которой проспект проходит, вместе с диапазоном суммы
type QualifiedPlan struct {
	Plan  models.Plan `json:"plan"`
	Range LoanRange   `json:"range"`
}

// QualificationResult вердикт предварительной квалификации
type QualificationResult struct {
	Qualified      bool            `json:"qualified"`
	QualifiedPlans []QualifiedPlan `json:"qualified_plans"`
	Reasons        []string        `json:"reasons"`
}

// PlanCodes возвращает коды подходящих программ
func (r QualificationResult) PlanCodes() []string {
	codes := make([]string, 0, len(r.QualifiedPlans))
	for _, qp := range r.QualifiedPlans {
		codes = append(codes, qp.Plan.Code)
	}
	return codes
}

// Qualifier оценивает финансовый профиль по каталогу программ.
// Не имеет состояния и не возвращает ошибок: "не подходит" это обычный результат.
type Qualifier struct{}

// NewQualifier создает новый экземпляр Qualifier
func NewQualifier() *Qualifier {
	return &Qualifier{}
}

// Evaluate проверяет профиль по каждой активной программе.
// Критерии проверяются в порядке: доход, активы, возраст, благотворительное намерение, типы активов.
func (q *Qualifier) Evaluate(profile models.FinancialProfile, plans []models.Plan) QualificationResult {
	result := QualificationResult{
		QualifiedPlans: []QualifiedPlan{},
		Reasons:        []string{},
	}

	for _, plan := range plans {
		if !plan.Active {
			continue
		}

		ok, reasons := q.evaluatePlan(profile, plan)
		result.Reasons = append(result.Reasons, reasons...)
		if ok {
			result.QualifiedPlans = append(result.QualifiedPlans, QualifiedPlan{
				Plan:  plan,
				Range: q.SuggestedRange(plan, profile.AnnualIncome, profile.NetWorth),
			})
		}
	}

	result.Qualified = len(result.QualifiedPlans) > 0
	return result
}

// evaluatePlan проверяет все заданные критерии программы без раннего выхода
func (q *Qualifier) evaluatePlan(profile models.FinancialProfile, plan models.Plan) (bool, []string) {
	qualified := true
	var reasons []string
	reason := func(pass bool, format string, args ...interface{}) {
		if !pass {
			qualified = false
		}
		reasons = append(reasons, plan.Code+": "+fmt.Sprintf(format, args...))
	}

	// Доход
	if plan.MinIncome != nil {
		if profile.AnnualIncome >= *plan.MinIncome {
			reason(true, "income %.2f meets minimum %.2f", profile.AnnualIncome, *plan.MinIncome)
		} else {
			reason(false, "income %.2f is below minimum %.2f", profile.AnnualIncome, *plan.MinIncome)
		}
	}

	// Активы
	if plan.MinAssets != nil {
		if profile.NetWorth >= *plan.MinAssets {
			reason(true, "net worth %.2f meets minimum %.2f", profile.NetWorth, *plan.MinAssets)
		} else {
			reason(false, "net worth %.2f is below minimum %.2f", profile.NetWorth, *plan.MinAssets)
		}
	}

	// Возраст
	if plan.MinAge != nil {
		if profile.Age >= *plan.MinAge {
			reason(true, "age %d meets minimum %d", profile.Age, *plan.MinAge)
		} else {
			reason(false, "age %d is below minimum %d", profile.Age, *plan.MinAge)
		}
	}

	// Благотворительное намерение
	if plan.RequiresCharitableIntent {
		if profile.CharitableIntent {
			reason(true, "charitable intent declared")
		} else {
			reason(false, "charitable intent required but not declared")
		}
	}

	// Типы активов: достаточно одного совпадения
	if len(plan.RequiredAssetTypes) > 0 {
		if matched := intersectAssetTypes(profile.AssetTypes, plan.RequiredAssetTypes); len(matched) > 0 {
			reason(true, "asset types %v match required %v", matched, []string(plan.RequiredAssetTypes))
		} else {
			reason(false, "no asset type of %v matches required %v", []string(profile.AssetTypes), []string(plan.RequiredAssetTypes))
		}
	}

	return qualified, reasons
}

// intersectAssetTypes возвращает совпадающие типы активов без учета регистра
func intersectAssetTypes(have, required []string) []string {
	want := make(map[string]struct{}, len(required))
	for _, r := range required {
		want[normalizeAssetType(r)] = struct{}{}
	}
	var matched []string
	for _, h := range have {
		if _, ok := want[normalizeAssetType(h)]; ok {
			matched = append(matched, h)
		}
	}
	return matched
}

func normalizeAssetType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SuggestedRange рассчитывает диапазон суммы займа по параметрам калькулятора программы.
// base = income*income_multiplier + assets*asset_percent/100, max = base в пределах [floor, ceiling],
// min = base*min_ratio в пределах [floor, max], suggested = min + weight*(max-min).
// Нулевой ceiling означает отсутствие верхней границы.
func (q *Qualifier) SuggestedRange(plan models.Plan, income, assets float64) LoanRange {
	base := decimal.NewFromFloat(income).Mul(decimal.NewFromFloat(plan.IncomeMultiplier)).
		Add(decimal.NewFromFloat(assets).Mul(decimal.NewFromFloat(plan.AssetPercent)).Div(hundred))
	if base.IsNegative() {
		base = decimal.Zero
	}

	floor := decimal.NewFromFloat(plan.FloorAmount)
	ceiling := decimal.NewFromFloat(plan.CeilingAmount)

	upper := decimal.Max(base, floor)
	if ceiling.IsPositive() {
		upper = decimal.Min(upper, ceiling)
	}

	ratio := plan.MinRatio
	if ratio <= 0 {
		ratio = defaultMinRatio
	}
	lower := decimal.Max(base.Mul(decimal.NewFromFloat(ratio)), floor)
	lower = decimal.Min(lower, upper)

	weight := defaultSuggestedWeight
	if plan.SuggestedWeight != nil {
		weight = math.Min(math.Max(*plan.SuggestedWeight, 0), 1)
	}

	lower = lower.Round(2)
	upper = upper.Round(2)
	suggested := lower.Add(upper.Sub(lower).Mul(decimal.NewFromFloat(weight))).Round(2)

	return LoanRange{Min: lower, Max: upper, Suggested: suggested}
}

// ValidateProfile отклоняет нечисловые и отрицательные значения до вызова Evaluate
func ValidateProfile(profile models.FinancialProfile) error {
	checks := []struct {
		field string
		value float64
	}{
		{"annual_income", profile.AnnualIncome},
		{"net_worth", profile.NetWorth},
		{"age", float64(profile.Age)},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return NewValidationError("%s must be a finite number", c.field)
		}
		if c.value < 0 {
			return NewValidationError("%s must not be negative", c.field)
		}
	}
	for _, t := range profile.AssetTypes {
		if strings.TrimSpace(t) == "" {
			return NewValidationError("asset_types must not contain blank entries")
		}
	}
	return nil
}

// taxBrackets прогрессивная шкала: порог дохода и ставка в процентах
var taxBrackets = []struct {
	threshold float64
	percent   float64
}{
	{578125, 37},
	{231250, 35},
	{182100, 32},
	{95375, 24},
	{44725, 22},
	{11000, 12},
	{0, 10},
}

// TaxBracketFor возвращает предельную налоговую ставку для годового дохода
func TaxBracketFor(income float64) float64 {
	for _, b := range taxBrackets {
		if income > b.threshold {
			return b.percent
		}
	}
	return taxBrackets[len(taxBrackets)-1].percent
}
