package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// PlanDTO представляет данные для создания или изменения программы
type PlanDTO struct {
	Code                     string   `json:"code" validate:"required,max=50"`
	Name                     string   `json:"name" validate:"required,max=150"`
	Description              string   `json:"description"`
	MinIncome                *float64 `json:"min_income" validate:"omitempty,gte=0"`
	MinAssets                *float64 `json:"min_assets" validate:"omitempty,gte=0"`
	MinAge                   *int     `json:"min_age" validate:"omitempty,gte=0"`
	RequiredAssetTypes       []string `json:"required_asset_types" validate:"dive,required"`
	RequiresCharitableIntent bool     `json:"requires_charitable_intent"`
	TaxDeductionPercent      float64  `json:"tax_deduction_percent" validate:"gte=0,lte=100"`
	IncomeMultiplier         float64  `json:"income_multiplier" validate:"gte=0"`
	AssetPercent             float64  `json:"asset_percent" validate:"gte=0,lte=100"`
	MinRatio                 float64  `json:"min_ratio" validate:"gte=0,lte=1"`
	FloorAmount              float64  `json:"floor_amount" validate:"gte=0"`
	CeilingAmount            float64  `json:"ceiling_amount" validate:"gte=0"`
	SuggestedWeight          *float64 `json:"suggested_weight" validate:"omitempty,gte=0,lte=1"`
	InterestRate             float64  `json:"interest_rate" validate:"gte=0,lte=100"`
	UseReferenceRate         bool     `json:"use_reference_rate"`
	RateSpread               float64  `json:"rate_spread"`
	TermMonths               int      `json:"term_months" validate:"required,gt=0"`
	PaymentFrequency         string   `json:"payment_frequency" validate:"required,oneof=monthly quarterly semi_annual annual"`
	Benefits                 []string `json:"benefits"`
	Active                   *bool    `json:"active"`
}

// planSeedSchema описывает файл начального каталога программ
const planSeedSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["code", "name", "term_months", "payment_frequency"],
    "properties": {
      "code": {"type": "string", "minLength": 1, "maxLength": 50},
      "name": {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "min_income": {"type": ["number", "null"], "minimum": 0},
      "min_assets": {"type": ["number", "null"], "minimum": 0},
      "min_age": {"type": ["integer", "null"], "minimum": 0},
      "required_asset_types": {"type": "array", "items": {"type": "string", "minLength": 1}},
      "requires_charitable_intent": {"type": "boolean"},
      "tax_deduction_percent": {"type": "number", "minimum": 0, "maximum": 100},
      "income_multiplier": {"type": "number", "minimum": 0},
      "asset_percent": {"type": "number", "minimum": 0, "maximum": 100},
      "min_ratio": {"type": "number", "minimum": 0, "maximum": 1},
      "floor_amount": {"type": "number", "minimum": 0},
      "ceiling_amount": {"type": "number", "minimum": 0},
      "suggested_weight": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
      "interest_rate": {"type": "number", "minimum": 0, "maximum": 100},
      "use_reference_rate": {"type": "boolean"},
      "rate_spread": {"type": "number"},
      "term_months": {"type": "integer", "minimum": 1},
      "payment_frequency": {"enum": ["monthly", "quarterly", "semi_annual", "annual"]},
      "benefits": {"type": "array", "items": {"type": "string"}},
      "active": {"type": "boolean"}
    },
    "additionalProperties": false
  }
}`

// PlanCatalog предоставляет методы для работы с каталогом программ
type PlanCatalog struct {
	store     database.Store
	cache     PlanCache
	validator *validator.Validate
}

// NewPlanCatalog создает новый экземпляр PlanCatalog. cache может быть nil.
func NewPlanCatalog(store database.Store, cache PlanCache) *PlanCatalog {
	return &PlanCatalog{
		store:     store,
		cache:     cache,
		validator: validator.New(),
	}
}

// ActivePlans возвращает активные программы, по возможности из кэша
func (c *PlanCatalog) ActivePlans(ctx context.Context) ([]models.Plan, error) {
	if c.cache != nil {
		plans, ok, err := c.cache.GetActive(ctx)
		if err != nil {
			utils.Logger().Warn("plan cache read failed", zap.Error(err))
		} else if ok {
			return plans, nil
		}
	}

	plans, err := c.store.ListPlans(ctx, true)
	if err != nil {
		return nil, storeError(err, "plans")
	}

	if c.cache != nil {
		if err := c.cache.SetActive(ctx, plans); err != nil {
			utils.Logger().Warn("plan cache write failed", zap.Error(err))
		}
	}
	return plans, nil
}

// AllPlans возвращает все программы, включая неактивные
func (c *PlanCatalog) AllPlans(ctx context.Context) ([]models.Plan, error) {
	plans, err := c.store.ListPlans(ctx, false)
	if err != nil {
		return nil, storeError(err, "plans")
	}
	return plans, nil
}

// Get возвращает программу по коду. Неактивные программы тоже возвращаются.
func (c *PlanCatalog) Get(ctx context.Context, code string) (*models.Plan, error) {
	plan, err := c.store.GetPlan(ctx, code)
	if err != nil {
		return nil, storeError(err, "plan %s", code)
	}
	return plan, nil
}

// Create создает программу. Доступно только администратору.
func (c *PlanCatalog) Create(ctx context.Context, actor models.Actor, dto PlanDTO) (*models.Plan, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("only administrators can manage plans")
	}
	plan, err := c.buildPlan(dto)
	if err != nil {
		return nil, err
	}
	if err := c.store.CreatePlan(ctx, plan); err != nil {
		return nil, storeError(err, "plan %s", plan.Code)
	}
	c.invalidate(ctx)

	utils.Logger().Info("plan created", zap.String("plan", plan.Code), zap.Uint("actor_id", actor.ID))
	return plan, nil
}

// Update изменяет программу. Код программы изменить нельзя.
func (c *PlanCatalog) Update(ctx context.Context, actor models.Actor, code string, dto PlanDTO) (*models.Plan, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("only administrators can manage plans")
	}
	if dto.Code != "" && dto.Code != code {
		return nil, NewValidationError("plan code is immutable")
	}
	dto.Code = code

	existing, err := c.store.GetPlan(ctx, code)
	if err != nil {
		return nil, storeError(err, "plan %s", code)
	}

	plan, err := c.buildPlan(dto)
	if err != nil {
		return nil, err
	}
	plan.ID = existing.ID
	plan.CreatedAt = existing.CreatedAt
	if dto.Active == nil {
		plan.Active = existing.Active
	}

	if err := c.store.UpdatePlan(ctx, plan); err != nil {
		return nil, storeError(err, "plan %s", code)
	}
	c.invalidate(ctx)
	return plan, nil
}

// SetActive включает или выключает программу
func (c *PlanCatalog) SetActive(ctx context.Context, actor models.Actor, code string, active bool) (*models.Plan, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("only administrators can manage plans")
	}
	plan, err := c.store.GetPlan(ctx, code)
	if err != nil {
		return nil, storeError(err, "plan %s", code)
	}
	plan.Active = active
	if err := c.store.UpdatePlan(ctx, plan); err != nil {
		return nil, storeError(err, "plan %s", code)
	}
	c.invalidate(ctx)
	return plan, nil
}

// ImportSeed загружает каталог из JSON-файла
func (c *PlanCatalog) ImportSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read plan seed %s: %w", path, err)
	}
	return c.ImportSeedData(ctx, data)
}

// ImportSeedData проверяет документ по схеме и добавляет или обновляет программы по коду
func (c *PlanCatalog) ImportSeedData(ctx context.Context, data []byte) (int, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(planSeedSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return 0, NewValidationError("plan seed is not valid JSON: %v", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return 0, NewValidationError("plan seed does not match schema: %s", strings.Join(problems, "; "))
	}

	var dtos []PlanDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return 0, NewValidationError("decode plan seed: %v", err)
	}

	imported := 0
	err = c.store.WithTx(ctx, func(tx database.Store) error {
		for _, dto := range dtos {
			plan, err := c.buildPlan(dto)
			if err != nil {
				return err
			}
			existing, err := tx.GetPlan(ctx, plan.Code)
			switch {
			case err == nil:
				plan.ID = existing.ID
				plan.CreatedAt = existing.CreatedAt
				if err := tx.UpdatePlan(ctx, plan); err != nil {
					return storeError(err, "plan %s", plan.Code)
				}
			case isNotFound(err):
				if err := tx.CreatePlan(ctx, plan); err != nil {
					return storeError(err, "plan %s", plan.Code)
				}
			default:
				return storeError(err, "plan %s", plan.Code)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx)

	utils.Logger().Info("plan seed imported", zap.Int("plans", imported))
	return imported, nil
}

// buildPlan проверяет DTO и собирает модель
func (c *PlanCatalog) buildPlan(dto PlanDTO) (*models.Plan, error) {
	if err := c.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}

	frequency := models.PaymentFrequency(dto.PaymentFrequency)
	if dto.TermMonths%frequency.MonthsPerPeriod() != 0 {
		return nil, NewValidationError("term_months %d is not a multiple of the %s period", dto.TermMonths, frequency)
	}
	if dto.CeilingAmount > 0 && dto.FloorAmount > dto.CeilingAmount {
		return nil, NewValidationError("floor_amount must not exceed ceiling_amount")
	}

	active := true
	if dto.Active != nil {
		active = *dto.Active
	}

	return &models.Plan{
		Code:                     strings.TrimSpace(dto.Code),
		Name:                     dto.Name,
		Description:              dto.Description,
		MinIncome:                dto.MinIncome,
		MinAssets:                dto.MinAssets,
		MinAge:                   dto.MinAge,
		RequiredAssetTypes:       datatypes.JSONSlice[string](dto.RequiredAssetTypes),
		RequiresCharitableIntent: dto.RequiresCharitableIntent,
		TaxDeductionPercent:      dto.TaxDeductionPercent,
		IncomeMultiplier:         dto.IncomeMultiplier,
		AssetPercent:             dto.AssetPercent,
		MinRatio:                 dto.MinRatio,
		FloorAmount:              dto.FloorAmount,
		CeilingAmount:            dto.CeilingAmount,
		SuggestedWeight:          dto.SuggestedWeight,
		InterestRate:             dto.InterestRate,
		UseReferenceRate:         dto.UseReferenceRate,
		RateSpread:               dto.RateSpread,
		TermMonths:               dto.TermMonths,
		PaymentFrequency:         frequency,
		Benefits:                 datatypes.JSONSlice[string](dto.Benefits),
		Active:                   active,
		UpdatedAt:                time.Now(),
	}, nil
}

// invalidate сбрасывает кэш после записи
func (c *PlanCatalog) invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		utils.Logger().Warn("plan cache invalidation failed", zap.Error(err))
	}
}
