package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AssignPlanDTO представляет данные для привязки программы к заявке
type AssignPlanDTO struct {
	PlanCode         string           `json:"plan_code" validate:"required,max=50"`
	CustomLoanAmount *decimal.Decimal `json:"custom_loan_amount"`
	CustomMaxAmount  *decimal.Decimal `json:"custom_max_amount"`
	Notes            string           `json:"notes" validate:"max=2000"`
}

// PlanAssigner привязывает программы к заявкам.
// Одновременно активна только одна привязка, прежние остаются в истории.
type PlanAssigner struct {
	store      database.Store
	authorizer *Authorizer
	validator  *validator.Validate
	now        func() time.Time
}

// NewPlanAssigner создает новый экземпляр PlanAssigner
func NewPlanAssigner(store database.Store, authorizer *Authorizer) *PlanAssigner {
	return &PlanAssigner{
		store:      store,
		authorizer: authorizer,
		validator:  validator.New(),
		now:        time.Now,
	}
}

// Assign деактивирует текущую привязку и создает новую в одной транзакции
func (p *PlanAssigner) Assign(ctx context.Context, actor models.Actor, applicationID uint, dto AssignPlanDTO) (*models.ApplicationPlan, error) {
	start := time.Now()
	ctx, span := utils.StartSpan(ctx, "plan.assign")
	defer span.End()

	binding, err := p.assign(ctx, actor, applicationID, dto)
	utils.LogOperation("plan.assign", start, err)
	return binding, err
}

func (p *PlanAssigner) assign(ctx context.Context, actor models.Actor, applicationID uint, dto AssignPlanDTO) (*models.ApplicationPlan, error) {
	dto.PlanCode = strings.TrimSpace(dto.PlanCode)
	if err := p.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}
	if dto.CustomLoanAmount != nil && !dto.CustomLoanAmount.IsPositive() {
		return nil, NewValidationError("custom_loan_amount must be greater than 0")
	}
	if dto.CustomMaxAmount != nil && !dto.CustomMaxAmount.IsPositive() {
		return nil, NewValidationError("custom_max_amount must be greater than 0")
	}
	if dto.CustomLoanAmount != nil && dto.CustomMaxAmount != nil && dto.CustomLoanAmount.GreaterThan(*dto.CustomMaxAmount) {
		return nil, NewValidationError("custom_loan_amount must not exceed custom_max_amount")
	}

	var binding *models.ApplicationPlan
	err := p.store.WithTx(ctx, func(tx database.Store) error {
		app, err := p.lockEditable(ctx, tx, actor, applicationID)
		if err != nil {
			return err
		}

		plan, err := tx.GetPlan(ctx, dto.PlanCode)
		if err != nil {
			return storeError(err, "plan %s", dto.PlanCode)
		}
		if !plan.Active {
			return NewNotFoundError("active plan %s", dto.PlanCode)
		}

		now := p.now()
		if _, err := tx.DeactivateApplicationPlans(ctx, app.ID, now); err != nil {
			return storeError(err, "plan bindings of application %d", app.ID)
		}

		binding = &models.ApplicationPlan{
			ApplicationID:    app.ID,
			PlanCode:         plan.Code,
			CustomLoanAmount: nullDecimal(dto.CustomLoanAmount),
			CustomMaxAmount:  nullDecimal(dto.CustomMaxAmount),
			Notes:            strings.TrimSpace(dto.Notes),
			Active:           true,
			AssignedBy:       actor.ID,
			AssignedAt:       now,
		}
		if err := tx.CreateApplicationPlan(ctx, binding); err != nil {
			return storeError(err, "active plan binding for application %d", app.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.Logger().Info("plan assigned",
		zap.Uint("application_id", applicationID),
		zap.String("plan", binding.PlanCode),
		zap.Uint("actor_id", actor.ID),
	)
	return binding, nil
}

// Unassign деактивирует текущую привязку без замены
func (p *PlanAssigner) Unassign(ctx context.Context, actor models.Actor, applicationID uint) error {
	start := time.Now()
	err := p.store.WithTx(ctx, func(tx database.Store) error {
		app, err := p.lockEditable(ctx, tx, actor, applicationID)
		if err != nil {
			return err
		}
		n, err := tx.DeactivateApplicationPlans(ctx, app.ID, p.now())
		if err != nil {
			return storeError(err, "plan bindings of application %d", app.ID)
		}
		if n == 0 {
			return NewNotFoundError("active plan binding for application %d", app.ID)
		}
		return nil
	})
	utils.LogOperation("plan.unassign", start, err)
	return err
}

// lockEditable блокирует заявку и проверяет, что ее можно перепривязать
func (p *PlanAssigner) lockEditable(ctx context.Context, tx database.Store, actor models.Actor, applicationID uint) (*models.Application, error) {
	app, err := tx.GetApplication(ctx, applicationID, true)
	if err != nil {
		return nil, storeError(err, "application %d", applicationID)
	}
	if err := p.authorizer.requireEdit(ctx, tx, actor, app); err != nil {
		return nil, err
	}
	if app.Status.IsTerminal() {
		return nil, &EngineError{
			Kind:     KindInvalidTransition,
			Message:  "plan of a " + string(app.Status) + " application cannot be changed",
			Metadata: map[string]interface{}{"application_id": app.ID, "status": app.Status},
		}
	}
	return app, nil
}

// Active возвращает активную привязку заявки
func (p *PlanAssigner) Active(ctx context.Context, actor models.Actor, applicationID uint) (*models.ApplicationPlan, error) {
	if err := p.view(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	binding, err := p.store.GetActiveApplicationPlan(ctx, applicationID)
	if err != nil {
		return nil, storeError(err, "active plan binding for application %d", applicationID)
	}
	return binding, nil
}

// History возвращает все привязки заявки, включая неактивные
func (p *PlanAssigner) History(ctx context.Context, actor models.Actor, applicationID uint) ([]models.ApplicationPlan, error) {
	if err := p.view(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	bindings, err := p.store.ListApplicationPlans(ctx, applicationID)
	if err != nil {
		return nil, storeError(err, "plan bindings of application %d", applicationID)
	}
	return bindings, nil
}

func (p *PlanAssigner) view(ctx context.Context, actor models.Actor, applicationID uint) error {
	app, err := p.store.GetApplication(ctx, applicationID, false)
	if err != nil {
		return storeError(err, "application %d", applicationID)
	}
	return p.authorizer.requireView(ctx, actor, app)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}

// isNotFound сообщает, что ошибка хранилища означает отсутствие записи
func isNotFound(err error) bool {
	return errors.Is(err, database.ErrRecordNotFound)
}
