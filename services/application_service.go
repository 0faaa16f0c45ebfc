package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CreateApplicationDTO представляет данные для создания заявки
type CreateApplicationDTO struct {
	ApplicantID     uint            `json:"applicant_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Purpose         string          `json:"purpose" validate:"max=2000"`
	Departments     []string        `json:"departments" validate:"dive,required"`
}

// TransitionContext дополнительные данные перехода
type TransitionContext struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// ApplicationService реализует конечный автомат заявки.
// Это единственное место, где проверяются граф переходов и причина отказа.
type ApplicationService struct {
	store      database.Store
	catalog    *PlanCatalog
	qualifier  *Qualifier
	authorizer *Authorizer
	validator  *validator.Validate
	now        func() time.Time
}

// NewApplicationService создает новый экземпляр ApplicationService
func NewApplicationService(store database.Store, catalog *PlanCatalog, qualifier *Qualifier, authorizer *Authorizer) *ApplicationService {
	return &ApplicationService{
		store:      store,
		catalog:    catalog,
		qualifier:  qualifier,
		authorizer: authorizer,
		validator:  validator.New(),
		now:        time.Now,
	}
}

// newNumber формирует номер вида PREFIX-YYYYMMDD-XXXXXXXX
func newNumber(prefix string, at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(id[:8]))
}

// Create создает заявку в статусе draft
func (s *ApplicationService) Create(ctx context.Context, actor models.Actor, dto CreateApplicationDTO) (*models.Application, error) {
	start := time.Now()
	ctx, span := utils.StartSpan(ctx, "application.create")
	defer span.End()

	app, err := s.create(ctx, actor, dto)
	utils.LogOperation("application.create", start, err)
	return app, err
}

func (s *ApplicationService) create(ctx context.Context, actor models.Actor, dto CreateApplicationDTO) (*models.Application, error) {
	if dto.ApplicantID == 0 {
		dto.ApplicantID = actor.ID
	}
	if err := s.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}
	if dto.RequestedAmount.IsNegative() {
		return nil, NewValidationError("requested_amount must not be negative")
	}

	ok, err := s.authorizer.CanActForApplicant(ctx, actor, dto.ApplicantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthorizationError("actor %d cannot create applications for user %d", actor.ID, dto.ApplicantID)
	}

	applicant, err := s.store.GetUser(ctx, dto.ApplicantID)
	if err != nil {
		return nil, storeError(err, "user %d", dto.ApplicantID)
	}
	plans, err := s.catalog.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	app := &models.Application{
		Number:          newNumber("APP", now),
		ApplicantID:     applicant.ID,
		Status:          models.ApplicationStatusDraft,
		RequestedAmount: dto.RequestedAmount.Round(2),
		Purpose:         strings.TrimSpace(dto.Purpose),
		Departments:     datatypes.JSONSlice[string](dto.Departments),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.capture(app, applicant.Profile, plans, now)

	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, storeError(err, "application %s", app.Number)
	}

	utils.Logger().Info("application created",
		zap.Uint("application_id", app.ID),
		zap.String("number", app.Number),
		zap.Uint("actor_id", actor.ID),
	)
	return app, nil
}

// capture копирует живой профиль в снимок и пересчитывает квалификацию
func (s *ApplicationService) capture(app *models.Application, profile models.FinancialProfile, plans []models.Plan, at time.Time) {
	result := s.qualifier.Evaluate(profile, plans)
	captured := at
	app.Snapshot = models.FinancialSnapshot{
		Income:            profile.AnnualIncome,
		NetWorth:          profile.NetWorth,
		TaxBracketPercent: TaxBracketFor(profile.AnnualIncome),
		CapturedAt:        &captured,
	}
	app.Qualification = models.QualificationMetadata{
		Qualified:        result.Qualified,
		QualifyingPlans:  datatypes.JSONSlice[string](result.PlanCodes()),
		Reasons:          datatypes.JSONSlice[string](result.Reasons),
		AssetTypes:       append(datatypes.JSONSlice[string]{}, profile.AssetTypes...),
		Age:              profile.Age,
		CharitableIntent: profile.CharitableIntent,
	}
}

// Get возвращает заявку, если участник может ее видеть
func (s *ApplicationService) Get(ctx context.Context, actor models.Actor, id uint) (*models.Application, error) {
	app, err := s.store.GetApplication(ctx, id, false)
	if err != nil {
		return nil, storeError(err, "application %d", id)
	}
	ok, err := s.authorizer.CanViewApplication(ctx, actor, app)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthorizationError("actor %d cannot view application %d", actor.ID, id)
	}
	return app, nil
}

// Transition переводит заявку в целевой статус
func (s *ApplicationService) Transition(ctx context.Context, actor models.Actor, id uint, target models.ApplicationStatus, tc TransitionContext) (*models.Application, error) {
	start := time.Now()
	ctx, span := utils.StartSpan(ctx, "application.transition")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("application.id", int64(id)),
		attribute.String("application.target", string(target)),
	)

	var plans []models.Plan
	if target == models.ApplicationStatusSubmitted {
		// Каталог читается до транзакции: внутри нее доступно только хранилище транзакции
		var err error
		if plans, err = s.catalog.ActivePlans(ctx); err != nil {
			utils.LogOperation("application.transition", start, err)
			return nil, err
		}
	}

	var (
		result *models.Application
		from   models.ApplicationStatus
	)
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		app, source, err := s.transitionTx(ctx, tx, actor, id, target, tc, plans)
		result, from = app, source
		return err
	})

	s.observeTransition(from, target, err)
	utils.LogOperation("application.transition", start, err)
	if err != nil {
		return nil, err
	}

	utils.Logger().Info("application transitioned",
		zap.Uint("application_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Uint("actor_id", actor.ID),
	)
	return result, nil
}

// transitionTx выполняет переход внутри уже открытой транзакции: строка заявки блокируется,
// допустимость перепроверяется, запись идет условным обновлением по исходному статусу
func (s *ApplicationService) transitionTx(ctx context.Context, tx database.Store, actor models.Actor, id uint, target models.ApplicationStatus, tc TransitionContext, plans []models.Plan) (*models.Application, models.ApplicationStatus, error) {
	if !target.IsValid() {
		return nil, "", NewValidationError("unknown application status %q", target)
	}

	app, err := tx.GetApplication(ctx, id, true)
	if err != nil {
		return nil, "", storeError(err, "application %d", id)
	}
	from := app.Status

	if !from.CanTransitionTo(target) {
		return nil, from, NewInvalidTransitionError(string(from), string(target)).With("application_id", id)
	}
	if err := s.authorizeTransition(ctx, tx, actor, app, target); err != nil {
		return nil, from, err
	}

	now := s.now()
	next := *app
	next.Status = target
	next.SetMilestone(target, now)

	switch target {
	case models.ApplicationStatusSubmitted:
		if !app.RequestedAmount.IsPositive() && strings.TrimSpace(app.Purpose) == "" {
			return nil, from, NewValidationError("requested amount or purpose is required to submit")
		}
		applicant, err := tx.GetUser(ctx, app.ApplicantID)
		if err != nil {
			return nil, from, storeError(err, "user %d", app.ApplicantID)
		}
		s.capture(&next, applicant.Profile, plans, now)
	case models.ApplicationStatusRejected:
		reason := strings.TrimSpace(tc.Reason)
		if reason == "" {
			return nil, from, NewValidationError("rejection reason is required")
		}
		next.RejectionReason = reason
	case models.ApplicationStatusFunded:
		if _, err := tx.GetLoanByApplication(ctx, id); err != nil {
			if isNotFound(err) {
				return nil, from, NewValidationError("application %s has no loan to fund", app.Number)
			}
			return nil, from, storeError(err, "loan for application %d", id)
		}
	}

	ok, err := tx.TransitionApplication(ctx, &next, from)
	if err != nil {
		return nil, from, storeError(err, "application %d", id)
	}
	if !ok {
		return nil, from, NewConflictError("application %d changed concurrently", id)
	}

	event := &models.ApplicationEvent{
		ApplicationID: id,
		FromStatus:    from,
		ToStatus:      target,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Reason:        strings.TrimSpace(tc.Reason),
		Notes:         tc.Notes,
		CreatedAt:     now,
	}
	if err := tx.CreateApplicationEvent(ctx, event); err != nil {
		return nil, from, storeError(err, "application event")
	}

	next.UpdatedAt = now
	return &next, from, nil
}

// authorizeTransition: подача и отмена черновика или поданной заявки доступны самому заявителю,
// остальные переходы требуют права редактирования
func (s *ApplicationService) authorizeTransition(ctx context.Context, store database.Store, actor models.Actor, app *models.Application, target models.ApplicationStatus) error {
	if applicantMayTake(app.Status, target) && actor.ID == app.ApplicantID {
		return nil
	}
	return s.authorizer.requireEdit(ctx, store, actor, app)
}

func applicantMayTake(from, target models.ApplicationStatus) bool {
	switch target {
	case models.ApplicationStatusSubmitted:
		return true
	case models.ApplicationStatusCancelled:
		return from == models.ApplicationStatusDraft || from == models.ApplicationStatusSubmitted
	}
	return false
}

func (s *ApplicationService) observeTransition(from, to models.ApplicationStatus, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(KindOf(err)))
	}
	if from == "" {
		from = "unknown"
	}
	utils.ApplicationTransitions.WithLabelValues(string(from), string(to), outcome).Inc()
}

// Submit переводит черновик в submitted
func (s *ApplicationService) Submit(ctx context.Context, actor models.Actor, id uint) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusSubmitted, TransitionContext{})
}

// StartReview переводит заявку на рассмотрение
func (s *ApplicationService) StartReview(ctx context.Context, actor models.Actor, id uint, notes string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusUnderReview, TransitionContext{Notes: notes})
}

// RequestDocuments переводит заявку в сбор документов
func (s *ApplicationService) RequestDocuments(ctx context.Context, actor models.Actor, id uint, notes string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusDocumentCollection, TransitionContext{Notes: notes})
}

// Approve одобряет заявку
func (s *ApplicationService) Approve(ctx context.Context, actor models.Actor, id uint, notes string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusApproved, TransitionContext{Notes: notes})
}

// Reject отклоняет заявку, причина обязательна
func (s *ApplicationService) Reject(ctx context.Context, actor models.Actor, id uint, reason string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusRejected, TransitionContext{Reason: reason})
}

// Fund отмечает заявку профинансированной. Займ по заявке уже должен существовать.
func (s *ApplicationService) Fund(ctx context.Context, actor models.Actor, id uint) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusFunded, TransitionContext{})
}

// Cancel отменяет заявку
func (s *ApplicationService) Cancel(ctx context.Context, actor models.Actor, id uint, reason string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusCancelled, TransitionContext{Reason: reason})
}

// Close закрывает заявку административно
func (s *ApplicationService) Close(ctx context.Context, actor models.Actor, id uint, reason string) (*models.Application, error) {
	return s.Transition(ctx, actor, id, models.ApplicationStatusClosed, TransitionContext{Reason: reason})
}

// AllowedTransitions возвращает статусы, в которые участник может перевести заявку сейчас
func (s *ApplicationService) AllowedTransitions(ctx context.Context, actor models.Actor, id uint) ([]models.ApplicationStatus, error) {
	app, err := s.store.GetApplication(ctx, id, false)
	if err != nil {
		return nil, storeError(err, "application %d", id)
	}

	canEdit, err := s.authorizer.CanEditApplication(ctx, actor, app)
	if err != nil {
		return nil, err
	}

	allowed := []models.ApplicationStatus{}
	for _, target := range app.Status.NextStatuses() {
		if !canEdit && !(applicantMayTake(app.Status, target) && actor.ID == app.ApplicantID) {
			continue
		}
		if target == models.ApplicationStatusFunded {
			if _, err := s.store.GetLoanByApplication(ctx, id); err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, storeError(err, "loan for application %d", id)
			}
		}
		allowed = append(allowed, target)
	}
	return allowed, nil
}

// Events возвращает историю переходов заявки
func (s *ApplicationService) Events(ctx context.Context, actor models.Actor, id uint) ([]models.ApplicationEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListApplicationEvents(ctx, id)
	if err != nil {
		return nil, storeError(err, "events of application %d", id)
	}
	return events, nil
}

// AssignDepartments задает отделы, отвечающие за заявку
func (s *ApplicationService) AssignDepartments(ctx context.Context, actor models.Actor, id uint, departments []string) (*models.Application, error) {
	cleaned := make([]string, 0, len(departments))
	seen := make(map[string]struct{}, len(departments))
	for _, d := range departments {
		d = strings.TrimSpace(d)
		if d == "" {
			return nil, NewValidationError("department must not be blank")
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		cleaned = append(cleaned, d)
	}

	var result *models.Application
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		app, err := tx.GetApplication(ctx, id, true)
		if err != nil {
			return storeError(err, "application %d", id)
		}
		if err := s.authorizer.requireEdit(ctx, tx, actor, app); err != nil {
			return err
		}
		app.Departments = datatypes.JSONSlice[string](cleaned)
		if err := tx.UpdateApplicationAssignment(ctx, app); err != nil {
			return storeError(err, "application %d", id)
		}
		result = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetPrimaryStaff назначает ответственного сотрудника. Доступно только администратору.
func (s *ApplicationService) SetPrimaryStaff(ctx context.Context, actor models.Actor, id uint, staffID *uint) (*models.Application, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("only administrators can set the primary staff member")
	}

	var result *models.Application
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		if staffID != nil {
			staff, err := tx.GetUser(ctx, *staffID)
			if err != nil {
				return storeError(err, "user %d", *staffID)
			}
			if staff.Role != models.RoleStaff && staff.Role != models.RoleAdmin {
				return NewValidationError("user %d is not a staff member", *staffID)
			}
		}
		app, err := tx.GetApplication(ctx, id, true)
		if err != nil {
			return storeError(err, "application %d", id)
		}
		app.PrimaryStaffID = staffID
		if err := tx.UpdateApplicationAssignment(ctx, app); err != nil {
			return storeError(err, "application %d", id)
		}
		result = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
