package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CreateUserRequest представляет данные для регистрации участника в справочнике
type CreateUserRequest struct {
	FirstName string `json:"firstName" validate:"required,min=2,max=50"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"omitempty,oneof=admin staff applicant"`
}

// ProfileRequest представляет финансовый профиль, присланный клиентом
type ProfileRequest struct {
	AnnualIncome     float64  `json:"annual_income"`
	NetWorth         float64  `json:"net_worth"`
	Age              int      `json:"age"`
	AssetTypes       []string `json:"asset_types"`
	CharitableIntent bool     `json:"charitable_intent"`
}

// ToProfile преобразует запрос в модель
func (r ProfileRequest) ToProfile() models.FinancialProfile {
	types := make([]string, 0, len(r.AssetTypes))
	for _, t := range r.AssetTypes {
		types = append(types, strings.TrimSpace(t))
	}
	return models.FinancialProfile{
		AnnualIncome:     r.AnnualIncome,
		NetWorth:         r.NetWorth,
		Age:              r.Age,
		AssetTypes:       datatypes.JSONSlice[string](types),
		CharitableIntent: r.CharitableIntent,
	}
}

// UserService работает с участниками и их финансовыми профилями
type UserService struct {
	store     database.Store
	catalog   *PlanCatalog
	qualifier *Qualifier
	validator *validator.Validate
}

// NewUserService создает новый экземпляр UserService
func NewUserService(store database.Store, catalog *PlanCatalog, qualifier *Qualifier) *UserService {
	return &UserService{
		store:     store,
		catalog:   catalog,
		qualifier: qualifier,
		validator: validator.New(),
	}
}

// CreateUser заводит участника. Выпуск учетных данных выполняет внешний провайдер.
func (s *UserService) CreateUser(ctx context.Context, actor models.Actor, req CreateUserRequest) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("only administrators can register users")
	}
	// Нормализуем данные до валидации
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	user := &models.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Role:      models.Role(req.Role),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, storeError(err, "user with email %s", user.Email)
	}
	return user, nil
}

// GetUser возвращает участника. Чужой профиль видят только сотрудники.
func (s *UserService) GetUser(ctx context.Context, actor models.Actor, id uint) (*models.User, error) {
	if actor.ID != id && !actor.IsStaff() {
		return nil, NewAuthorizationError("actor %d cannot view user %d", actor.ID, id)
	}
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, "user %d", id)
	}
	return user, nil
}

// UpdateProfile сохраняет финансовый профиль. Изменить профиль может сам участник или администратор.
// Снимки уже поданных заявок не меняются.
func (s *UserService) UpdateProfile(ctx context.Context, actor models.Actor, id uint, profile models.FinancialProfile) (*models.User, error) {
	if actor.ID != id && !actor.IsAdmin() {
		return nil, NewAuthorizationError("actor %d cannot edit the profile of user %d", actor.ID, id)
	}
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserProfile(ctx, id, profile); err != nil {
		return nil, storeError(err, "user %d", id)
	}

	utils.Logger().Info("profile updated", zap.Uint("user_id", id), zap.Uint("actor_id", actor.ID))
	return s.store.GetUser(ctx, id)
}

// Evaluate проверяет произвольный профиль по активному каталогу
func (s *UserService) Evaluate(ctx context.Context, profile models.FinancialProfile) (*QualificationResult, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	start := time.Now()
	_, span := utils.StartSpan(ctx, "qualification.evaluate")
	defer span.End()

	plans, err := s.catalog.ActivePlans(ctx)
	if err != nil {
		utils.LogOperation("qualification.evaluate", start, err)
		return nil, err
	}
	result := s.qualifier.Evaluate(profile, plans)
	utils.QualificationVerdicts.WithLabelValues(strconv.FormatBool(result.Qualified)).Inc()
	utils.LogOperation("qualification.evaluate", start, nil)
	return &result, nil
}

// Qualify проверяет сохраненный профиль участника
func (s *UserService) Qualify(ctx context.Context, actor models.Actor, id uint) (*QualificationResult, error) {
	user, err := s.GetUser(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, user.Profile)
}
