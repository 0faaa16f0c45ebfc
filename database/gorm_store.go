package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charitylending/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore реализует Store поверх gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore создает новый экземпляр GormStore
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// translate приводит ошибки gorm к ошибкам хранилища
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrRecordNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", ErrDuplicate, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func lockIf(q *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Методы для работы с пользователями

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("user %d", id))
	}
	return &user, nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.conn(ctx).Create(user).Error, "create user")
}

func (s *GormStore) UpdateUserProfile(ctx context.Context, id uint, profile models.FinancialProfile) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"annual_income":     profile.AnnualIncome,
		"net_worth":         profile.NetWorth,
		"age":               profile.Age,
		"asset_types":       profile.AssetTypes,
		"charitable_intent": profile.CharitableIntent,
	})
	if res.Error != nil {
		return translate(res.Error, "update profile")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", ErrRecordNotFound, id)
	}
	return nil
}

// Методы для работы с программами

func (s *GormStore) GetPlan(ctx context.Context, code string) (*models.Plan, error) {
	var plan models.Plan
	if err := s.conn(ctx).Where("code = ?", code).First(&plan).Error; err != nil {
		return nil, translate(err, "plan "+code)
	}
	return &plan, nil
}

func (s *GormStore) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	var plans []models.Plan
	q := s.conn(ctx).Order("code ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&plans).Error; err != nil {
		return nil, translate(err, "list plans")
	}
	return plans, nil
}

func (s *GormStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return translate(s.conn(ctx).Create(plan).Error, "create plan "+plan.Code)
}

func (s *GormStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	// Код программы не меняется после создания
	return translate(s.conn(ctx).Omit("code", "created_at").Save(plan).Error, "update plan "+plan.Code)
}

// Методы для работы с заявками

func (s *GormStore) GetApplication(ctx context.Context, id uint, forUpdate bool) (*models.Application, error) {
	var app models.Application
	if err := lockIf(s.conn(ctx), forUpdate).First(&app, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("application %d", id))
	}
	return &app, nil
}

func (s *GormStore) CreateApplication(ctx context.Context, app *models.Application) error {
	return translate(s.conn(ctx).Create(app).Error, "create application")
}

func (s *GormStore) UpdateApplicationAssignment(ctx context.Context, app *models.Application) error {
	res := s.conn(ctx).Model(&models.Application{}).Where("id = ?", app.ID).Updates(map[string]interface{}{
		"departments":      app.Departments,
		"primary_staff_id": app.PrimaryStaffID,
		"updated_at":       time.Now(),
	})
	if res.Error != nil {
		return translate(res.Error, "update application assignment")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: application %d", ErrRecordNotFound, app.ID)
	}
	return nil
}

func (s *GormStore) TransitionApplication(ctx context.Context, app *models.Application, from models.ApplicationStatus) (bool, error) {
	values := map[string]interface{}{
		"status":           app.Status,
		"rejection_reason": app.RejectionReason,
		"updated_at":       time.Now(),
	}
	if col := models.MilestoneColumn(app.Status); col != "" {
		values[col] = app.MilestoneAt(app.Status)
	}
	if app.Status == models.ApplicationStatusSubmitted {
		values["requested_amount"] = app.RequestedAmount
		values["snapshot_income"] = app.Snapshot.Income
		values["snapshot_net_worth"] = app.Snapshot.NetWorth
		values["snapshot_tax_bracket"] = app.Snapshot.TaxBracketPercent
		values["snapshot_captured_at"] = app.Snapshot.CapturedAt
		values["qualified"] = app.Qualification.Qualified
		values["qualifying_plans"] = app.Qualification.QualifyingPlans
		values["qualification_reasons"] = app.Qualification.Reasons
		values["qualification_asset_types"] = app.Qualification.AssetTypes
		values["qualification_age"] = app.Qualification.Age
		values["qualification_charitable_intent"] = app.Qualification.CharitableIntent
	}

	res := s.conn(ctx).Model(&models.Application{}).
		Where("id = ? AND status = ?", app.ID, from).
		Updates(values)
	if res.Error != nil {
		return false, translate(res.Error, "transition application")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CreateApplicationEvent(ctx context.Context, event *models.ApplicationEvent) error {
	return translate(s.conn(ctx).Create(event).Error, "create application event")
}

func (s *GormStore) ListApplicationEvents(ctx context.Context, applicationID uint) ([]models.ApplicationEvent, error) {
	var events []models.ApplicationEvent
	if err := s.conn(ctx).Where("application_id = ?", applicationID).Order("id ASC").Find(&events).Error; err != nil {
		return nil, translate(err, "list application events")
	}
	return events, nil
}

// Методы для работы с привязками программ

func (s *GormStore) GetActiveApplicationPlan(ctx context.Context, applicationID uint) (*models.ApplicationPlan, error) {
	var binding models.ApplicationPlan
	if err := s.conn(ctx).Where("application_id = ? AND active = ?", applicationID, true).First(&binding).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("active plan of application %d", applicationID))
	}
	return &binding, nil
}

func (s *GormStore) ListApplicationPlans(ctx context.Context, applicationID uint) ([]models.ApplicationPlan, error) {
	var bindings []models.ApplicationPlan
	if err := s.conn(ctx).Where("application_id = ?", applicationID).Order("id ASC").Find(&bindings).Error; err != nil {
		return nil, translate(err, "list application plans")
	}
	return bindings, nil
}

func (s *GormStore) DeactivateApplicationPlans(ctx context.Context, applicationID uint, at time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.ApplicationPlan{}).
		Where("application_id = ? AND active = ?", applicationID, true).
		Updates(map[string]interface{}{"active": false, "deactivated_at": at})
	return res.RowsAffected, translate(res.Error, "deactivate application plans")
}

func (s *GormStore) CreateApplicationPlan(ctx context.Context, binding *models.ApplicationPlan) error {
	return translate(s.conn(ctx).Create(binding).Error, "create application plan")
}

// Методы для работы с займами

func (s *GormStore) GetLoan(ctx context.Context, id uint, forUpdate bool) (*models.Loan, error) {
	var loan models.Loan
	if err := lockIf(s.conn(ctx), forUpdate).First(&loan, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("loan %d", id))
	}
	return &loan, nil
}

func (s *GormStore) GetLoanByApplication(ctx context.Context, applicationID uint) (*models.Loan, error) {
	var loan models.Loan
	if err := s.conn(ctx).Where("application_id = ?", applicationID).First(&loan).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("loan of application %d", applicationID))
	}
	return &loan, nil
}

func (s *GormStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return translate(s.conn(ctx).Create(loan).Error, "create loan")
}

func (s *GormStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	return translate(s.conn(ctx).Omit("number", "created_at").Save(loan).Error, "update loan")
}

func (s *GormStore) CreateLoanPayments(ctx context.Context, payments []models.LoanPayment) error {
	if len(payments) == 0 {
		return nil
	}
	return translate(s.conn(ctx).Create(&payments).Error, "create loan payments")
}

func (s *GormStore) GetLoanPayment(ctx context.Context, id uint) (*models.LoanPayment, error) {
	var payment models.LoanPayment
	if err := s.conn(ctx).First(&payment, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("loan payment %d", id))
	}
	return &payment, nil
}

func (s *GormStore) ListLoanPayments(ctx context.Context, loanID uint) ([]models.LoanPayment, error) {
	var payments []models.LoanPayment
	if err := s.conn(ctx).Where("loan_id = ?", loanID).Order("sequence ASC").Find(&payments).Error; err != nil {
		return nil, translate(err, "list loan payments")
	}
	return payments, nil
}

func (s *GormStore) ListPaymentsDueBefore(ctx context.Context, statuses []models.PaymentStatus, before time.Time) ([]models.LoanPayment, error) {
	var payments []models.LoanPayment
	if err := s.conn(ctx).
		Where("status IN ? AND due_date < ?", statuses, before).
		Order("due_date ASC").
		Find(&payments).Error; err != nil {
		return nil, translate(err, "list due payments")
	}
	return payments, nil
}

func (s *GormStore) SettleLoanPayment(ctx context.Context, payment *models.LoanPayment) (bool, error) {
	res := s.conn(ctx).Model(&models.LoanPayment{}).
		Where("id = ? AND status IN ?", payment.ID, models.PayableStatuses).
		Updates(map[string]interface{}{
			"status":      models.PaymentStatusPaid,
			"amount_paid": payment.AmountPaid,
			"paid_date":   payment.PaidDate,
			"method":      payment.Method,
			"reference":   payment.Reference,
			"notes":       payment.Notes,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, translate(res.Error, "settle loan payment")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkPaymentStatus(ctx context.Context, id uint, from []models.PaymentStatus, to models.PaymentStatus, lateFee *decimal.Decimal) (bool, error) {
	values := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if lateFee != nil {
		values["late_fee"] = *lateFee
	}
	res := s.conn(ctx).Model(&models.LoanPayment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, translate(res.Error, "mark payment status")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) AddPaymentPrincipal(ctx context.Context, id uint, principal decimal.Decimal) (bool, error) {
	res := s.conn(ctx).Model(&models.LoanPayment{}).
		Where("id = ? AND status IN ?", id, models.PayableStatuses).
		Updates(map[string]interface{}{
			"principal_amount": gorm.Expr("principal_amount + ?", principal),
			"amount_due":       gorm.Expr("amount_due + ?", principal),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, translate(res.Error, "add payment principal")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CancelOpenPayments(ctx context.Context, loanID uint) (int64, error) {
	res := s.conn(ctx).Model(&models.LoanPayment{}).
		Where("loan_id = ? AND status IN ?", loanID, models.PayableStatuses).
		Updates(map[string]interface{}{"status": models.PaymentStatusCancelled, "updated_at": time.Now()})
	return res.RowsAffected, translate(res.Error, "cancel open payments")
}

func (s *GormStore) CreateLoanTransaction(ctx context.Context, txn *models.LoanTransaction) error {
	return translate(s.conn(ctx).Create(txn).Error, "create loan transaction")
}

func (s *GormStore) ListLoanTransactions(ctx context.Context, loanID uint) ([]models.LoanTransaction, error) {
	var txns []models.LoanTransaction
	if err := s.conn(ctx).Where("loan_id = ?", loanID).Order("id ASC").Find(&txns).Error; err != nil {
		return nil, translate(err, "list loan transactions")
	}
	return txns, nil
}

// Методы для работы с назначениями

func (s *GormStore) GetAssignment(ctx context.Context, id uint) (*models.AssignmentRecord, error) {
	var record models.AssignmentRecord
	if err := s.conn(ctx).First(&record, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("assignment %d", id))
	}
	return &record, nil
}

func (s *GormStore) FindActiveAssignment(ctx context.Context, staffID, prospectID uint) (*models.AssignmentRecord, error) {
	var record models.AssignmentRecord
	if err := s.conn(ctx).
		Where("staff_id = ? AND prospect_id = ? AND active = ?", staffID, prospectID, true).
		First(&record).Error; err != nil {
		return nil, translate(err, "active assignment")
	}
	return &record, nil
}

func (s *GormStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.AssignmentRecord, error) {
	var records []models.AssignmentRecord
	q := s.conn(ctx).Order("id ASC")
	if filter.StaffID != nil {
		q = q.Where("staff_id = ?", *filter.StaffID)
	}
	if filter.ProspectID != nil {
		q = q.Where("prospect_id = ?", *filter.ProspectID)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, translate(err, "list assignments")
	}
	return records, nil
}

func (s *GormStore) CreateAssignment(ctx context.Context, record *models.AssignmentRecord) error {
	return translate(s.conn(ctx).Create(record).Error, "create assignment")
}

func (s *GormStore) UpdateAssignment(ctx context.Context, record *models.AssignmentRecord) error {
	return translate(s.conn(ctx).Save(record).Error, "update assignment")
}

func (s *GormStore) ClearPrimaryAssignments(ctx context.Context, prospectID, exceptID uint) error {
	return translate(s.conn(ctx).Model(&models.AssignmentRecord{}).
		Where("prospect_id = ? AND active = ? AND is_primary = ? AND id <> ?", prospectID, true, true, exceptID).
		Update("is_primary", false).Error, "clear primary assignments")
}
