package database

import (
	"context"
	"errors"
	"time"

	"charitylending/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrRecordNotFound возвращается, когда запись не найдена
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicate возвращается при нарушении уникальности
	ErrDuplicate = errors.New("duplicate record")
)

// AssignmentFilter задает выборку назначений сотрудников
type AssignmentFilter struct {
	StaffID    *uint
	ProspectID *uint
	ActiveOnly bool
}

// Store описывает хранилище, с которым работает движок жизненного цикла.
// Однострочные обновления атомарны; составные операции оборачиваются в WithTx.
type Store interface {
	// WithTx выполняет fn в транзакции. Ошибка из fn откатывает все изменения.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uint) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserProfile(ctx context.Context, id uint, profile models.FinancialProfile) error

	GetPlan(ctx context.Context, code string) (*models.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	CreatePlan(ctx context.Context, plan *models.Plan) error
	UpdatePlan(ctx context.Context, plan *models.Plan) error

	// GetApplication с forUpdate блокирует строку до конца транзакции
	GetApplication(ctx context.Context, id uint, forUpdate bool) (*models.Application, error)
	CreateApplication(ctx context.Context, app *models.Application) error
	UpdateApplicationAssignment(ctx context.Context, app *models.Application) error
	// TransitionApplication записывает статус, отметки времени, причину отказа и снимок,
	// только если текущий статус равен from. Возвращает false, если строка не обновлена.
	TransitionApplication(ctx context.Context, app *models.Application, from models.ApplicationStatus) (bool, error)
	CreateApplicationEvent(ctx context.Context, event *models.ApplicationEvent) error
	ListApplicationEvents(ctx context.Context, applicationID uint) ([]models.ApplicationEvent, error)

	GetActiveApplicationPlan(ctx context.Context, applicationID uint) (*models.ApplicationPlan, error)
	ListApplicationPlans(ctx context.Context, applicationID uint) ([]models.ApplicationPlan, error)
	DeactivateApplicationPlans(ctx context.Context, applicationID uint, at time.Time) (int64, error)
	CreateApplicationPlan(ctx context.Context, binding *models.ApplicationPlan) error

	GetLoan(ctx context.Context, id uint, forUpdate bool) (*models.Loan, error)
	GetLoanByApplication(ctx context.Context, applicationID uint) (*models.Loan, error)
	CreateLoan(ctx context.Context, loan *models.Loan) error
	UpdateLoan(ctx context.Context, loan *models.Loan) error

	CreateLoanPayments(ctx context.Context, payments []models.LoanPayment) error
	GetLoanPayment(ctx context.Context, id uint) (*models.LoanPayment, error)
	ListLoanPayments(ctx context.Context, loanID uint) ([]models.LoanPayment, error)
	ListPaymentsDueBefore(ctx context.Context, statuses []models.PaymentStatus, before time.Time) ([]models.LoanPayment, error)
	// SettleLoanPayment записывает поля оплаты, только если платеж еще не оплачен
	SettleLoanPayment(ctx context.Context, payment *models.LoanPayment) (bool, error)
	// MarkPaymentStatus меняет статус и пени, только если текущий статус входит в from
	MarkPaymentStatus(ctx context.Context, id uint, from []models.PaymentStatus, to models.PaymentStatus, lateFee *decimal.Decimal) (bool, error)
	// AddPaymentPrincipal увеличивает долг и сумму открытого платежа на principal
	AddPaymentPrincipal(ctx context.Context, id uint, principal decimal.Decimal) (bool, error)
	CancelOpenPayments(ctx context.Context, loanID uint) (int64, error)

	CreateLoanTransaction(ctx context.Context, txn *models.LoanTransaction) error
	ListLoanTransactions(ctx context.Context, loanID uint) ([]models.LoanTransaction, error)

	GetAssignment(ctx context.Context, id uint) (*models.AssignmentRecord, error)
	FindActiveAssignment(ctx context.Context, staffID, prospectID uint) (*models.AssignmentRecord, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.AssignmentRecord, error)
	CreateAssignment(ctx context.Context, record *models.AssignmentRecord) error
	UpdateAssignment(ctx context.Context, record *models.AssignmentRecord) error
	ClearPrimaryAssignments(ctx context.Context, prospectID, exceptID uint) error
}
