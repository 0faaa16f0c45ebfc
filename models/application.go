package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ApplicationStatus представляет статус заявки
type ApplicationStatus string

const (
	ApplicationStatusDraft              ApplicationStatus = "draft"
	ApplicationStatusSubmitted          ApplicationStatus = "submitted"
	ApplicationStatusUnderReview        ApplicationStatus = "under_review"
	ApplicationStatusDocumentCollection ApplicationStatus = "document_collection"
	ApplicationStatusApproved           ApplicationStatus = "approved"
	ApplicationStatusFunded             ApplicationStatus = "funded"
	ApplicationStatusRejected           ApplicationStatus = "rejected"
	ApplicationStatusCancelled          ApplicationStatus = "cancelled"
	ApplicationStatusClosed             ApplicationStatus = "closed"

	// ApplicationStatusPending встречается только в унаследованных записях.
	// В него нельзя перейти, но из него можно выйти.
	ApplicationStatusPending ApplicationStatus = "pending"
)

// applicationTransitions описывает граф допустимых переходов заявки
var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusDraft: {
		ApplicationStatusSubmitted,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusSubmitted: {
		ApplicationStatusUnderReview,
		ApplicationStatusApproved,
		ApplicationStatusRejected,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusUnderReview: {
		ApplicationStatusDocumentCollection,
		ApplicationStatusApproved,
		ApplicationStatusRejected,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusDocumentCollection: {
		ApplicationStatusApproved,
		ApplicationStatusRejected,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusApproved: {
		ApplicationStatusFunded,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusPending: {
		ApplicationStatusUnderReview,
		ApplicationStatusRejected,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
	},
	ApplicationStatusFunded:    {},
	ApplicationStatusRejected:  {},
	ApplicationStatusCancelled: {},
	ApplicationStatusClosed:    {},
}

// AllApplicationStatuses возвращает все известные статусы заявки
func AllApplicationStatuses() []ApplicationStatus {
	return []ApplicationStatus{
		ApplicationStatusDraft,
		ApplicationStatusSubmitted,
		ApplicationStatusUnderReview,
		ApplicationStatusDocumentCollection,
		ApplicationStatusApproved,
		ApplicationStatusFunded,
		ApplicationStatusRejected,
		ApplicationStatusCancelled,
		ApplicationStatusClosed,
		ApplicationStatusPending,
	}
}

// ParseApplicationStatus преобразует строку в статус заявки
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	status := ApplicationStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return status, nil
}

// IsValid проверяет, что статус известен
func (s ApplicationStatus) IsValid() bool {
	_, ok := applicationTransitions[s]
	return ok
}

// IsTerminal сообщает, что из статуса нет выходов
func (s ApplicationStatus) IsTerminal() bool {
	next, ok := applicationTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo проверяет наличие ребра в графе переходов
func (s ApplicationStatus) CanTransitionTo(target ApplicationStatus) bool {
	for _, next := range applicationTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// NextStatuses возвращает копию списка допустимых следующих статусов
func (s ApplicationStatus) NextStatuses() []ApplicationStatus {
	next := applicationTransitions[s]
	out := make([]ApplicationStatus, len(next))
	copy(out, next)
	return out
}

// FinancialSnapshot фиксирует финансовое положение заявителя на момент подачи.
// Намеренно отвязан от живого профиля.
type FinancialSnapshot struct {
	Income            float64    `gorm:"column:snapshot_income;not null;default:0" json:"income"`
	NetWorth          float64    `gorm:"column:snapshot_net_worth;not null;default:0" json:"net_worth"`
	TaxBracketPercent float64    `gorm:"column:snapshot_tax_bracket;not null;default:0" json:"tax_bracket_percent"`
	CapturedAt        *time.Time `gorm:"column:snapshot_captured_at" json:"captured_at,omitempty"`
}

// QualificationMetadata хранит результат предварительной квалификации
type QualificationMetadata struct {
	Qualified        bool                        `gorm:"column:qualified;not null;default:false" json:"qualified"`
	QualifyingPlans  datatypes.JSONSlice[string] `gorm:"column:qualifying_plans;type:jsonb" json:"qualifying_plans"`
	Reasons          datatypes.JSONSlice[string] `gorm:"column:qualification_reasons;type:jsonb" json:"reasons"`
	AssetTypes       datatypes.JSONSlice[string] `gorm:"column:qualification_asset_types;type:jsonb" json:"asset_types"`
	Age              int                         `gorm:"column:qualification_age;not null;default:0" json:"age"`
	CharitableIntent bool                        `gorm:"column:qualification_charitable_intent;not null;default:false" json:"charitable_intent"`
}

// Application представляет заявку на благотворительный займ
type Application struct {
	ID              uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	Number          string                      `gorm:"column:number;unique;not null;size:40" json:"number"`
	ApplicantID     uint                        `gorm:"column:applicant_id;not null;index" json:"applicant_id"`
	Status          ApplicationStatus           `gorm:"column:status;type:varchar(30);not null;default:'draft';index" json:"status"`
	RequestedAmount decimal.Decimal             `gorm:"column:requested_amount;type:decimal(20,2);not null;default:0" json:"requested_amount"`
	Purpose         string                      `gorm:"column:purpose" json:"purpose"`
	Snapshot        FinancialSnapshot           `gorm:"embedded" json:"snapshot"`
	Qualification   QualificationMetadata       `gorm:"embedded" json:"qualification"`
	Departments     datatypes.JSONSlice[string] `gorm:"column:departments;type:jsonb" json:"departments"`
	PrimaryStaffID  *uint                       `gorm:"column:primary_staff_id;index" json:"primary_staff_id,omitempty"`
	RejectionReason string                      `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`

	SubmittedAt          *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt           *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	DocumentsRequestedAt *time.Time `gorm:"column:documents_requested_at" json:"documents_requested_at,omitempty"`
	ApprovedAt           *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	RejectedAt           *time.Time `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	FundedAt             *time.Time `gorm:"column:funded_at" json:"funded_at,omitempty"`
	CancelledAt          *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	ClosedAt             *time.Time `gorm:"column:closed_at" json:"closed_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName возвращает имя таблицы для модели Application
func (Application) TableName() string {
	return "applications"
}

// milestone возвращает указатель на поле отметки времени для статуса
func (a *Application) milestone(status ApplicationStatus) **time.Time {
	switch status {
	case ApplicationStatusSubmitted:
		return &a.SubmittedAt
	case ApplicationStatusUnderReview:
		return &a.ReviewedAt
	case ApplicationStatusDocumentCollection:
		return &a.DocumentsRequestedAt
	case ApplicationStatusApproved:
		return &a.ApprovedAt
	case ApplicationStatusRejected:
		return &a.RejectedAt
	case ApplicationStatusFunded:
		return &a.FundedAt
	case ApplicationStatusCancelled:
		return &a.CancelledAt
	case ApplicationStatusClosed:
		return &a.ClosedAt
	}
	return nil
}

// MilestoneAt возвращает отметку времени, при которой заявка вошла в статус
func (a *Application) MilestoneAt(status ApplicationStatus) *time.Time {
	if field := a.milestone(status); field != nil {
		return *field
	}
	return nil
}

// SetMilestone проставляет отметку времени для статуса
func (a *Application) SetMilestone(status ApplicationStatus, at time.Time) {
	if field := a.milestone(status); field != nil {
		t := at
		*field = &t
	}
}

// MilestoneColumn возвращает имя колонки отметки времени для статуса
func MilestoneColumn(status ApplicationStatus) string {
	switch status {
	case ApplicationStatusSubmitted:
		return "submitted_at"
	case ApplicationStatusUnderReview:
		return "reviewed_at"
	case ApplicationStatusDocumentCollection:
		return "documents_requested_at"
	case ApplicationStatusApproved:
		return "approved_at"
	case ApplicationStatusRejected:
		return "rejected_at"
	case ApplicationStatusFunded:
		return "funded_at"
	case ApplicationStatusCancelled:
		return "cancelled_at"
	case ApplicationStatusClosed:
		return "closed_at"
	}
	return ""
}

// ApplicationEvent фиксирует переход заявки между статусами
type ApplicationEvent struct {
	ID            uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	ApplicationID uint              `gorm:"column:application_id;not null;index" json:"application_id"`
	FromStatus    ApplicationStatus `gorm:"column:from_status;type:varchar(30);not null" json:"from_status"`
	ToStatus      ApplicationStatus `gorm:"column:to_status;type:varchar(30);not null" json:"to_status"`
	ActorID       uint              `gorm:"column:actor_id;not null" json:"actor_id"`
	ActorRole     Role              `gorm:"column:actor_role;type:varchar(20);not null" json:"actor_role"`
	Reason        string            `gorm:"column:reason" json:"reason,omitempty"`
	Notes         string            `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName возвращает имя таблицы для модели ApplicationEvent
func (ApplicationEvent) TableName() string {
	return "application_events"
}
