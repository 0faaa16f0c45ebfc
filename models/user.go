package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role представляет роль пользователя
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleStaff     Role = "staff"
	RoleApplicant Role = "applicant"
)

// IsValid проверяет, что роль известна системе
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleApplicant:
		return true
	}
	return false
}

// FinancialProfile представляет финансовый профиль проспекта.
// Хранится внутри записи пользователя и не имеет собственного жизненного цикла.
type FinancialProfile struct {
	AnnualIncome     float64                     `gorm:"column:annual_income;not null;default:0" json:"annual_income"`
	NetWorth         float64                     `gorm:"column:net_worth;not null;default:0" json:"net_worth"`
	Age              int                         `gorm:"column:age;not null;default:0" json:"age"`
	AssetTypes       datatypes.JSONSlice[string] `gorm:"column:asset_types;type:jsonb" json:"asset_types"`
	CharitableIntent bool                        `gorm:"column:charitable_intent;not null;default:false" json:"charitable_intent"`
}

// User представляет проспекта, участника или сотрудника
type User struct {
	ID        uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	FirstName string           `gorm:"column:first_name;not null;size:50" json:"first_name"`
	LastName  string           `gorm:"column:last_name;not null;size:50" json:"last_name"`
	Email     string           `gorm:"column:email;unique;not null;size:100;index" json:"email"`
	Role      Role             `gorm:"column:role;type:varchar(20);not null;default:'applicant'" json:"role"`
	Profile   FinancialProfile `gorm:"embedded" json:"profile"`
	CreatedAt time.Time        `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if len(u.FirstName) < 2 || len(u.FirstName) > 50 {
		return errors.New("first name must be between 2 and 50 characters")
	}
	if len(u.LastName) < 2 || len(u.LastName) > 50 {
		return errors.New("last name must be between 2 and 50 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	if u.Role == "" {
		u.Role = RoleApplicant
	}
	return nil
}

// Actor представляет участника, выполняющего операцию.
// Заполняется провайдером идентификации (JWT) и только читается движком.
type Actor struct {
	ID          uint     `json:"id"`
	Role        Role     `json:"role"`
	Departments []string `json:"departments"`
}

// IsAdmin сообщает, является ли участник администратором
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsStaff сообщает, является ли участник сотрудником (включая администраторов)
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// InDepartment проверяет членство участника в одном из отделов
func (a Actor) InDepartment(departments []string) bool {
	for _, mine := range a.Departments {
		for _, d := range departments {
			if mine == d {
				return true
			}
		}
	}
	return false
}
