package models

import "time"

// AssignmentRecord связывает сотрудника с проспектом.
// При снятии назначения запись деактивируется, но не удаляется.
type AssignmentRecord struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	StaffID      uint       `gorm:"column:staff_id;not null;index" json:"staff_id"`
	ProspectID   uint       `gorm:"column:prospect_id;not null;index" json:"prospect_id"`
	Active       bool       `gorm:"column:active;not null;default:true" json:"active"`
	Primary      bool       `gorm:"column:is_primary;not null;default:false" json:"primary"`
	AssignedBy   uint       `gorm:"column:assigned_by;not null" json:"assigned_by"`
	AssignedAt   time.Time  `gorm:"column:assigned_at;not null" json:"assigned_at"`
	UnassignedAt *time.Time `gorm:"column:unassigned_at" json:"unassigned_at,omitempty"`
	Notes        string     `gorm:"column:notes" json:"notes,omitempty"`
}

// TableName возвращает имя таблицы для модели AssignmentRecord
func (AssignmentRecord) TableName() string {
	return "assignment_records"
}
