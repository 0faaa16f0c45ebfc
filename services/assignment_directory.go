package services

import (
	"context"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AssignStaffDTO представляет данные для закрепления сотрудника за проспектом
type AssignStaffDTO struct {
	StaffID    uint   `json:"staff_id" validate:"required"`
	ProspectID uint   `json:"prospect_id" validate:"required"`
	Primary    bool   `json:"primary"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// AssignmentDirectory ведет закрепления сотрудников за проспектами.
// Записи не удаляются, при снятии назначения они деактивируются.
type AssignmentDirectory struct {
	store     database.Store
	validator *validator.Validate
	now       func() time.Time
}

// NewAssignmentDirectory создает новый экземпляр AssignmentDirectory
func NewAssignmentDirectory(store database.Store) *AssignmentDirectory {
	return &AssignmentDirectory{
		store:     store,
		validator: validator.New(),
		now:       time.Now,
	}
}

func requireAdmin(actor models.Actor) error {
	if !actor.IsAdmin() {
		return NewAuthorizationError("only administrators can manage staff assignments")
	}
	return nil
}

// AssignStaff закрепляет сотрудника. Активная запись пары переиспользуется,
// флаг primary снимается с остальных записей проспекта в той же транзакции.
func (d *AssignmentDirectory) AssignStaff(ctx context.Context, actor models.Actor, dto AssignStaffDTO) (*models.AssignmentRecord, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := d.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}

	start := time.Now()
	var record *models.AssignmentRecord
	err := d.store.WithTx(ctx, func(tx database.Store) error {
		staff, err := tx.GetUser(ctx, dto.StaffID)
		if err != nil {
			return storeError(err, "user %d", dto.StaffID)
		}
		if staff.Role != models.RoleStaff && staff.Role != models.RoleAdmin {
			return NewValidationError("user %d is not a staff member", dto.StaffID)
		}
		if _, err := tx.GetUser(ctx, dto.ProspectID); err != nil {
			return storeError(err, "user %d", dto.ProspectID)
		}

		existing, err := tx.FindActiveAssignment(ctx, dto.StaffID, dto.ProspectID)
		switch {
		case err == nil:
			record = existing
		case isNotFound(err):
			record = &models.AssignmentRecord{
				StaffID:    dto.StaffID,
				ProspectID: dto.ProspectID,
				Active:     true,
				AssignedBy: actor.ID,
				AssignedAt: d.now(),
			}
		default:
			return storeError(err, "assignment")
		}

		if dto.Primary {
			if err := tx.ClearPrimaryAssignments(ctx, dto.ProspectID, record.ID); err != nil {
				return storeError(err, "primary assignment of prospect %d", dto.ProspectID)
			}
			record.Primary = true
		}
		if notes := strings.TrimSpace(dto.Notes); notes != "" {
			record.Notes = notes
		}

		if record.ID == 0 {
			err = tx.CreateAssignment(ctx, record)
		} else {
			err = tx.UpdateAssignment(ctx, record)
		}
		return storeError(err, "assignment of staff %d to prospect %d", dto.StaffID, dto.ProspectID)
	})
	utils.LogOperation("assignment.assign", start, err)
	if err != nil {
		return nil, err
	}

	utils.Logger().Info("staff assigned",
		zap.Uint("staff_id", record.StaffID),
		zap.Uint("prospect_id", record.ProspectID),
		zap.Bool("primary", record.Primary),
		zap.Uint("actor_id", actor.ID),
	)
	return record, nil
}

// Unassign деактивирует запись назначения
func (d *AssignmentDirectory) Unassign(ctx context.Context, actor models.Actor, recordID uint) (*models.AssignmentRecord, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var record *models.AssignmentRecord
	err := d.store.WithTx(ctx, func(tx database.Store) error {
		var err error
		record, err = tx.GetAssignment(ctx, recordID)
		if err != nil {
			return storeError(err, "assignment %d", recordID)
		}
		if !record.Active {
			return NewValidationError("assignment %d is already inactive", recordID)
		}
		now := d.now()
		record.Active = false
		record.Primary = false
		record.UnassignedAt = &now
		return storeError(tx.UpdateAssignment(ctx, record), "assignment %d", recordID)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SetPrimary делает запись основной для проспекта
func (d *AssignmentDirectory) SetPrimary(ctx context.Context, actor models.Actor, recordID uint) (*models.AssignmentRecord, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var record *models.AssignmentRecord
	err := d.store.WithTx(ctx, func(tx database.Store) error {
		var err error
		record, err = tx.GetAssignment(ctx, recordID)
		if err != nil {
			return storeError(err, "assignment %d", recordID)
		}
		if !record.Active {
			return NewValidationError("assignment %d is inactive", recordID)
		}
		if err := tx.ClearPrimaryAssignments(ctx, record.ProspectID, record.ID); err != nil {
			return storeError(err, "primary assignment of prospect %d", record.ProspectID)
		}
		record.Primary = true
		return storeError(tx.UpdateAssignment(ctx, record), "assignment %d", recordID)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ForProspect возвращает активные назначения проспекта
func (d *AssignmentDirectory) ForProspect(ctx context.Context, prospectID uint) ([]models.AssignmentRecord, error) {
	records, err := d.store.ListAssignments(ctx, database.AssignmentFilter{ProspectID: &prospectID, ActiveOnly: true})
	if err != nil {
		return nil, storeError(err, "assignments of prospect %d", prospectID)
	}
	return records, nil
}

// ForStaff возвращает активные назначения сотрудника
func (d *AssignmentDirectory) ForStaff(ctx context.Context, staffID uint) ([]models.AssignmentRecord, error) {
	records, err := d.store.ListAssignments(ctx, database.AssignmentFilter{StaffID: &staffID, ActiveOnly: true})
	if err != nil {
		return nil, storeError(err, "assignments of staff %d", staffID)
	}
	return records, nil
}

// IsAssigned сообщает, закреплен ли сотрудник за проспектом
func (d *AssignmentDirectory) IsAssigned(ctx context.Context, staffID, prospectID uint) (bool, error) {
	_, err := d.store.FindActiveAssignment(ctx, staffID, prospectID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "assignment")
	}
	return true, nil
}
