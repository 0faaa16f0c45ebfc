package services

import (
	"context"
	"errors"

	"charitylending/database"
	"charitylending/models"
)

// Authorizer решает, может ли участник редактировать заявку.
// Назначения сотрудников только читаются.
type Authorizer struct {
	store database.Store
}

// NewAuthorizer создает новый экземпляр Authorizer
func NewAuthorizer(store database.Store) *Authorizer {
	return &Authorizer{store: store}
}

// CanEditApplication: администратор, либо сотрудник, который является ответственным по заявке,
// состоит в одном из назначенных отделов или активно закреплен за заявителем
func (a *Authorizer) CanEditApplication(ctx context.Context, actor models.Actor, app *models.Application) (bool, error) {
	return a.canEdit(ctx, a.store, actor, app)
}

func (a *Authorizer) canEdit(ctx context.Context, store database.Store, actor models.Actor, app *models.Application) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	if !actor.IsStaff() {
		return false, nil
	}
	if app.PrimaryStaffID != nil && *app.PrimaryStaffID == actor.ID {
		return true, nil
	}
	if actor.InDepartment(app.Departments) {
		return true, nil
	}
	return a.isAssigned(ctx, store, actor.ID, app.ApplicantID)
}

// CanActForApplicant: сам заявитель, администратор или закрепленный сотрудник
func (a *Authorizer) CanActForApplicant(ctx context.Context, actor models.Actor, applicantID uint) (bool, error) {
	if actor.ID == applicantID || actor.IsAdmin() {
		return true, nil
	}
	if !actor.IsStaff() {
		return false, nil
	}
	return a.isAssigned(ctx, a.store, actor.ID, applicantID)
}

// CanViewApplication расширяет право редактирования на самого заявителя
func (a *Authorizer) CanViewApplication(ctx context.Context, actor models.Actor, app *models.Application) (bool, error) {
	if actor.ID == app.ApplicantID {
		return true, nil
	}
	return a.CanEditApplication(ctx, actor, app)
}

func (a *Authorizer) isAssigned(ctx context.Context, store database.Store, staffID, prospectID uint) (bool, error) {
	_, err := store.FindActiveAssignment(ctx, staffID, prospectID)
	if errors.Is(err, database.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "assignment")
	}
	return true, nil
}

// requireEdit возвращает AuthorizationError, если участник не может редактировать заявку
func (a *Authorizer) requireEdit(ctx context.Context, store database.Store, actor models.Actor, app *models.Application) error {
	ok, err := a.canEdit(ctx, store, actor, app)
	if err != nil {
		return err
	}
	if !ok {
		return NewAuthorizationError("actor %d cannot edit application %s", actor.ID, app.Number).
			With("application_id", app.ID)
	}
	return nil
}

// requireView возвращает AuthorizationError, если участник не может видеть заявку
func (a *Authorizer) requireView(ctx context.Context, actor models.Actor, app *models.Application) error {
	ok, err := a.CanViewApplication(ctx, actor, app)
	if err != nil {
		return err
	}
	if !ok {
		return NewAuthorizationError("actor %d cannot view application %s", actor.ID, app.Number)
	}
	return nil
}
