package controllers

import (
	"net/http"

	"charitylending/services"
)

// AssignmentController обрабатывает закрепления сотрудников за проспектами
type AssignmentController struct {
	directory *services.AssignmentDirectory
}

// NewAssignmentController создает новый экземпляр AssignmentController
func NewAssignmentController(directory *services.AssignmentDirectory) *AssignmentController {
	return &AssignmentController{directory: directory}
}

// Assign закрепляет сотрудника за проспектом
func (c *AssignmentController) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var dto services.AssignStaffDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	record, err := c.directory.AssignStaff(r.Context(), actor, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Unassign снимает закрепление
func (c *AssignmentController) Unassign(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := c.directory.Unassign(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// SetPrimary делает закрепление основным
func (c *AssignmentController) SetPrimary(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := c.directory.SetPrimary(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ForProspect возвращает закрепления проспекта
func (c *AssignmentController) ForProspect(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if !actor.IsStaff() && actor.ID != id {
		writeError(w, services.NewAuthorizationError("actor %d cannot view assignments of prospect %d", actor.ID, id))
		return
	}

	records, err := c.directory.ForProspect(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ForStaff возвращает закрепления сотрудника
func (c *AssignmentController) ForStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if !actor.IsAdmin() && actor.ID != id {
		writeError(w, services.NewAuthorizationError("actor %d cannot view assignments of staff %d", actor.ID, id))
		return
	}

	records, err := c.directory.ForStaff(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
