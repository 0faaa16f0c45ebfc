package controllers

import (
	"net/http"

	"charitylending/models"
	"charitylending/services"
)

// ApplicationController обрабатывает запросы, связанные с заявками
type ApplicationController struct {
	applications *services.ApplicationService
	assigner     *services.PlanAssigner
	ledger       *services.LoanLedger
}

// NewApplicationController создает новый экземпляр ApplicationController
func NewApplicationController(applications *services.ApplicationService, assigner *services.PlanAssigner, ledger *services.LoanLedger) *ApplicationController {
	return &ApplicationController{applications: applications, assigner: assigner, ledger: ledger}
}

type transitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type departmentsRequest struct {
	Departments []string `json:"departments"`
}

type primaryStaffRequest struct {
	StaffID *uint `json:"staff_id"`
}

// CreateApplication создает заявку в статусе draft
func (c *ApplicationController) CreateApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var dto services.CreateApplicationDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	app, err := c.applications.Create(r.Context(), actor, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// GetApplication возвращает заявку
func (c *ApplicationController) GetApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	app, err := c.applications.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// AllowedTransitions возвращает статусы, доступные участнику из текущего состояния
func (c *ApplicationController) AllowedTransitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	targets, err := c.applications.AllowedTransitions(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": targets})
}

// Transition переводит заявку в новый статус
func (c *ApplicationController) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := models.ParseApplicationStatus(req.Target)
	if err != nil {
		badRequest(w, "unknown target status %q", req.Target)
		return
	}

	app, err := c.applications.Transition(r.Context(), actor, id, target, services.TransitionContext{Reason: req.Reason, Notes: req.Notes})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Events возвращает историю переходов заявки
func (c *ApplicationController) Events(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := c.applications.Events(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// AssignDepartments задает отделы заявки
func (c *ApplicationController) AssignDepartments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req departmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := c.applications.AssignDepartments(r.Context(), actor, id, req.Departments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// SetPrimaryStaff назначает или снимает ответственного сотрудника
func (c *ApplicationController) SetPrimaryStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req primaryStaffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := c.applications.SetPrimaryStaff(r.Context(), actor, id, req.StaffID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// AssignPlan привязывает программу к заявке
func (c *ApplicationController) AssignPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var dto services.AssignPlanDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	binding, err := c.assigner.Assign(r.Context(), actor, id, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

// ActivePlan возвращает активную привязку программы
func (c *ApplicationController) ActivePlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	binding, err := c.assigner.Active(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

// PlanHistory возвращает все привязки программ заявки
func (c *ApplicationController) PlanHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	history, err := c.assigner.History(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// UnassignPlan снимает активную привязку программы
func (c *ApplicationController) UnassignPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.assigner.Unassign(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateLoan выдает займ по одобренной заявке
func (c *ApplicationController) CreateLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var dto services.CreateLoanDTO
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &dto); err != nil {
			writeError(w, err)
			return
		}
	}
	dto.ApplicationID = id

	details, err := c.ledger.CreateLoan(r.Context(), actor, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}
