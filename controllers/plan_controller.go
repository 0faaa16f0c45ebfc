package controllers

import (
	"net/http"

	"charitylending/models"
	"charitylending/services"

	"github.com/gorilla/mux"
)

// PlanController обрабатывает запросы к каталогу программ
type PlanController struct {
	catalog   *services.PlanCatalog
	qualifier *services.Qualifier
}

// NewPlanController создает новый экземпляр PlanController
func NewPlanController(catalog *services.PlanCatalog, qualifier *services.Qualifier) *PlanController {
	return &PlanController{catalog: catalog, qualifier: qualifier}
}

type planActiveRequest struct {
	Active bool `json:"active"`
}

// ListPlans возвращает активные программы. Администратор может запросить все через ?all=true.
func (c *PlanController) ListPlans(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var (
		plans []models.Plan
		err   error
	)
	if r.URL.Query().Get("all") == "true" && actor.IsAdmin() {
		plans, err = c.catalog.AllPlans(r.Context())
	} else {
		plans, err = c.catalog.ActivePlans(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetPlan возвращает программу по коду
func (c *PlanController) GetPlan(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	plan, err := c.catalog.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// CreatePlan добавляет программу в каталог
func (c *PlanController) CreatePlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var dto services.PlanDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	plan, err := c.catalog.Create(r.Context(), actor, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// UpdatePlan изменяет программу
func (c *PlanController) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var dto services.PlanDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	plan, err := c.catalog.Update(r.Context(), actor, mux.Vars(r)["code"], dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// SetPlanActive включает или выключает программу
func (c *PlanController) SetPlanActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req planActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	plan, err := c.catalog.SetActive(r.Context(), actor, mux.Vars(r)["code"], req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// GetRange рассчитывает диапазон суммы займа по программе
func (c *PlanController) GetRange(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	income, err := queryAmount(r, "income")
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := queryAmount(r, "assets")
	if err != nil {
		writeError(w, err)
		return
	}

	plan, err := c.catalog.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.qualifier.SuggestedRange(*plan, income, assets))
}
