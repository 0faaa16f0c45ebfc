package controllers

import (
	"net/http"

	"charitylending/services"
)

// ProfileController обрабатывает запросы участников и их финансовых профилей
type ProfileController struct {
	users *services.UserService
}

// NewProfileController создает новый экземпляр ProfileController
func NewProfileController(users *services.UserService) *ProfileController {
	return &ProfileController{users: users}
}

// GetProfile возвращает данные текущего участника
func (c *ProfileController) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	user, err := c.users.GetUser(r.Context(), actor, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile сохраняет финансовый профиль текущего участника
func (c *ProfileController) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req services.ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := c.users.UpdateProfile(r.Context(), actor, actor.ID, req.ToProfile())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Evaluate проводит предварительную квалификацию присланного профиля
func (c *ProfileController) Evaluate(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	var req services.ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := c.users.Evaluate(r.Context(), req.ToProfile())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateUser регистрирует участника
func (c *ProfileController) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req services.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := c.users.CreateUser(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser возвращает участника по идентификатору
func (c *ProfileController) GetUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := c.users.GetUser(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Qualify проверяет сохраненный профиль участника
func (c *ProfileController) Qualify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := c.users.Qualify(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
