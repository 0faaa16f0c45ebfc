package controllers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"charitylending/middleware"
	"charitylending/models"
	"charitylending/services"
	"charitylending/utils"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// errorBody формат ошибки API
type errorBody struct {
	Code     services.ErrorKind     `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// statusFor сопоставляет вид ошибки движка со статусом HTTP
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindInvalidTransition, services.KindAlreadySettled, services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindAuthorization:
		return http.StatusForbidden
	case services.KindOverpayment:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Logger().Warn("response encoding failed", zap.Error(err))
	}
}

// writeError отправляет ошибку движка. Внутренние детали клиенту не отдаются.
func writeError(w http.ResponseWriter, err error) {
	var engineErr *services.EngineError
	if !errors.As(err, &engineErr) {
		engineErr = services.NewInternalError("unexpected error", err)
	}
	body := errorBody{Code: engineErr.Kind, Message: engineErr.Message, Details: engineErr.Details, Metadata: engineErr.Metadata}
	if engineErr.Kind == services.KindInternal {
		utils.Logger().Error("request failed", zap.Error(err))
		body.Details = ""
		body.Metadata = nil
	}
	writeJSON(w, statusFor(engineErr.Kind), map[string]errorBody{"error": body})
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeError(w, services.NewValidationError(format, args...))
}

// decodeJSON читает тело запроса, неизвестные поля считаются ошибкой
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return services.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

// pathID извлекает числовой идентификатор из пути
func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, services.NewValidationError("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

// queryAmount разбирает неотрицательное конечное число из строки запроса
func queryAmount(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, services.NewValidationError("%s must be a finite non-negative number, got %q", name, raw)
	}
	return v, nil
}

// actorFrom возвращает участника, установленного AuthMiddleware
func actorFrom(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {Code: "UNAUTHENTICATED", Message: "actor is missing"}})
	}
	return actor, ok
}
