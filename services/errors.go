package services

import (
	"errors"
	"fmt"
	"strings"

	"charitylending/database"

	"github.com/go-playground/validator/v10"
)

// ErrorKind код типизированной ошибки движка
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindAuthorization     ErrorKind = "AUTHORIZATION_ERROR"
	KindOverpayment       ErrorKind = "OVERPAYMENT_ERROR"
	KindAlreadySettled    ErrorKind = "ALREADY_SETTLED"
	KindConflict          ErrorKind = "CONFLICT"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

// EngineError типизированная ошибка, которую движок возвращает вызывающему коду
type EngineError struct {
	Kind      ErrorKind              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	cause     error
}

func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is сравнивает ошибки по коду, чтобы errors.Is(err, ErrNotFound) работал для любой ошибки этого вида
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func (e *EngineError) Unwrap() error {
	return e.cause
}

// With добавляет метаданные к ошибке
func (e *EngineError) With(key string, value interface{}) *EngineError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinel-ошибки для errors.Is
var (
	ErrValidation        = &EngineError{Kind: KindValidation}
	ErrInvalidTransition = &EngineError{Kind: KindInvalidTransition}
	ErrNotFound          = &EngineError{Kind: KindNotFound}
	ErrAuthorization     = &EngineError{Kind: KindAuthorization}
	ErrOverpayment       = &EngineError{Kind: KindOverpayment}
	ErrAlreadySettled    = &EngineError{Kind: KindAlreadySettled}
	ErrConflict          = &EngineError{Kind: KindConflict}
	ErrInternal          = &EngineError{Kind: KindInternal}
)

func NewValidationError(message string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindValidation, Message: fmt.Sprintf(message, args...)}
}

func NewInvalidTransitionError(from, to string) *EngineError {
	return &EngineError{
		Kind:     KindInvalidTransition,
		Message:  fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		Metadata: map[string]interface{}{"from": from, "to": to},
	}
}

func NewNotFoundError(what string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindNotFound, Message: fmt.Sprintf(what, args...) + " not found"}
}

func NewAuthorizationError(message string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindAuthorization, Message: fmt.Sprintf(message, args...)}
}

func NewOverpaymentError(amount, totalDue string) *EngineError {
	return &EngineError{
		Kind:     KindOverpayment,
		Message:  "payment exceeds total due",
		Details:  fmt.Sprintf("amount %s > total due %s", amount, totalDue),
		Metadata: map[string]interface{}{"amount": amount, "total_due": totalDue},
	}
}

func NewAlreadySettledError(paymentID uint) *EngineError {
	return &EngineError{
		Kind:     KindAlreadySettled,
		Message:  fmt.Sprintf("installment %d is already settled", paymentID),
		Metadata: map[string]interface{}{"payment_id": paymentID},
	}
}

func NewConflictError(message string, args ...interface{}) *EngineError {
	return &EngineError{Kind: KindConflict, Message: fmt.Sprintf(message, args...), Retryable: true}
}

func NewInternalError(message string, cause error) *EngineError {
	e := &EngineError{Kind: KindInternal, Message: message, Retryable: true, cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// KindOf возвращает вид ошибки, для нетипизированных ошибок INTERNAL_ERROR
func KindOf(err error) ErrorKind {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

// storeError переводит ошибку хранилища в ошибку движка
func storeError(err error, what string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	subject := fmt.Sprintf(what, args...)
	switch {
	case errors.Is(err, database.ErrRecordNotFound):
		e := NewNotFoundError("%s", subject)
		e.cause = err
		return e
	case errors.Is(err, database.ErrDuplicate):
		e := NewConflictError("%s already exists", subject)
		e.cause = err
		return e
	}
	return NewInternalError("storage failure: "+subject, err)
}

// validationError собирает сообщения validator в одну ошибку валидации
func validationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return NewValidationError("%s", err.Error())
	}
	var errorMessages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			errorMessages = append(errorMessages, "поле "+e.Field()+" обязательно")
		case "gt", "gte":
			errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть больше "+e.Param())
		case "oneof":
			errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть одним из: "+e.Param())
		default:
			errorMessages = append(errorMessages, "поле "+e.Field()+" не прошло проверку "+e.Tag())
		}
	}
	return NewValidationError("%s", strings.Join(errorMessages, "; "))
}
