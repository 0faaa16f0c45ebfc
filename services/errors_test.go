package services

import (
	"errors"
	"fmt"
	"testing"

	"charitylending/database"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestEngineError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewNotFoundError("plan %s", "CRT"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Contains(t, err.Error(), "plan CRT not found")
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError(nil, "anything"))

	notFound := storeError(fmt.Errorf("%w: loan 7", database.ErrRecordNotFound), "loan %d", 7)
	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.ErrorIs(t, notFound, database.ErrRecordNotFound)

	dup := storeError(fmt.Errorf("%w: plan CRT", database.ErrDuplicate), "plan %s", "CRT")
	assert.ErrorIs(t, dup, ErrConflict)

	engine := NewValidationError("bad")
	assert.Same(t, error(engine), storeError(engine, "ignored"))

	internal := storeError(errors.New("connection reset"), "loan %d", 7)
	assert.ErrorIs(t, internal, ErrInternal)
	var e *EngineError
	assert.True(t, errors.As(internal, &e))
	assert.True(t, e.Retryable)
	assert.Equal(t, "connection reset", e.Details)
}

func TestValidationError(t *testing.T) {
	type sample struct {
		Code string `validate:"required"`
		Term int    `validate:"gt=0"`
		Freq string `validate:"oneof=monthly annual"`
	}
	err := validationError(validator.New().Struct(sample{Freq: "weekly"}))

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Code")
	assert.Contains(t, err.Error(), "Term")
	assert.Contains(t, err.Error(), "monthly annual")
}

func TestErrorMetadata(t *testing.T) {
	err := NewInvalidTransitionError("draft", "funded").With("application_id", uint(4))
	assert.Equal(t, "draft", err.Metadata["from"])
	assert.Equal(t, "funded", err.Metadata["to"])
	assert.Equal(t, uint(4), err.Metadata["application_id"])

	over := NewOverpaymentError("10.00", "5.00")
	assert.Equal(t, "OVERPAYMENT_ERROR: payment exceeds total due (amount 10.00 > total due 5.00)", over.Error())
}
