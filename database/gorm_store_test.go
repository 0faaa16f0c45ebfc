package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"charitylending/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	return NewGormStore(gdb), mock
}

func TestGormStore_TransitionApplication(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "status matched", affected: 1, want: true},
		{name: "status changed concurrently", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			now := time.Now()
			app := &models.Application{ID: 7, Status: models.ApplicationStatusApproved}
			app.SetMilestone(models.ApplicationStatusApproved, now)

			mock.ExpectExec(`UPDATE "applications" SET .*"approved_at".* WHERE .*id = \$\d+ AND status = \$\d+`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := store.TransitionApplication(context.Background(), app, models.ApplicationStatusUnderReview)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_TransitionApplication_DBError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "applications"`).WillReturnError(errors.New("connection reset"))

	app := &models.Application{ID: 1, Status: models.ApplicationStatusCancelled}
	ok, err := store.TransitionApplication(context.Background(), app, models.ApplicationStatusDraft)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGormStore_SettleLoanPayment_Guard(t *testing.T) {
	store, mock := newMockStore(t)
	paid := time.Now()
	payment := &models.LoanPayment{ID: 3, AmountPaid: decimal.NewFromInt(500), PaidDate: &paid}

	mock.ExpectExec(`UPDATE "loan_payments" SET .* WHERE .*id = \$\d+ AND status IN \(`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "loan_payments" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.SettleLoanPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.SettleLoanPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetApplication_ForUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "number", "applicant_id", "status", "requested_amount"}).
		AddRow(7, "APP-20240101-ABCDEF12", 11, "submitted", "1500.00")
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE "applications"."id" = \$1 .*FOR UPDATE`).
		WillReturnRows(rows)

	app, err := store.GetApplication(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, uint(7), app.ID)
	assert.Equal(t, models.ApplicationStatusSubmitted, app.Status)
	assert.True(t, app.RequestedAmount.Equal(decimal.NewFromInt(1500)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetUser_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), 42)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGormStore_WithTx_RollbackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "application_plans" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx Store) error {
		n, err := tx.DeactivateApplicationPlans(context.Background(), 5, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_WithTx_Commit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "application_events"`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx Store) error {
		event := &models.ApplicationEvent{
			ApplicationID: 1,
			FromStatus:    models.ApplicationStatusDraft,
			ToStatus:      models.ApplicationStatusSubmitted,
			ActorID:       2,
			ActorRole:     models.RoleApplicant,
			CreatedAt:     time.Now(),
		}
		if err := tx.CreateApplicationEvent(context.Background(), event); err != nil {
			return err
		}
		assert.Equal(t, uint(9), event.ID)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_MarkPaymentStatus(t *testing.T) {
	store, mock := newMockStore(t)
	fee := decimal.NewFromInt(25)

	mock.ExpectExec(`UPDATE "loan_payments" SET .*"late_fee"`).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.MarkPaymentStatus(context.Background(), 4,
		[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusScheduled},
		models.PaymentStatusOverdue, &fee)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_AddPaymentPrincipal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "loan_payments" SET .*amount_due \+ .*principal_amount \+ .* WHERE .*status IN \(`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.AddPaymentPrincipal(context.Background(), 7, decimal.RequireFromString("45.50"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "x"))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound, "plan"), ErrRecordNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey, "plan"), ErrDuplicate)

	other := errors.New("disk full")
	err := translate(other, "create loan")
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
}
