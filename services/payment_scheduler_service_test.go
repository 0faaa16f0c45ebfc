package services

import (
	"context"
	"testing"
	"time"

	"charitylending/config"
	"charitylending/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(env *testEnv, at time.Time) *PaymentSchedulerService {
	s := NewPaymentSchedulerService(env.store, config.LedgerConfig{LateFeePercent: 5, DefaultGraceDays: 10})
	s.now = func() time.Time { return at }
	return s
}

func TestPaymentScheduler_OverdueMissedAndRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.approvedWithPlan(t, AssignPlanDTO{})
	details, err := env.ledger.CreateLoan(ctx, env.admin, CreateLoanDTO{ApplicationID: app.ID, Fund: true})
	require.NoError(t, err)
	first := details.Payments[0]
	loanID := details.Loan.ID

	// 16 апреля: первый платеж (15 апреля) просрочен
	result, err := newTestScheduler(env, testNow.AddDate(0, 1, 1)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Overdue: 1}, result)

	overdue, err := env.store.GetLoanPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusOverdue, overdue.Status)
	assert.True(t, overdue.LateFee.Equal(first.AmountDue.Mul(d("0.05")).Round(2)))

	// сумма следующего платежа займа включает пени
	withFee, err := env.store.GetLoan(ctx, loanID, false)
	require.NoError(t, err)
	assert.True(t, withFee.NextPaymentAmount.Decimal.Equal(first.AmountDue.Add(overdue.LateFee)),
		"next payment %s", withFee.NextPaymentAmount.Decimal)
	assert.Equal(t, first.DueDate, *withFee.NextPaymentDate)

	result, err = newTestScheduler(env, testNow.AddDate(0, 1, 1)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result, "repeated sweep changes nothing")

	// 27 апреля: льготный период в 10 дней истек
	result, err = newTestScheduler(env, testNow.AddDate(0, 1, 12)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Missed: 1, Defaulted: 1}, result)

	loan, err := env.store.GetLoan(ctx, loanID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusDefaulted, loan.Status)

	missed, err := env.store.GetLoanPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusMissed, missed.Status)

	_, err = env.ledger.RecordPayment(ctx, env.admin, RecordPaymentDTO{LoanID: loanID, PaymentID: first.ID, AmountPaid: missed.TotalDue().Add(d("0.01"))})
	assert.ErrorIs(t, err, ErrOverpayment)

	updated, err := env.ledger.RecordPayment(ctx, env.admin, RecordPaymentDTO{LoanID: loanID, PaymentID: first.ID, AmountPaid: missed.TotalDue()})
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, updated.Status, "no missed installments remain")
	assert.True(t, updated.TotalPrincipalPaid.Equal(first.PrincipalAmount))
	assert.True(t, updated.TotalInterestPaid.Equal(first.InterestAmount.Add(missed.LateFee)))
	assert.True(t, updated.CurrentBalance.Add(updated.TotalPrincipalPaid).Equal(updated.PrincipalAmount))

	second, err := env.store.GetLoanPayment(ctx, details.Payments[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusScheduled, second.Status)
}

func TestPaymentScheduler_LeavesSettledAndCancelledAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	paidApp := env.approvedWithPlan(t, AssignPlanDTO{})
	paid, err := env.ledger.CreateLoan(ctx, env.admin, CreateLoanDTO{ApplicationID: paidApp.ID})
	require.NoError(t, err)
	_, err = env.ledger.RecordPayment(ctx, env.admin, RecordPaymentDTO{LoanID: paid.Loan.ID, PaymentID: paid.Payments[0].ID, AmountPaid: paid.Payments[0].AmountDue})
	require.NoError(t, err)

	cancelledApp := env.approvedWithPlan(t, AssignPlanDTO{})
	cancelled, err := env.ledger.CreateLoan(ctx, env.admin, CreateLoanDTO{ApplicationID: cancelledApp.ID})
	require.NoError(t, err)
	_, err = env.ledger.CancelLoan(ctx, env.admin, cancelled.Loan.ID, "")
	require.NoError(t, err)

	// 16 апреля: оплаченные и отмененные платежи не трогаются
	result, err := newTestScheduler(env, testNow.AddDate(0, 1, 1)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	settled, err := env.store.GetLoanPayment(ctx, paid.Payments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, settled.Status)
	assert.True(t, settled.LateFee.IsZero())
}

func TestPaymentScheduler_StartStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := env.approvedWithPlan(t, AssignPlanDTO{})
	details, err := env.ledger.CreateLoan(ctx, env.admin, CreateLoanDTO{ApplicationID: app.ID})
	require.NoError(t, err)

	s := NewPaymentSchedulerService(env.store, config.LedgerConfig{SchedulerInterval: 10 * time.Millisecond, DefaultGraceDays: 90})
	s.now = func() time.Time { return testNow.AddDate(0, 1, 1) }
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		p, err := env.store.GetLoanPayment(context.Background(), details.Payments[0].ID)
		return err == nil && p.Status == models.PaymentStatusOverdue
	}, time.Second, 10*time.Millisecond)
	cancel()
}

func TestPaymentScheduler_DisabledWithoutInterval(t *testing.T) {
	env := newTestEnv(t)
	s := NewPaymentSchedulerService(env.store, config.LedgerConfig{})
	s.Start(context.Background())
}
