package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationStatus_Graph(t *testing.T) {
	tests := []struct {
		from, to ApplicationStatus
		want     bool
	}{
		{ApplicationStatusDraft, ApplicationStatusSubmitted, true},
		{ApplicationStatusDraft, ApplicationStatusApproved, false},
		{ApplicationStatusSubmitted, ApplicationStatusUnderReview, true},
		{ApplicationStatusSubmitted, ApplicationStatusRejected, true},
		{ApplicationStatusUnderReview, ApplicationStatusDocumentCollection, true},
		{ApplicationStatusDocumentCollection, ApplicationStatusUnderReview, false},
		{ApplicationStatusApproved, ApplicationStatusFunded, true},
		{ApplicationStatusApproved, ApplicationStatusRejected, false},
		{ApplicationStatusPending, ApplicationStatusUnderReview, true},
		{ApplicationStatusDraft, ApplicationStatusPending, false},
		{ApplicationStatusDraft, ApplicationStatusDraft, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestApplicationStatus_Terminal(t *testing.T) {
	for _, s := range AllApplicationStatuses() {
		terminal := s == ApplicationStatusFunded || s == ApplicationStatusRejected ||
			s == ApplicationStatusCancelled || s == ApplicationStatusClosed
		assert.Equal(t, terminal, s.IsTerminal(), string(s))
		if terminal {
			for _, target := range AllApplicationStatuses() {
				assert.False(t, s.CanTransitionTo(target), "%s -> %s", s, target)
			}
			continue
		}
		// административное закрытие доступно из любого нетерминального статуса
		assert.True(t, s.CanTransitionTo(ApplicationStatusCancelled), string(s))
		assert.True(t, s.CanTransitionTo(ApplicationStatusClosed), string(s))
	}

	// никто не переходит в pending
	for _, s := range AllApplicationStatuses() {
		assert.False(t, s.CanTransitionTo(ApplicationStatusPending), string(s))
	}
}

func TestApplicationStatus_Parse(t *testing.T) {
	s, err := ParseApplicationStatus("under_review")
	require.NoError(t, err)
	assert.Equal(t, ApplicationStatusUnderReview, s)

	_, err = ParseApplicationStatus("archived")
	assert.Error(t, err)

	next := ApplicationStatusDraft.NextStatuses()
	next[0] = ApplicationStatusFunded
	assert.Equal(t, ApplicationStatusSubmitted, ApplicationStatusDraft.NextStatuses()[0])
}

func TestApplication_Milestones(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	app := &Application{}

	app.SetMilestone(ApplicationStatusApproved, at)
	require.NotNil(t, app.ApprovedAt)
	assert.Equal(t, at, *app.MilestoneAt(ApplicationStatusApproved))
	assert.Nil(t, app.MilestoneAt(ApplicationStatusSubmitted))

	app.SetMilestone(ApplicationStatusDraft, at)
	assert.Nil(t, app.MilestoneAt(ApplicationStatusDraft))
	assert.Equal(t, "approved_at", MilestoneColumn(ApplicationStatusApproved))
}

func TestLoanPayment_DueAndOverdue(t *testing.T) {
	due := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	p := &LoanPayment{
		DueDate:       due,
		AmountDue:     decimal.RequireFromString("100.00"),
		LateFee:       decimal.RequireFromString("5.00"),
		PenaltyAmount: decimal.RequireFromString("1.50"),
		Status:        PaymentStatusScheduled,
	}
	assert.Equal(t, "106.5", p.TotalDue().String())

	assert.False(t, p.IsOverdue(due))
	assert.True(t, p.IsOverdue(due.Add(time.Hour)))

	p.Status = PaymentStatusPaid
	assert.False(t, p.IsOverdue(due.AddDate(1, 0, 0)))

	p.Status = PaymentStatusMissed
	assert.True(t, p.IsOverdue(due.AddDate(0, 0, -1)))
	assert.True(t, p.Status.IsPayable())
	assert.False(t, PaymentStatusPaid.IsPayable())
	assert.False(t, PaymentStatusCancelled.IsPayable())
}

func TestPaymentFrequency(t *testing.T) {
	tests := map[PaymentFrequency][2]int{
		FrequencyMonthly:    {12, 1},
		FrequencyQuarterly:  {4, 3},
		FrequencySemiAnnual: {2, 6},
		FrequencyAnnual:     {1, 12},
		"weekly":            {0, 0},
	}
	for f, want := range tests {
		assert.Equal(t, want[0], f.PaymentsPerYear(), string(f))
		assert.Equal(t, want[1], f.MonthsPerPeriod(), string(f))
		assert.Equal(t, want[0] > 0, f.IsValid(), string(f))
	}
}

func TestLoanStatus_AcceptsPayments(t *testing.T) {
	assert.True(t, LoanStatusActive.AcceptsPayments())
	assert.True(t, LoanStatusDefaulted.AcceptsPayments())
	assert.False(t, LoanStatusPaidOff.AcceptsPayments())
	assert.False(t, LoanStatusCancelled.AcceptsPayments())
	assert.False(t, LoanStatusPending.AcceptsPayments())
}
