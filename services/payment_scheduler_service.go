package services

import (
	"context"
	"time"

	"charitylending/config"
	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SweepResult итог одного прохода планировщика
type SweepResult struct {
	Overdue   int `json:"overdue"`
	Missed    int `json:"missed"`
	Defaulted int `json:"defaulted"`
}

// PaymentSchedulerService периодически отмечает просроченные платежи.
// Путь записи оплаты от него не зависит: просрочка также вычисляется при чтении.
type PaymentSchedulerService struct {
	store          database.Store
	interval       time.Duration
	lateFeePercent decimal.Decimal
	graceDays      int
	now            func() time.Time
}

// NewPaymentSchedulerService создает новый экземпляр PaymentSchedulerService
func NewPaymentSchedulerService(store database.Store, cfg config.LedgerConfig) *PaymentSchedulerService {
	return &PaymentSchedulerService{
		store:          store,
		interval:       cfg.SchedulerInterval,
		lateFeePercent: decimal.NewFromFloat(cfg.LateFeePercent),
		graceDays:      cfg.DefaultGraceDays,
		now:            time.Now,
	}
}

// Start запускает планировщик и останавливает его при отмене контекста
func (s *PaymentSchedulerService) Start(ctx context.Context) {
	if s.interval <= 0 {
		utils.Logger().Info("payment scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				utils.Logger().Info("payment scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					utils.Logger().Error("overdue sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Sweep переводит просроченные платежи в overdue с начислением пени, а платежи,
// просроченные дольше льготного периода, в missed вместе с дефолтом займа
func (s *PaymentSchedulerService) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	result, err := s.sweep(ctx)
	utils.LogOperation("payments.sweep", start, err)
	if err == nil && (result.Overdue > 0 || result.Missed > 0) {
		utils.Logger().Info("overdue sweep completed",
			zap.Int("overdue", result.Overdue),
			zap.Int("missed", result.Missed),
			zap.Int("defaulted", result.Defaulted),
		)
	}
	return result, err
}

func (s *PaymentSchedulerService) sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	asOf := s.now()

	due, err := s.store.ListPaymentsDueBefore(ctx, []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusScheduled}, asOf)
	if err != nil {
		return result, storeError(err, "due payments")
	}
	for _, payment := range due {
		ok, err := s.markOverdue(ctx, payment)
		if err != nil {
			return result, err
		}
		if ok {
			result.Overdue++
			utils.OverdueSweepPayments.WithLabelValues(string(models.PaymentStatusOverdue)).Inc()
		}
	}

	cutoff := asOf.AddDate(0, 0, -s.graceDays)
	lapsed, err := s.store.ListPaymentsDueBefore(ctx, []models.PaymentStatus{models.PaymentStatusOverdue}, cutoff)
	if err != nil {
		return result, storeError(err, "overdue payments")
	}
	for _, payment := range lapsed {
		missed, defaulted, err := s.markMissed(ctx, payment)
		if err != nil {
			return result, err
		}
		if missed {
			result.Missed++
			utils.OverdueSweepPayments.WithLabelValues(string(models.PaymentStatusMissed)).Inc()
		}
		if defaulted {
			result.Defaulted++
		}
	}
	return result, nil
}

// markOverdue начисляет пени и переводит платеж в overdue. Если платеж является
// следующим платежом займа, сумма следующего платежа займа пересчитывается с пени.
func (s *PaymentSchedulerService) markOverdue(ctx context.Context, payment models.LoanPayment) (bool, error) {
	fee := payment.AmountDue.Mul(s.lateFeePercent).Div(hundred).Round(2)
	var marked bool
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		loan, err := tx.GetLoan(ctx, payment.LoanID, true)
		if err != nil {
			return storeError(err, "loan %d", payment.LoanID)
		}
		ok, err := tx.MarkPaymentStatus(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusScheduled},
			models.PaymentStatusOverdue, &fee)
		if err != nil {
			return storeError(err, "payment %d", payment.ID)
		}
		if !ok {
			return nil
		}
		marked = true

		if loan.NextPaymentDate == nil || !loan.NextPaymentDate.Equal(payment.DueDate) {
			return nil
		}
		payment.LateFee = fee
		loan.NextPaymentAmount = decimal.NewNullDecimal(payment.TotalDue())
		loan.UpdatedAt = s.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeError(err, "loan %d", loan.ID)
		}
		return nil
	})
	return marked, err
}

// markMissed отмечает платеж пропущенным и переводит активный займ в дефолт
func (s *PaymentSchedulerService) markMissed(ctx context.Context, payment models.LoanPayment) (bool, bool, error) {
	var missed, defaulted bool
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		loan, err := tx.GetLoan(ctx, payment.LoanID, true)
		if err != nil {
			return storeError(err, "loan %d", payment.LoanID)
		}
		ok, err := tx.MarkPaymentStatus(ctx, payment.ID,
			[]models.PaymentStatus{models.PaymentStatusOverdue}, models.PaymentStatusMissed, nil)
		if err != nil {
			return storeError(err, "payment %d", payment.ID)
		}
		if !ok {
			return nil
		}
		missed = true

		if loan.Status != models.LoanStatusActive {
			return nil
		}
		loan.Status = models.LoanStatusDefaulted
		loan.UpdatedAt = s.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeError(err, "loan %d", loan.ID)
		}
		defaulted = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if defaulted {
		utils.Logger().Warn("loan defaulted",
			zap.Uint("loan_id", payment.LoanID),
			zap.Uint("payment_id", payment.ID),
		)
	}
	return missed, defaulted, nil
}
