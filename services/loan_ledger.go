package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charitylending/database"
	"charitylending/models"
	"charitylending/utils"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// ScheduleRow одна строка графика погашения
type ScheduleRow struct {
	Sequence     int             `json:"sequence"`
	DueDate      time.Time       `json:"due_date"`
	AmountDue    decimal.Decimal `json:"amount_due"`
	Principal    decimal.Decimal `json:"principal_amount"`
	Interest     decimal.Decimal `json:"interest_amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// PreviewScheduleDTO представляет параметры для предварительного расчета графика
type PreviewScheduleDTO struct {
	Principal        decimal.Decimal `json:"principal_amount"`
	InterestRate     float64         `json:"interest_rate" validate:"gte=0,lte=100"`
	TermMonths       int             `json:"term_months" validate:"required,gt=0"`
	PaymentFrequency string          `json:"payment_frequency" validate:"required,oneof=monthly quarterly semi_annual annual"`
	StartDate        *time.Time      `json:"start_date"`
}

// CreateLoanDTO представляет данные для выдачи займа по заявке
type CreateLoanDTO struct {
	ApplicationID     uint             `json:"-" validate:"required"`
	PrincipalOverride *decimal.Decimal `json:"principal_amount"`
	TermMonths        int              `json:"term_months" validate:"omitempty,gt=0"`
	PaymentFrequency  string           `json:"payment_frequency" validate:"omitempty,oneof=monthly quarterly semi_annual annual"`
	DisbursementDate  *time.Time       `json:"disbursement_date"`
	Fund              bool             `json:"fund"`
}

// RecordPaymentDTO представляет данные оплаты платежа графика
type RecordPaymentDTO struct {
	LoanID     uint            `json:"-" validate:"required"`
	PaymentID  uint            `json:"-" validate:"required"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	PaidDate   *time.Time      `json:"paid_date"`
	Method     string          `json:"method" validate:"max=50"`
	Reference  string          `json:"reference" validate:"max=100"`
	Notes      string          `json:"notes" validate:"max=2000"`
}

// PaymentView платеж графика с вычисленным признаком просрочки
type PaymentView struct {
	models.LoanPayment
	Overdue bool `json:"overdue"`
}

// LoanDetails займ вместе с графиком
type LoanDetails struct {
	Loan     models.Loan          `json:"loan"`
	Payments []models.LoanPayment `json:"payments"`
}

// LoanLedger ведет займы: выдача, график, прием платежей и агрегаты
type LoanLedger struct {
	store        database.Store
	applications *ApplicationService
	authorizer   *Authorizer
	qualifier    *Qualifier
	rates        RateProvider
	validator    *validator.Validate
	now          func() time.Time
}

// NewLoanLedger создает новый экземпляр LoanLedger
func NewLoanLedger(store database.Store, applications *ApplicationService, authorizer *Authorizer, qualifier *Qualifier, rates RateProvider) *LoanLedger {
	return &LoanLedger{
		store:        store,
		applications: applications,
		authorizer:   authorizer,
		qualifier:    qualifier,
		rates:        rates,
		validator:    validator.New(),
		now:          time.Now,
	}
}

// annuityPayment рассчитывает размер аннуитетного платежа A = P*r/(1-(1+r)^-n).
// При нулевой ставке A = P/n.
func annuityPayment(principal, periodicRate decimal.Decimal, periods int) decimal.Decimal {
	n := decimal.NewFromInt(int64(periods))
	if periodicRate.IsZero() {
		return principal.DivRound(n, 2)
	}
	// (1+r)^n / ((1+r)^n - 1) эквивалентно 1/(1-(1+r)^-n)
	growth := decimal.NewFromInt(1).Add(periodicRate).Pow(n)
	return principal.Mul(periodicRate).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(2)
}

// BuildSchedule генерирует график погашения. Все суммы округляются до копеек,
// последний платеж забирает остаток основного долга, поэтому сумма долей долга равна principal.
func BuildSchedule(principal decimal.Decimal, annualRate float64, termMonths int, frequency models.PaymentFrequency, start time.Time) ([]ScheduleRow, error) {
	if !frequency.IsValid() {
		return nil, NewValidationError("unknown payment frequency %q", frequency)
	}
	if !principal.IsPositive() {
		return nil, NewValidationError("principal must be greater than 0")
	}
	if annualRate < 0 {
		return nil, NewValidationError("interest rate must not be negative")
	}
	monthsPerPeriod := frequency.MonthsPerPeriod()
	if termMonths <= 0 || termMonths%monthsPerPeriod != 0 {
		return nil, NewValidationError("term_months %d must be a positive multiple of %d for %s payments", termMonths, monthsPerPeriod, frequency)
	}

	principal = principal.Round(2)
	periods := termMonths / monthsPerPeriod
	rate := decimal.NewFromFloat(annualRate).Div(hundred).Div(decimal.NewFromInt(int64(frequency.PaymentsPerYear())))
	payment := annuityPayment(principal, rate, periods)

	rows := make([]ScheduleRow, periods)
	balance := principal
	for i := 0; i < periods; i++ {
		// Проценты за период начисляются на остаток
		interest := balance.Mul(rate).Round(2)
		principalPart := payment.Sub(interest)
		if i == periods-1 || principalPart.GreaterThan(balance) {
			principalPart = balance
		}
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}
		balance = balance.Sub(principalPart)

		rows[i] = ScheduleRow{
			Sequence:     i + 1,
			DueDate:      addMonths(start, (i+1)*monthsPerPeriod),
			AmountDue:    principalPart.Add(interest),
			Principal:    principalPart,
			Interest:     interest,
			BalanceAfter: balance,
		}
	}
	return rows, nil
}

// addMonths сдвигает дату на n месяцев. День прижимается к последнему дню целевого месяца,
// поэтому 31 января + 1 месяц дает 28 (29) февраля, а не 3 марта.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// PreviewSchedule рассчитывает график без записи в хранилище
func (l *LoanLedger) PreviewSchedule(dto PreviewScheduleDTO) ([]ScheduleRow, error) {
	if err := l.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}
	start := l.now()
	if dto.StartDate != nil {
		start = *dto.StartDate
	}
	return BuildSchedule(dto.Principal, dto.InterestRate, dto.TermMonths, models.PaymentFrequency(dto.PaymentFrequency), start)
}

// CreateLoan выдает займ по одобренной заявке с активной программой
func (l *LoanLedger) CreateLoan(ctx context.Context, actor models.Actor, dto CreateLoanDTO) (*LoanDetails, error) {
	start := time.Now()
	ctx, span := utils.StartSpan(ctx, "loan.create")
	defer span.End()
	span.SetAttributes(attribute.Int64("application.id", int64(dto.ApplicationID)))

	details, err := l.createLoan(ctx, actor, dto)
	utils.LogOperation("loan.create", start, err)
	if err != nil {
		return nil, err
	}

	utils.LoansCreated.WithLabelValues(details.Loan.PlanCode).Inc()
	utils.Logger().Info("loan created",
		zap.Uint("loan_id", details.Loan.ID),
		zap.String("number", details.Loan.Number),
		zap.Uint("application_id", details.Loan.ApplicationID),
		zap.String("principal", details.Loan.PrincipalAmount.StringFixed(2)),
		zap.Uint("actor_id", actor.ID),
	)
	return details, nil
}

func (l *LoanLedger) createLoan(ctx context.Context, actor models.Actor, dto CreateLoanDTO) (*LoanDetails, error) {
	if err := l.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}
	if dto.PrincipalOverride != nil && !dto.PrincipalOverride.IsPositive() {
		return nil, NewValidationError("principal_amount must be greater than 0")
	}

	// Ставка запрашивается до транзакции, чтобы не держать блокировки во время обращения к ленте
	binding, err := l.store.GetActiveApplicationPlan(ctx, dto.ApplicationID)
	if err != nil {
		if isNotFound(err) {
			return nil, NewValidationError("application %d has no active plan", dto.ApplicationID)
		}
		return nil, storeError(err, "active plan binding for application %d", dto.ApplicationID)
	}
	plan, err := l.store.GetPlan(ctx, binding.PlanCode)
	if err != nil {
		return nil, storeError(err, "plan %s", binding.PlanCode)
	}
	rate, err := l.planRate(ctx, plan)
	if err != nil {
		return nil, err
	}

	var details *LoanDetails
	err = l.store.WithTx(ctx, func(tx database.Store) error {
		app, err := tx.GetApplication(ctx, dto.ApplicationID, true)
		if err != nil {
			return storeError(err, "application %d", dto.ApplicationID)
		}
		if err := l.authorizer.requireEdit(ctx, tx, actor, app); err != nil {
			return err
		}
		if app.Status != models.ApplicationStatusApproved {
			return &EngineError{
				Kind:     KindInvalidTransition,
				Message:  fmt.Sprintf("loan can only be created for an approved application, got %s", app.Status),
				Metadata: map[string]interface{}{"application_id": app.ID, "status": app.Status},
			}
		}
		if _, err := tx.GetLoanByApplication(ctx, app.ID); err == nil {
			return NewConflictError("application %s already has a loan", app.Number)
		} else if !isNotFound(err) {
			return storeError(err, "loan for application %d", app.ID)
		}

		current, err := tx.GetActiveApplicationPlan(ctx, app.ID)
		if err != nil {
			if isNotFound(err) {
				return NewValidationError("application %d has no active plan", app.ID)
			}
			return storeError(err, "active plan binding for application %d", app.ID)
		}
		if current.ID != binding.ID {
			return NewConflictError("plan of application %d changed concurrently", app.ID)
		}

		principal, err := l.resolvePrincipal(dto, current, plan, app)
		if err != nil {
			return err
		}

		termMonths := plan.TermMonths
		if dto.TermMonths > 0 {
			termMonths = dto.TermMonths
		}
		frequency := plan.PaymentFrequency
		if dto.PaymentFrequency != "" {
			frequency = models.PaymentFrequency(dto.PaymentFrequency)
		}

		now := l.now()
		disbursed := now
		if dto.DisbursementDate != nil {
			disbursed = *dto.DisbursementDate
		}

		rows, err := BuildSchedule(principal, rate, termMonths, frequency, disbursed)
		if err != nil {
			return err
		}

		loan := &models.Loan{
			Number:             newNumber("LN", now),
			ApplicationID:      app.ID,
			ApplicantID:        app.ApplicantID,
			PlanCode:           plan.Code,
			PrincipalAmount:    principal,
			InterestRate:       rate,
			TermMonths:         termMonths,
			PaymentFrequency:   frequency,
			Status:             models.LoanStatusActive,
			DisbursementDate:   disbursed,
			CurrentBalance:     principal,
			TotalPaid:          decimal.Zero,
			TotalPrincipalPaid: decimal.Zero,
			TotalInterestPaid:  decimal.Zero,
			NextPaymentAmount:  decimal.NewNullDecimal(rows[0].AmountDue),
			NextPaymentDate:    &rows[0].DueDate,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return storeError(err, "loan for application %d", app.ID)
		}

		payments := make([]models.LoanPayment, len(rows))
		for i, row := range rows {
			status := models.PaymentStatusPending
			if i == 0 {
				status = models.PaymentStatusScheduled
			}
			payments[i] = models.LoanPayment{
				LoanID:          loan.ID,
				Sequence:        row.Sequence,
				DueDate:         row.DueDate,
				AmountDue:       row.AmountDue,
				PrincipalAmount: row.Principal,
				InterestAmount:  row.Interest,
				LateFee:         decimal.Zero,
				PenaltyAmount:   decimal.Zero,
				AmountPaid:      decimal.Zero,
				Status:          status,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
		}
		if err := tx.CreateLoanPayments(ctx, payments); err != nil {
			return storeError(err, "schedule of loan %s", loan.Number)
		}

		journal := &models.LoanTransaction{
			LoanID:           loan.ID,
			Type:             models.LoanTransactionDisbursement,
			Amount:           principal,
			PrincipalPortion: principal,
			InterestPortion:  decimal.Zero,
			BalanceBefore:    decimal.Zero,
			BalanceAfter:     principal,
			ActorID:          actor.ID,
			Description:      "Loan disbursement " + loan.Number,
			CreatedAt:        now,
		}
		if err := tx.CreateLoanTransaction(ctx, journal); err != nil {
			return storeError(err, "journal of loan %s", loan.Number)
		}

		if dto.Fund {
			notes := "funded by loan " + loan.Number
			if _, _, err := l.applications.transitionTx(ctx, tx, actor, app.ID, models.ApplicationStatusFunded, TransitionContext{Notes: notes}, nil); err != nil {
				return err
			}
		}

		details = &LoanDetails{Loan: *loan, Payments: payments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// planRate возвращает фиксированную ставку программы или референсную ставку плюс спред
func (l *LoanLedger) planRate(ctx context.Context, plan *models.Plan) (float64, error) {
	if !plan.UseReferenceRate {
		return plan.InterestRate, nil
	}
	if l.rates == nil {
		return 0, NewInternalError("reference rate provider is not configured", nil)
	}
	reference, err := l.rates.CurrentRate(ctx)
	if err != nil {
		return 0, err
	}
	rate := reference + plan.RateSpread
	if rate < 0 {
		rate = 0
	}
	return rate, nil
}

// resolvePrincipal выбирает сумму займа: явная сумма, затем сумма из привязки,
// затем запрошенная сумма в пределах диапазона программы, затем рекомендованная сумма.
// Результат ограничивается custom_max_amount привязки.
func (l *LoanLedger) resolvePrincipal(dto CreateLoanDTO, binding *models.ApplicationPlan, plan *models.Plan, app *models.Application) (decimal.Decimal, error) {
	var principal decimal.Decimal
	switch {
	case dto.PrincipalOverride != nil:
		principal = *dto.PrincipalOverride
	case binding.CustomLoanAmount.Valid:
		principal = binding.CustomLoanAmount.Decimal
	default:
		r := l.qualifier.SuggestedRange(*plan, app.Snapshot.Income, app.Snapshot.NetWorth)
		if app.RequestedAmount.IsPositive() {
			principal = decimal.Min(decimal.Max(app.RequestedAmount, r.Min), r.Max)
		} else {
			principal = r.Suggested
		}
	}

	if binding.CustomMaxAmount.Valid && principal.GreaterThan(binding.CustomMaxAmount.Decimal) {
		principal = binding.CustomMaxAmount.Decimal
	}
	principal = principal.Round(2)
	if !principal.IsPositive() {
		return decimal.Zero, NewValidationError("resolved principal for application %s is not positive", app.Number)
	}
	return principal, nil
}

// RecordPayment принимает оплату платежа графика. Статус платежа и агрегаты займа
// меняются в одной транзакции, повторная оплата отклоняется условным обновлением.
func (l *LoanLedger) RecordPayment(ctx context.Context, actor models.Actor, dto RecordPaymentDTO) (*models.Loan, error) {
	start := time.Now()
	ctx, span := utils.StartSpan(ctx, "loan.record_payment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("loan.id", int64(dto.LoanID)),
		attribute.Int64("payment.id", int64(dto.PaymentID)),
	)

	loan, err := l.recordPayment(ctx, actor, dto)
	utils.LogOperation("loan.record_payment", start, err)

	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(KindOf(err)))
	}
	utils.PaymentsRecorded.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}

	utils.Logger().Info("payment recorded",
		zap.Uint("loan_id", loan.ID),
		zap.Uint("payment_id", dto.PaymentID),
		zap.String("amount", dto.AmountPaid.StringFixed(2)),
		zap.String("balance", loan.CurrentBalance.StringFixed(2)),
		zap.String("status", string(loan.Status)),
		zap.Uint("actor_id", actor.ID),
	)
	return loan, nil
}

func (l *LoanLedger) recordPayment(ctx context.Context, actor models.Actor, dto RecordPaymentDTO) (*models.Loan, error) {
	if err := l.validator.Struct(dto); err != nil {
		return nil, validationError(err)
	}
	if !dto.AmountPaid.IsPositive() {
		return nil, NewValidationError("amount_paid must be greater than 0")
	}
	amount := dto.AmountPaid.Round(2)

	var result *models.Loan
	err := l.store.WithTx(ctx, func(tx database.Store) error {
		loan, err := tx.GetLoan(ctx, dto.LoanID, true)
		if err != nil {
			return storeError(err, "loan %d", dto.LoanID)
		}
		if err := l.requireLoanAccess(ctx, tx, actor, loan, true); err != nil {
			return err
		}

		payment, err := tx.GetLoanPayment(ctx, dto.PaymentID)
		if err != nil {
			return storeError(err, "payment %d", dto.PaymentID)
		}
		if payment.LoanID != loan.ID {
			return NewNotFoundError("payment %d of loan %d", dto.PaymentID, loan.ID)
		}
		switch {
		case payment.Status == models.PaymentStatusPaid:
			return NewAlreadySettledError(payment.ID)
		case !payment.Status.IsPayable():
			return &EngineError{
				Kind:     KindInvalidTransition,
				Message:  fmt.Sprintf("installment %d is %s", payment.ID, payment.Status),
				Metadata: map[string]interface{}{"payment_id": payment.ID, "status": payment.Status},
			}
		}
		if !loan.Status.AcceptsPayments() {
			return &EngineError{
				Kind:     KindInvalidTransition,
				Message:  fmt.Sprintf("loan %s does not accept payments in status %s", loan.Number, loan.Status),
				Metadata: map[string]interface{}{"loan_id": loan.ID, "status": loan.Status},
			}
		}

		totalDue := payment.TotalDue()
		if amount.GreaterThan(totalDue) {
			return NewOverpaymentError(amount.StringFixed(2), totalDue.StringFixed(2))
		}

		principalPortion, interestPortion := allocatePayment(amount, payment)
		if principalPortion.GreaterThan(loan.CurrentBalance) {
			principalPortion = loan.CurrentBalance
			interestPortion = amount.Sub(principalPortion)
		}

		paidAt := l.now()
		if dto.PaidDate != nil {
			paidAt = *dto.PaidDate
		}
		payment.AmountPaid = amount
		payment.PaidDate = &paidAt
		payment.Method = strings.TrimSpace(dto.Method)
		payment.Reference = strings.TrimSpace(dto.Reference)
		payment.Notes = dto.Notes
		settled, err := tx.SettleLoanPayment(ctx, payment)
		if err != nil {
			return storeError(err, "payment %d", payment.ID)
		}
		if !settled {
			return NewAlreadySettledError(payment.ID)
		}

		balanceBefore := loan.CurrentBalance
		loan.TotalPaid = loan.TotalPaid.Add(amount)
		loan.TotalPrincipalPaid = loan.TotalPrincipalPaid.Add(principalPortion)
		loan.TotalInterestPaid = loan.TotalInterestPaid.Add(interestPortion)
		loan.CurrentBalance = decimal.Max(loan.PrincipalAmount.Sub(loan.TotalPrincipalPaid), decimal.Zero)
		loan.LastPaymentAmount = decimal.NewNullDecimal(amount)
		loan.LastPaymentDate = &paidAt
		loan.UpdatedAt = l.now()

		carry := payment.PrincipalAmount.Sub(principalPortion)
		if err := l.advanceSchedule(ctx, tx, loan, carry); err != nil {
			return err
		}

		journal := &models.LoanTransaction{
			LoanID:           loan.ID,
			PaymentID:        &payment.ID,
			Type:             models.LoanTransactionPayment,
			Amount:           amount,
			PrincipalPortion: principalPortion,
			InterestPortion:  interestPortion,
			BalanceBefore:    balanceBefore,
			BalanceAfter:     loan.CurrentBalance,
			ActorID:          actor.ID,
			Description:      fmt.Sprintf("Installment %d payment", payment.Sequence),
			CreatedAt:        paidAt,
		}
		if err := tx.CreateLoanTransaction(ctx, journal); err != nil {
			return storeError(err, "journal of loan %s", loan.Number)
		}

		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeError(err, "loan %d", loan.ID)
		}
		result = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// allocatePayment делит оплату между долгом и процентами в пропорции графика платежа.
// Пропорция считается от min(amount, amount_due), превышение (пени) относится к процентам.
func allocatePayment(amount decimal.Decimal, payment *models.LoanPayment) (decimal.Decimal, decimal.Decimal) {
	if !payment.AmountDue.IsPositive() {
		return decimal.Zero, amount
	}
	base := decimal.Min(amount, payment.AmountDue)
	principalPortion := base.Mul(payment.PrincipalAmount).Div(payment.AmountDue).Round(2)
	return principalPortion, amount.Sub(principalPortion)
}

// advanceSchedule переставляет указатель следующего платежа и выставляет итоговый статус займа.
// Неоплаченный остаток долга закрытого платежа (carry) переносится на следующий открытый платеж,
// а если открытых платежей нет, на новый платеж через период после последнего.
func (l *LoanLedger) advanceSchedule(ctx context.Context, tx database.Store, loan *models.Loan, carry decimal.Decimal) error {
	if loan.CurrentBalance.IsZero() {
		loan.Status = models.LoanStatusPaidOff
		loan.NextPaymentAmount = decimal.NullDecimal{}
		loan.NextPaymentDate = nil
		if _, err := tx.CancelOpenPayments(ctx, loan.ID); err != nil {
			return storeError(err, "schedule of loan %d", loan.ID)
		}
		return nil
	}

	payments, err := tx.ListLoanPayments(ctx, loan.ID)
	if err != nil {
		return storeError(err, "schedule of loan %d", loan.ID)
	}

	var next *models.LoanPayment
	missed := false
	for i := range payments {
		p := &payments[i]
		if p.Status == models.PaymentStatusMissed {
			missed = true
		}
		if next == nil && p.Status.IsPayable() {
			next = p
		}
	}

	if carry.IsPositive() {
		if next == nil {
			if next, err = l.appendInstallment(ctx, tx, loan, payments, carry); err != nil {
				return err
			}
		} else {
			if _, err := tx.AddPaymentPrincipal(ctx, next.ID, carry); err != nil {
				return storeError(err, "payment %d", next.ID)
			}
			next.PrincipalAmount = next.PrincipalAmount.Add(carry)
			next.AmountDue = next.AmountDue.Add(carry)
		}
		utils.Logger().Info("unpaid principal carried forward",
			zap.Uint("loan_id", loan.ID),
			zap.Uint("payment_id", next.ID),
			zap.String("principal", carry.StringFixed(2)),
		)
	}

	if next == nil {
		loan.NextPaymentAmount = decimal.NullDecimal{}
		loan.NextPaymentDate = nil
	} else {
		if next.Status == models.PaymentStatusPending {
			if _, err := tx.MarkPaymentStatus(ctx, next.ID, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusScheduled, nil); err != nil {
				return storeError(err, "payment %d", next.ID)
			}
		}
		loan.NextPaymentAmount = decimal.NewNullDecimal(next.TotalDue())
		due := next.DueDate
		loan.NextPaymentDate = &due
	}

	if loan.Status == models.LoanStatusDefaulted && !missed {
		loan.Status = models.LoanStatusActive
	}
	return nil
}

// appendInstallment добавляет в конец графика платеж на остаток долга
func (l *LoanLedger) appendInstallment(ctx context.Context, tx database.Store, loan *models.Loan, payments []models.LoanPayment, principal decimal.Decimal) (*models.LoanPayment, error) {
	due := l.now()
	sequence := 1
	if n := len(payments); n > 0 {
		due = addMonths(payments[n-1].DueDate, loan.PaymentFrequency.MonthsPerPeriod())
		sequence = payments[n-1].Sequence + 1
	}
	extra := []models.LoanPayment{{
		LoanID:          loan.ID,
		Sequence:        sequence,
		DueDate:         due,
		AmountDue:       principal,
		PrincipalAmount: principal,
		InterestAmount:  decimal.Zero,
		LateFee:         decimal.Zero,
		PenaltyAmount:   decimal.Zero,
		AmountPaid:      decimal.Zero,
		Status:          models.PaymentStatusScheduled,
	}}
	if err := tx.CreateLoanPayments(ctx, extra); err != nil {
		return nil, storeError(err, "schedule of loan %d", loan.ID)
	}
	return &extra[0], nil
}

// CancelLoan отменяет займ, по которому еще не было оплат
func (l *LoanLedger) CancelLoan(ctx context.Context, actor models.Actor, loanID uint, reason string) (*models.Loan, error) {
	start := time.Now()
	var result *models.Loan
	err := l.store.WithTx(ctx, func(tx database.Store) error {
		loan, err := tx.GetLoan(ctx, loanID, true)
		if err != nil {
			return storeError(err, "loan %d", loanID)
		}
		if err := l.requireLoanAccess(ctx, tx, actor, loan, false); err != nil {
			return err
		}
		if loan.Status != models.LoanStatusActive && loan.Status != models.LoanStatusPending {
			return NewInvalidTransitionError(string(loan.Status), string(models.LoanStatusCancelled)).With("loan_id", loan.ID)
		}
		if !loan.TotalPaid.IsZero() {
			return NewValidationError("loan %s has recorded payments and cannot be cancelled", loan.Number)
		}

		if _, err := tx.CancelOpenPayments(ctx, loan.ID); err != nil {
			return storeError(err, "schedule of loan %d", loan.ID)
		}
		loan.Status = models.LoanStatusCancelled
		loan.NextPaymentAmount = decimal.NullDecimal{}
		loan.NextPaymentDate = nil
		loan.UpdatedAt = l.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeError(err, "loan %d", loan.ID)
		}
		result = loan
		return nil
	})
	utils.LogOperation("loan.cancel", start, err)
	if err != nil {
		return nil, err
	}
	utils.Logger().Info("loan cancelled", zap.Uint("loan_id", loanID), zap.String("reason", reason), zap.Uint("actor_id", actor.ID))
	return result, nil
}

// CloseLoan закрывает погашенный или отмененный займ
func (l *LoanLedger) CloseLoan(ctx context.Context, actor models.Actor, loanID uint) (*models.Loan, error) {
	start := time.Now()
	var result *models.Loan
	err := l.store.WithTx(ctx, func(tx database.Store) error {
		loan, err := tx.GetLoan(ctx, loanID, true)
		if err != nil {
			return storeError(err, "loan %d", loanID)
		}
		if err := l.requireLoanAccess(ctx, tx, actor, loan, false); err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPaidOff && loan.Status != models.LoanStatusCancelled {
			return NewInvalidTransitionError(string(loan.Status), string(models.LoanStatusClosed)).With("loan_id", loan.ID)
		}
		loan.Status = models.LoanStatusClosed
		loan.UpdatedAt = l.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return storeError(err, "loan %d", loan.ID)
		}
		result = loan
		return nil
	})
	utils.LogOperation("loan.close", start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetLoan возвращает займ
func (l *LoanLedger) GetLoan(ctx context.Context, actor models.Actor, loanID uint) (*models.Loan, error) {
	loan, err := l.store.GetLoan(ctx, loanID, false)
	if err != nil {
		return nil, storeError(err, "loan %d", loanID)
	}
	if err := l.requireLoanAccess(ctx, l.store, actor, loan, true); err != nil {
		return nil, err
	}
	return loan, nil
}

// Payments возвращает график с признаком просрочки на момент asOf
func (l *LoanLedger) Payments(ctx context.Context, actor models.Actor, loanID uint, asOf time.Time) ([]PaymentView, error) {
	if _, err := l.GetLoan(ctx, actor, loanID); err != nil {
		return nil, err
	}
	payments, err := l.store.ListLoanPayments(ctx, loanID)
	if err != nil {
		return nil, storeError(err, "schedule of loan %d", loanID)
	}
	views := make([]PaymentView, len(payments))
	for i := range payments {
		views[i] = PaymentView{LoanPayment: payments[i], Overdue: payments[i].IsOverdue(asOf)}
	}
	return views, nil
}

// Transactions возвращает журнал проводок по займу
func (l *LoanLedger) Transactions(ctx context.Context, actor models.Actor, loanID uint) ([]models.LoanTransaction, error) {
	if _, err := l.GetLoan(ctx, actor, loanID); err != nil {
		return nil, err
	}
	txns, err := l.store.ListLoanTransactions(ctx, loanID)
	if err != nil {
		return nil, storeError(err, "journal of loan %d", loanID)
	}
	return txns, nil
}

// requireLoanAccess: заемщик может читать и оплачивать свой займ, остальное требует права редактирования заявки
func (l *LoanLedger) requireLoanAccess(ctx context.Context, store database.Store, actor models.Actor, loan *models.Loan, borrowerAllowed bool) error {
	if borrowerAllowed && actor.ID == loan.ApplicantID {
		return nil
	}
	app, err := store.GetApplication(ctx, loan.ApplicationID, false)
	if err != nil {
		return storeError(err, "application %d", loan.ApplicationID)
	}
	return l.authorizer.requireEdit(ctx, store, actor, app)
}
