package controllers

import (
	"net/http"
	"time"

	"charitylending/services"
)

// LoanController обрабатывает запросы, связанные с займами и платежами
type LoanController struct {
	ledger *services.LoanLedger
}

// NewLoanController создает новый экземпляр LoanController
func NewLoanController(ledger *services.LoanLedger) *LoanController {
	return &LoanController{ledger: ledger}
}

type cancelLoanRequest struct {
	Reason string `json:"reason"`
}

// PreviewSchedule рассчитывает график без сохранения
func (c *LoanController) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	var dto services.PreviewScheduleDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}

	rows, err := c.ledger.PreviewSchedule(dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetLoan возвращает займ
func (c *LoanController) GetLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	loan, err := c.ledger.GetLoan(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// GetPayments возвращает график платежей. Параметр as_of (RFC 3339) задает момент расчета просрочки.
func (c *LoanController) GetPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "as_of must be an RFC 3339 timestamp, got %q", raw)
			return
		}
	}

	payments, err := c.ledger.Payments(r.Context(), actor, id, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// RecordPayment принимает оплату платежа графика
func (c *LoanController) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	loanID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	paymentID, err := pathID(r, "paymentId")
	if err != nil {
		writeError(w, err)
		return
	}

	var dto services.RecordPaymentDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}
	dto.LoanID = loanID
	dto.PaymentID = paymentID

	loan, err := c.ledger.RecordPayment(r.Context(), actor, dto)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// CancelLoan отменяет займ
func (c *LoanController) CancelLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req cancelLoanRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	loan, err := c.ledger.CancelLoan(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// CloseLoan закрывает погашенный займ
func (c *LoanController) CloseLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	loan, err := c.ledger.CloseLoan(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// GetTransactions возвращает журнал проводок займа
func (c *LoanController) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	txns, err := c.ledger.Transactions(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}
