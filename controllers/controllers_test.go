package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"charitylending/database"
	"charitylending/middleware"
	"charitylending/models"
	"charitylending/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var testKey = []byte("controller-secret")

type apiEnv struct {
	t      *testing.T
	router http.Handler

	admin     models.Actor
	staff     models.Actor
	applicant models.Actor
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()

	admin := &models.User{FirstName: "Ada", LastName: "Admin", Email: "admin@example.org", Role: models.RoleAdmin}
	staff := &models.User{FirstName: "Sam", LastName: "Staff", Email: "staff@example.org", Role: models.RoleStaff}
	applicant := &models.User{FirstName: "Pat", LastName: "Prospect", Email: "pat@example.org", Role: models.RoleApplicant,
		Profile: models.FinancialProfile{
			AnnualIncome:     250000,
			NetWorth:         1000000,
			Age:              45,
			AssetTypes:       datatypes.JSONSlice[string]{"stocks"},
			CharitableIntent: true,
		}}
	for _, u := range []*models.User{admin, staff, applicant} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	minIncome := 200000.0
	require.NoError(t, store.CreatePlan(ctx, &models.Plan{
		Code:                     "CRT",
		Name:                     "Charitable Remainder Trust",
		MinIncome:                &minIncome,
		RequiresCharitableIntent: true,
		IncomeMultiplier:         0.5,
		AssetPercent:             10,
		FloorAmount:              10000,
		CeilingAmount:            500000,
		InterestRate:             6,
		TermMonths:               12,
		PaymentFrequency:         models.FrequencyMonthly,
		Active:                   true,
	}))

	qualifier := services.NewQualifier()
	catalog := services.NewPlanCatalog(store, nil)
	authorizer := services.NewAuthorizer(store)
	applications := services.NewApplicationService(store, catalog, qualifier, authorizer)

	router := NewRouter(testKey, Services{
		Users:        services.NewUserService(store, catalog, qualifier),
		Catalog:      catalog,
		Qualifier:    qualifier,
		Applications: applications,
		Assigner:     services.NewPlanAssigner(store, authorizer),
		Ledger:       services.NewLoanLedger(store, applications, authorizer, qualifier, services.StaticRate(7.5)),
		Directory:    services.NewAssignmentDirectory(store),
	})

	return &apiEnv{
		t:         t,
		router:    router,
		admin:     models.Actor{ID: admin.ID, Role: models.RoleAdmin},
		staff:     models.Actor{ID: staff.ID, Role: models.RoleStaff, Departments: []string{"underwriting"}},
		applicant: models.Actor{ID: applicant.ID, Role: models.RoleApplicant},
	}
}

// do выполняет запрос от имени участника и при необходимости декодирует ответ
func (e *apiEnv) do(actor models.Actor, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	token, err := middleware.NewToken(testKey, actor, time.Hour)
	require.NoError(e.t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		require.NoError(e.t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return string(body.Error.Code)
}

func TestAPI_ApplicationToPaidInstallment(t *testing.T) {
	env := newAPIEnv(t)

	var app models.Application
	rr := env.do(env.applicant, http.MethodPost, "/api/applications",
		map[string]interface{}{"requested_amount": "150000", "purpose": "Scholarship endowment"}, &app)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, models.ApplicationStatusDraft, app.Status)
	assert.Equal(t, env.applicant.ID, app.ApplicantID)

	base := fmt.Sprintf("/api/applications/%d", app.ID)

	rr = env.do(env.applicant, http.MethodPost, base+"/transitions", transitionRequest{Target: "submitted"}, &app)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, app.Qualification.Qualified)

	// сотрудник без отдела и закрепления не может рассматривать заявку
	rr = env.do(env.staff, http.MethodPost, base+"/transitions", transitionRequest{Target: "under_review"}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "AUTHORIZATION_ERROR", errorCode(t, rr))

	rr = env.do(env.admin, http.MethodPut, base+"/departments", departmentsRequest{Departments: []string{"underwriting"}}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var allowed struct {
		Transitions []models.ApplicationStatus `json:"transitions"`
	}
	rr = env.do(env.staff, http.MethodGet, base+"/transitions", nil, &allowed)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, allowed.Transitions, models.ApplicationStatusUnderReview)

	for _, target := range []string{"under_review", "approved"} {
		rr = env.do(env.staff, http.MethodPost, base+"/transitions", transitionRequest{Target: target, Notes: "ok"}, &app)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	assert.Equal(t, models.ApplicationStatusApproved, app.Status)

	// займ без программы не выдается
	rr = env.do(env.staff, http.MethodPost, base+"/loan", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(env.staff, http.MethodPut, base+"/plan", map[string]interface{}{"plan_code": "CRT"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var details services.LoanDetails
	rr = env.do(env.staff, http.MethodPost, base+"/loan", nil, &details)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, details.Loan.PrincipalAmount.Equal(decimal.NewFromInt(150000)))
	require.Len(t, details.Payments, 12)

	first := details.Payments[0]
	loanPath := fmt.Sprintf("/api/loans/%d", details.Loan.ID)
	payPath := fmt.Sprintf("%s/payments/%d", loanPath, first.ID)

	rr = env.do(env.applicant, http.MethodPost, payPath,
		map[string]interface{}{"amount_paid": first.AmountDue.Add(decimal.RequireFromString("0.01")).String()}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "OVERPAYMENT_ERROR", errorCode(t, rr))

	var loan models.Loan
	rr = env.do(env.applicant, http.MethodPost, payPath,
		map[string]interface{}{"amount_paid": first.AmountDue.String(), "method": "ach"}, &loan)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, loan.TotalPaid.Equal(first.AmountDue))
	assert.True(t, loan.CurrentBalance.Equal(loan.PrincipalAmount.Sub(loan.TotalPrincipalPaid)))

	rr = env.do(env.applicant, http.MethodPost, payPath, map[string]interface{}{"amount_paid": "1"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ALREADY_SETTLED", errorCode(t, rr))

	var payments []services.PaymentView
	rr = env.do(env.applicant, http.MethodGet, loanPath+"/payments", nil, &payments)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.PaymentStatusPaid, payments[0].Status)
	assert.Equal(t, models.PaymentStatusScheduled, payments[1].Status)

	var txns []models.LoanTransaction
	rr = env.do(env.staff, http.MethodGet, loanPath+"/transactions", nil, &txns)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, txns, 2)

	var events []models.ApplicationEvent
	rr = env.do(env.applicant, http.MethodGet, base+"/events", nil, &events)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, events, 3)
}

func TestAPI_ErrorMapping(t *testing.T) {
	env := newAPIEnv(t)

	var app models.Application
	rr := env.do(env.applicant, http.MethodPost, "/api/applications", map[string]interface{}{"purpose": "Endowment"}, &app)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	base := fmt.Sprintf("/api/applications/%d", app.ID)

	tests := []struct {
		name   string
		actor  models.Actor
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"invalid transition", env.admin, http.MethodPost, base + "/transitions", transitionRequest{Target: "approved"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown status", env.admin, http.MethodPost, base + "/transitions", transitionRequest{Target: "archived"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", env.admin, http.MethodPost, base + "/transitions", map[string]string{"state": "submitted"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing application", env.admin, http.MethodGet, "/api/applications/999", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad id", env.admin, http.MethodGet, "/api/applications/abc", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"foreign application", env.staff, http.MethodGet, base, nil, http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{"plan create by staff", env.staff, http.MethodPost, "/api/plans", map[string]interface{}{"code": "X", "name": "X", "term_months": 12, "payment_frequency": "monthly"}, http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{"negative income", env.applicant, http.MethodGet, "/api/plans/CRT/range?income=-5", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing plan", env.applicant, http.MethodGet, "/api/plans/NOPE", nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown route", env.applicant, http.MethodGet, "/api/nothing", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.actor, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newAPIEnv(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestAPI_PlansAndQualification(t *testing.T) {
	env := newAPIEnv(t)

	var plans []models.Plan
	rr := env.do(env.applicant, http.MethodGet, "/api/plans", nil, &plans)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, plans, 1)

	var rng services.LoanRange
	rr = env.do(env.applicant, http.MethodGet, "/api/plans/CRT/range?income=100000&assets=200000", nil, &rng)
	require.Equal(t, http.StatusOK, rr.Code)
	// base = 100000*0.5 + 200000*10% = 70000
	assert.Equal(t, "70000", rng.Max.String())
	assert.Equal(t, "35000", rng.Min.String())
	assert.Equal(t, "52500", rng.Suggested.String())

	rr = env.do(env.admin, http.MethodPut, "/api/plans/CRT/active", planActiveRequest{Active: false}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(env.applicant, http.MethodGet, "/api/plans", nil, &plans)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, plans)

	rr = env.do(env.admin, http.MethodGet, "/api/plans?all=true", nil, &plans)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, plans, 1)

	rr = env.do(env.admin, http.MethodPut, "/api/plans/CRT/active", planActiveRequest{Active: true}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var verdict services.QualificationResult
	rr = env.do(env.applicant, http.MethodPost, "/api/qualification/evaluate",
		services.ProfileRequest{AnnualIncome: 50000, NetWorth: 10000, Age: 40}, &verdict)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, verdict.Qualified)
	assert.NotEmpty(t, verdict.Reasons)

	var user models.User
	rr = env.do(env.applicant, http.MethodPut, "/api/profile",
		services.ProfileRequest{AnnualIncome: 300000, NetWorth: 900000, Age: 50, CharitableIntent: true}, &user)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 300000.0, user.Profile.AnnualIncome)

	rr = env.do(env.applicant, http.MethodGet, fmt.Sprintf("/api/users/%d/qualification", env.applicant.ID), nil, &verdict)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, verdict.Qualified)
	assert.Equal(t, []string{"CRT"}, verdict.PlanCodes())
}

func TestAPI_Assignments(t *testing.T) {
	env := newAPIEnv(t)

	var record models.AssignmentRecord
	rr := env.do(env.admin, http.MethodPost, "/api/assignments",
		services.AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID, Primary: true}, &record)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, record.Active)

	var records []models.AssignmentRecord
	rr = env.do(env.staff, http.MethodGet, fmt.Sprintf("/api/prospects/%d/assignments", env.applicant.ID), nil, &records)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, records, 1)

	rr = env.do(env.staff, http.MethodGet, fmt.Sprintf("/api/staff/%d/assignments", env.staff.ID), nil, &records)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, records, 1)

	rr = env.do(env.applicant, http.MethodGet, fmt.Sprintf("/api/staff/%d/assignments", env.staff.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(env.admin, http.MethodDelete, fmt.Sprintf("/api/assignments/%d", record.ID), nil, &record)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, record.Active)
}
