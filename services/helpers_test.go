package services

import (
	"context"
	"testing"
	"time"

	"charitylending/database"
	"charitylending/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store      *database.MemoryStore
	catalog    *PlanCatalog
	qualifier  *Qualifier
	authorizer *Authorizer
	apps       *ApplicationService
	assigner   *PlanAssigner
	ledger     *LoanLedger
	directory  *AssignmentDirectory
	users      *UserService

	admin     models.Actor
	staff     models.Actor
	applicant models.Actor
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func uintPtr(v uint) *uint        { return &v }
func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func strongProfile() models.FinancialProfile {
	return models.FinancialProfile{
		AnnualIncome:     250000,
		NetWorth:         1000000,
		Age:              45,
		AssetTypes:       datatypes.JSONSlice[string]{"stocks"},
		CharitableIntent: true,
	}
}

func charitablePlan() models.Plan {
	return models.Plan{
		Code:                     "CRT",
		Name:                     "Charitable Remainder Trust",
		MinIncome:                floatPtr(200000),
		MinAssets:                floatPtr(500000),
		MinAge:                   intPtr(30),
		RequiresCharitableIntent: true,
		RequiredAssetTypes:       datatypes.JSONSlice[string]{"stocks", "bonds"},
		IncomeMultiplier:         0.5,
		AssetPercent:             10,
		FloorAmount:              10000,
		CeilingAmount:            500000,
		InterestRate:             6,
		TermMonths:               12,
		PaymentFrequency:         models.FrequencyMonthly,
		Active:                   true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()

	admin := &models.User{FirstName: "Ada", LastName: "Admin", Email: "admin@example.org", Role: models.RoleAdmin}
	staff := &models.User{FirstName: "Sam", LastName: "Staff", Email: "staff@example.org", Role: models.RoleStaff}
	applicant := &models.User{FirstName: "Pat", LastName: "Prospect", Email: "pat@example.org", Role: models.RoleApplicant, Profile: strongProfile()}
	for _, u := range []*models.User{admin, staff, applicant} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	plan := charitablePlan()
	require.NoError(t, store.CreatePlan(ctx, &plan))

	qualifier := NewQualifier()
	catalog := NewPlanCatalog(store, nil)
	authorizer := NewAuthorizer(store)
	apps := NewApplicationService(store, catalog, qualifier, authorizer)
	apps.now = func() time.Time { return testNow }
	assigner := NewPlanAssigner(store, authorizer)
	assigner.now = func() time.Time { return testNow }
	ledger := NewLoanLedger(store, apps, authorizer, qualifier, StaticRate(7.5))
	ledger.now = func() time.Time { return testNow }
	directory := NewAssignmentDirectory(store)
	directory.now = func() time.Time { return testNow }

	return &testEnv{
		store:      store,
		catalog:    catalog,
		qualifier:  qualifier,
		authorizer: authorizer,
		apps:       apps,
		assigner:   assigner,
		ledger:     ledger,
		directory:  directory,
		users:      NewUserService(store, catalog, qualifier),
		admin:      models.Actor{ID: admin.ID, Role: models.RoleAdmin},
		staff:      models.Actor{ID: staff.ID, Role: models.RoleStaff, Departments: []string{"underwriting"}},
		applicant:  models.Actor{ID: applicant.ID, Role: models.RoleApplicant},
	}
}

// seedStatus кладет заявку в хранилище сразу в нужном статусе
func (e *testEnv) seedStatus(t *testing.T, status models.ApplicationStatus) *models.Application {
	t.Helper()
	app := &models.Application{
		Number:          newNumber("APP", testNow),
		ApplicantID:     e.applicant.ID,
		Status:          status,
		RequestedAmount: decimal.NewFromInt(150000),
		Purpose:         "Fund scholarship endowment",
		Snapshot:        models.FinancialSnapshot{Income: 250000, NetWorth: 1000000},
	}
	require.NoError(t, e.store.CreateApplication(context.Background(), app))
	return app
}

// approvedWithPlan создает одобренную заявку с активной программой CRT
func (e *testEnv) approvedWithPlan(t *testing.T, dto AssignPlanDTO) *models.Application {
	t.Helper()
	app := e.seedStatus(t, models.ApplicationStatusApproved)
	if dto.PlanCode == "" {
		dto.PlanCode = "CRT"
	}
	_, err := e.assigner.Assign(context.Background(), e.admin, app.ID, dto)
	require.NoError(t, err)
	return app
}

func (e *testEnv) status(t *testing.T, id uint) models.ApplicationStatus {
	t.Helper()
	app, err := e.store.GetApplication(context.Background(), id, false)
	require.NoError(t, err)
	return app.Status
}
