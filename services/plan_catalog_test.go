package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"charitylending/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedCatalog(t *testing.T, env *testEnv) (*PlanCatalog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPlanCatalog(env.store, NewRedisPlanCache(client, time.Minute)), mr
}

func validPlanDTO(code string) PlanDTO {
	return PlanDTO{
		Code:             code,
		Name:             "Donor Advised Fund",
		IncomeMultiplier: 0.3,
		AssetPercent:     5,
		InterestRate:     4,
		TermMonths:       24,
		PaymentFrequency: "quarterly",
	}
}

func TestPlanCatalog_ActivePlansCacheAside(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	catalog, mr := newCachedCatalog(t, env)

	plans, err := catalog.ActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.True(t, mr.Exists(activePlansKey))

	// Запись в обход каталога не видна, пока живет кэш
	extra := charitablePlan()
	extra.Code = "EXTRA"
	require.NoError(t, env.store.CreatePlan(ctx, &extra))
	plans, err = catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
	assert.Equal(t, "CRT", plans[0].Code)
	assert.Equal(t, []string{"stocks", "bonds"}, []string(plans[0].RequiredAssetTypes))

	mr.FastForward(2 * time.Minute)
	plans, err = catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 2)

	_, err = catalog.Create(ctx, env.admin, validPlanDTO("DAF"))
	require.NoError(t, err)
	assert.False(t, mr.Exists(activePlansKey), "writes invalidate the cache")
	plans, err = catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestPlanCatalog_CorruptCacheFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	catalog, mr := newCachedCatalog(t, env)
	require.NoError(t, mr.Set(activePlansKey, "not json"))

	plans, err := catalog.ActivePlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestPlanCatalog_CreateAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.catalog.Create(ctx, env.staff, validPlanDTO("DAF"))
	assert.ErrorIs(t, err, ErrAuthorization)

	created, err := env.catalog.Create(ctx, env.admin, validPlanDTO("DAF"))
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.Equal(t, models.FrequencyQuarterly, created.PaymentFrequency)

	_, err = env.catalog.Create(ctx, env.admin, validPlanDTO("DAF"))
	assert.ErrorIs(t, err, ErrConflict)

	renamed := validPlanDTO("OTHER")
	_, err = env.catalog.Update(ctx, env.admin, "DAF", renamed)
	assert.ErrorIs(t, err, ErrValidation, "plan code is immutable")

	update := validPlanDTO("")
	update.Name = "Donor Advised Fund II"
	updated, err := env.catalog.Update(ctx, env.admin, "DAF", update)
	require.NoError(t, err)
	assert.Equal(t, "DAF", updated.Code)
	assert.Equal(t, "Donor Advised Fund II", updated.Name)
	assert.True(t, updated.Active)

	_, err = env.catalog.Update(ctx, env.admin, "MISSING", validPlanDTO(""))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanCatalog_RejectsInvalidPlans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(dto *PlanDTO)
	}{
		{"term not a multiple of the period", func(dto *PlanDTO) { dto.TermMonths = 10 }},
		{"unknown frequency", func(dto *PlanDTO) { dto.PaymentFrequency = "weekly" }},
		{"floor above ceiling", func(dto *PlanDTO) { dto.FloorAmount = 1000; dto.CeilingAmount = 500 }},
		{"negative rate", func(dto *PlanDTO) { dto.InterestRate = -1 }},
		{"min ratio above one", func(dto *PlanDTO) { dto.MinRatio = 1.5 }},
		{"missing name", func(dto *PlanDTO) { dto.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := validPlanDTO("BAD")
			tt.mutate(&dto)
			_, err := env.catalog.Create(ctx, env.admin, dto)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPlanCatalog_SetActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.catalog.SetActive(ctx, env.admin, "CRT", false)
	require.NoError(t, err)

	active, err := env.catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	plan, err := env.catalog.Get(ctx, "CRT")
	require.NoError(t, err, "inactive plans stay readable")
	assert.False(t, plan.Active)

	all, err := env.catalog.AllPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPlanCatalog_ImportSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed := `[
		{"code": "CRT", "name": "Charitable Remainder Trust (2024)", "term_months": 12, "payment_frequency": "monthly",
		 "income_multiplier": 0.5, "asset_percent": 10, "interest_rate": 6, "required_asset_types": ["stocks"]},
		{"code": "CGA", "name": "Charitable Gift Annuity", "term_months": 60, "payment_frequency": "annual",
		 "min_age": 60, "use_reference_rate": true, "rate_spread": -1.5, "active": false}
	]`
	path := filepath.Join(t.TempDir(), "plans.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	n, err := env.catalog.ImportSeed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	crt, err := env.catalog.Get(ctx, "CRT")
	require.NoError(t, err)
	assert.Equal(t, "Charitable Remainder Trust (2024)", crt.Name)

	cga, err := env.catalog.Get(ctx, "CGA")
	require.NoError(t, err)
	assert.False(t, cga.Active)
	assert.True(t, cga.UseReferenceRate)
	require.NotNil(t, cga.MinAge)
	assert.Equal(t, 60, *cga.MinAge)
}

func TestPlanCatalog_ImportSeedRejectsBadDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := map[string]string{
		"not json":          `{"code":`,
		"not an array":      `{"code": "X"}`,
		"missing name":      `[{"code": "X", "term_months": 12, "payment_frequency": "monthly"}]`,
		"unknown field":     `[{"code": "X", "name": "X", "term_months": 12, "payment_frequency": "monthly", "color": "red"}]`,
		"unknown frequency": `[{"code": "X", "name": "X", "term_months": 12, "payment_frequency": "weekly"}]`,
		"term mismatch":     `[{"code": "X", "name": "X", "term_months": 7, "payment_frequency": "quarterly"}]`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.catalog.ImportSeedData(ctx, []byte(doc))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := env.catalog.Get(ctx, "X")
	assert.ErrorIs(t, err, ErrNotFound, "a rejected seed writes nothing")

	_, err = env.catalog.ImportSeed(ctx, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
