package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"charitylending/config"
	"charitylending/controllers"
	"charitylending/middleware"
	"charitylending/models"
	"charitylending/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Memory(t *testing.T) {
	cfg := &config.Config{DB: config.DBConfig{Driver: "memory"}}

	store, closeStore, err := newStore(cfg)
	require.NoError(t, err)
	defer closeStore()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewRateProvider(t *testing.T) {
	static := newRateProvider(config.LedgerConfig{ReferenceRateFallback: 7.25})
	rate, err := static.CurrentRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7.25, rate)

	_, isFeed := newRateProvider(config.LedgerConfig{ReferenceRateURL: "http://rates.local/feed.xml"}).(*services.ReferenceRateProvider)
	assert.True(t, isFeed)
}

func TestBuildServices_ServesAPI(t *testing.T) {
	store, closeStore, err := newStore(&config.Config{DB: config.DBConfig{Driver: "memory"}})
	require.NoError(t, err)
	defer closeStore()

	admin := &models.User{FirstName: "Ada", LastName: "Admin", Email: "admin@example.org", Role: models.RoleAdmin}
	require.NoError(t, store.CreateUser(context.Background(), admin))

	key := []byte("main-secret")
	router := controllers.NewRouter(key, buildServices(store, nil, services.StaticRate(5)))

	token, err := middleware.NewToken(key, models.Actor{ID: admin.ID, Role: models.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "admin@example.org")
}
