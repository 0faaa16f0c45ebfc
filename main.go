package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charitylending/config"
	"charitylending/controllers"
	"charitylending/database"
	"charitylending/middleware"
	"charitylending/services"
	"charitylending/utils"

	"go.uber.org/zap"
)

// newStore открывает хранилище по db.driver. Возвращает функцию закрытия.
func newStore(cfg *config.Config) (database.Store, func() error, error) {
	if cfg.DB.Driver == "memory" {
		utils.Logger().Warn("using in-memory store, data is not persisted")
		return database.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db.Store(), db.Close, nil
}

// newRateProvider выбирает источник базовой ставки
func newRateProvider(cfg config.LedgerConfig) services.RateProvider {
	if cfg.ReferenceRateURL == "" {
		return services.StaticRate(cfg.ReferenceRateFallback)
	}
	return services.NewReferenceRateProvider(cfg.ReferenceRateURL, cfg.ReferenceRateFallback)
}

// buildServices собирает сервисы движка поверх хранилища
func buildServices(store database.Store, cache services.PlanCache, rates services.RateProvider) controllers.Services {
	qualifier := services.NewQualifier()
	catalog := services.NewPlanCatalog(store, cache)
	authorizer := services.NewAuthorizer(store)
	applications := services.NewApplicationService(store, catalog, qualifier, authorizer)

	return controllers.Services{
		Users:        services.NewUserService(store, catalog, qualifier),
		Catalog:      catalog,
		Qualifier:    qualifier,
		Applications: applications,
		Assigner:     services.NewPlanAssigner(store, authorizer),
		Ledger:       services.NewLoanLedger(store, applications, authorizer, qualifier, rates),
		Directory:    services.NewAssignmentDirectory(store),
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := utils.SetupTracing(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("ошибка настройки трассировки: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			utils.Logger().Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Инициализируем хранилище
	store, closeStore, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			utils.Logger().Warn("store close failed", zap.Error(err))
		}
	}()

	// Кэш каталога программ
	var cache services.PlanCache
	if cfg.Redis.Address != "" {
		client := services.NewRedisClient(cfg.Redis)
		defer client.Close()
		cache = services.NewRedisPlanCache(client, cfg.Redis.PlanCacheTTL)
	}

	svc := buildServices(store, cache, newRateProvider(cfg.Ledger))

	if cfg.Plans.SeedFile != "" {
		n, err := svc.Catalog.ImportSeed(ctx, cfg.Plans.SeedFile)
		if err != nil {
			return fmt.Errorf("ошибка загрузки каталога программ: %w", err)
		}
		utils.Logger().Info("plan catalog seeded", zap.Int("plans", n), zap.String("file", cfg.Plans.SeedFile))
	}

	// Запускаем планировщик платежей
	services.NewPaymentSchedulerService(store, cfg.Ledger).Start(ctx)

	api := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      controllers.NewRouter([]byte(cfg.JWT.SecretKey), svc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	ops := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.OpsPort),
		Handler: middleware.NewOpsRouter(store, utils.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)),
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{api, ops} {
		go func(srv *http.Server) {
			utils.Logger().Info("server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ошибка запуска сервера %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		utils.Logger().Info("shutdown requested")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{api, ops} {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			utils.Logger().Warn("server shutdown failed", zap.String("addr", srv.Addr), zap.Error(shutdownErr))
		}
	}
	return err
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Dir); err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer utils.SyncLogger()

	if err := run(cfg); err != nil {
		utils.Logger().Error("server stopped with error", zap.Error(err))
		utils.SyncLogger()
		os.Exit(1)
	}
}
