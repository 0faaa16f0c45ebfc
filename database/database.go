package database

import (
	"errors"
	"fmt"
	"time"

	"charitylending/config"
	"charitylending/models"
	"charitylending/utils"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database представляет подключение к базе данных
type Database struct {
	DB *gorm.DB
}

// NewDatabase устанавливает соединение с postgres и выполняет миграции
func NewDatabase(cfg *config.Config) (*Database, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Database{DB: db}, nil
}

// Store возвращает хранилище поверх подключения
func (d *Database) Store() *GormStore {
	return NewGormStore(d.DB)
}

// Close закрывает подключение к базе данных
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newGormLogger направляет SQL-лог gorm в zap
func newGormLogger() logger.Interface {
	return logger.New(
		zap.NewStdLog(utils.Logger().Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Connect устанавливает соединение с базой данных и выполняет миграции
func Connect(cfg *config.Config) (*gorm.DB, error) {
	// Устанавливаем соединение
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:         newGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Настраиваем пул соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пула соединений: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Выполняем SQL миграции
	if err := RunMigrations(cfg); err != nil {
		return nil, fmt.Errorf("ошибка выполнения SQL миграций: %w", err)
	}

	// Автомиграция нужна только для локальной разработки
	if cfg.DB.AutoMigrate {
		if err := autoMigrate(db); err != nil {
			return nil, fmt.Errorf("ошибка автоматической миграции моделей: %w", err)
		}
	}

	return db, nil
}

// RunMigrations выполняет SQL миграции из каталога db.migrations_dir
func RunMigrations(cfg *config.Config) error {
	// Создаем экземпляр миграции
	m, err := migrate.New("file://"+cfg.DB.MigrationsDir, cfg.DB.MigrationURL())
	if err != nil {
		return fmt.Errorf("ошибка создания миграции: %w", err)
	}
	defer m.Close()

	// Выполняем миграции
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка выполнения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		utils.Logger().Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}

	return nil
}

// autoMigrate выполняет автоматическую миграцию моделей
func autoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Application{},
		&models.ApplicationEvent{},
		&models.ApplicationPlan{},
		&models.Loan{},
		&models.LoanPayment{},
		&models.LoanTransaction{},
		&models.AssignmentRecord{},
	)
	if err != nil {
		return fmt.Errorf("ошибка автоматической миграции: %w", err)
	}

	return nil
}
