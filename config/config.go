package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Plans     PlansConfig     `mapstructure:"plans"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	OpsPort      int           `mapstructure:"ops_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DBConfig настройки хранилища. Driver memory поднимает in-memory хранилище без postgres.
type DBConfig struct {
	Driver        string `mapstructure:"driver"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"name"`
	SSLMode       string `mapstructure:"sslmode"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// RedisConfig настройки кэша каталога программ. Пустой адрес отключает кэш.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PlanCacheTTL time.Duration `mapstructure:"plan_cache_ttl"`
}

type LedgerConfig struct {
	SchedulerInterval     time.Duration `mapstructure:"scheduler_interval"`
	LateFeePercent        float64       `mapstructure:"late_fee_percent"`
	DefaultGraceDays      int           `mapstructure:"default_grace_days"`
	ReferenceRateURL      string        `mapstructure:"reference_rate_url"`
	ReferenceRateFallback float64       `mapstructure:"reference_rate_fallback"`
}

type PlansConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DSN возвращает строку подключения к postgres
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MigrationURL возвращает URL базы данных для golang-migrate
func (c DBConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// setDefaults задает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Настройки сервера
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ops_port", 9090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	// Настройки базы данных
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "charity_lending")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 100)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.migrations_dir", "migrations")
	v.SetDefault("db.auto_migrate", false)

	// Настройки JWT
	v.SetDefault("jwt.secret_key", "")

	// Настройки redis
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.plan_cache_ttl", 5*time.Minute)

	// Настройки ведения займов
	v.SetDefault("ledger.scheduler_interval", time.Hour)
	v.SetDefault("ledger.late_fee_percent", 0.0)
	v.SetDefault("ledger.default_grace_days", 90)
	v.SetDefault("ledger.reference_rate_url", "")
	v.SetDefault("ledger.reference_rate_fallback", 0.0)

	v.SetDefault("plans.seed_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.dir", "logs")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "charity-lending")

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)
}

// NewConfig загружает конфигурацию из config.yaml, .env и переменных окружения
func NewConfig() (*Config, error) {
	// .env не обязателен
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("ошибка чтения .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// SERVER_PORT, DB_HOST, JWT_SECRET_KEY ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения config.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация: %w", err)
	}

	return &cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("неверный порт сервера: %d", c.Server.Port)
	}
	if c.Server.OpsPort <= 0 {
		return fmt.Errorf("неверный служебный порт: %d", c.Server.OpsPort)
	}
	if c.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY не задан")
	}
	switch c.DB.Driver {
	case "postgres":
		if c.DB.Port <= 0 {
			return fmt.Errorf("неверный порт базы данных: %d", c.DB.Port)
		}
	case "memory":
	default:
		return fmt.Errorf("неизвестный драйвер базы данных: %q", c.DB.Driver)
	}
	if c.Ledger.LateFeePercent < 0 {
		return errors.New("ledger.late_fee_percent не может быть отрицательным")
	}
	if c.Ledger.DefaultGraceDays < 0 {
		return errors.New("ledger.default_grace_days не может быть отрицательным")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.requests и rate_limit.window должны быть положительными")
	}
	return nil
}
