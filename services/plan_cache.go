package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"charitylending/config"
	"charitylending/models"
	"charitylending/utils"

	"github.com/redis/go-redis/v9"
)

const activePlansKey = "plans:active"

// PlanCache кэш списка активных программ
type PlanCache interface {
	GetActive(ctx context.Context) ([]models.Plan, bool, error)
	SetActive(ctx context.Context, plans []models.Plan) error
	Invalidate(ctx context.Context) error
}

// RedisPlanCache хранит активный каталог в redis в виде JSON
type RedisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает клиента redis по конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// NewRedisPlanCache создает новый экземпляр RedisPlanCache
func NewRedisPlanCache(client *redis.Client, ttl time.Duration) *RedisPlanCache {
	return &RedisPlanCache{client: client, ttl: ttl}
}

func (c *RedisPlanCache) GetActive(ctx context.Context) ([]models.Plan, bool, error) {
	raw, err := c.client.Get(ctx, activePlansKey).Bytes()
	if errors.Is(err, redis.Nil) {
		utils.PlanCacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		utils.PlanCacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("redis get %s: %w", activePlansKey, err)
	}

	var plans []models.Plan
	if err := json.Unmarshal(raw, &plans); err != nil {
		utils.PlanCacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("decode cached plans: %w", err)
	}
	utils.PlanCacheLookups.WithLabelValues("hit").Inc()
	return plans, true, nil
}

func (c *RedisPlanCache) SetActive(ctx context.Context, plans []models.Plan) error {
	raw, err := json.Marshal(plans)
	if err != nil {
		return fmt.Errorf("encode plans: %w", err)
	}
	return c.client.Set(ctx, activePlansKey, raw, c.ttl).Err()
}

func (c *RedisPlanCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, activePlansKey).Err()
}
