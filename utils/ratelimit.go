package utils

import (
	"sync"
	"time"
)

// RateDecision результат проверки лимита для одного ключа
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimiter реализует ограничение частоты запросов скользящим окном
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// recent оставляет только запросы внутри окна. Вызывается под мьютексом.
func (rl *RateLimiter) recent(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	kept := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = kept
	return kept
}

// Take проверяет лимит и, если он не исчерпан, учитывает запрос
func (rl *RateLimiter) Take(key string) RateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	requests := rl.recent(key, now)

	decision := RateDecision{Limit: rl.limit, Reset: now.Add(rl.window)}
	if len(requests) > 0 {
		decision.Reset = requests[0].Add(rl.window)
	}

	if len(requests) >= rl.limit {
		return decision
	}

	rl.requests[key] = append(requests, now)
	decision.Allowed = true
	decision.Remaining = rl.limit - len(requests) - 1
	return decision
}

// Allow проверяет, разрешен ли запрос
func (rl *RateLimiter) Allow(key string) bool {
	return rl.Take(key).Allowed
}

// Reset сбрасывает счетчик для ключа
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, key)
}
