package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"charitylending/utils"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// RateProvider возвращает текущую годовую референсную ставку в процентах
type RateProvider interface {
	CurrentRate(ctx context.Context) (float64, error)
}

// StaticRate фиксированная ставка
type StaticRate float64

func (r StaticRate) CurrentRate(context.Context) (float64, error) {
	return float64(r), nil
}

// ReferenceRateProvider получает ключевую ставку из XML-ленты.
// Ожидаются элементы KR с вложенными DT (дата) и Rate (ставка), берется последняя по дате.
type ReferenceRateProvider struct {
	client   *http.Client
	url      string
	fallback float64
	ttl      time.Duration

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

// NewReferenceRateProvider создает новый экземпляр ReferenceRateProvider
func NewReferenceRateProvider(url string, fallback float64) *ReferenceRateProvider {
	return &ReferenceRateProvider{
		client:   &http.Client{Timeout: 10 * time.Second},
		url:      url,
		fallback: fallback,
		ttl:      time.Hour,
	}
}

// CurrentRate возвращает ставку из ленты. При недоступности ленты используется резервная ставка.
func (p *ReferenceRateProvider) CurrentRate(ctx context.Context) (float64, error) {
	if p.url == "" {
		return p.fallbackRate(fmt.Errorf("reference rate feed is not configured"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	rate, err := p.fetch(ctx)
	if err != nil {
		utils.Logger().Warn("reference rate fetch failed", zap.String("url", p.url), zap.Error(err))
		return p.fallbackRate(err)
	}
	p.cached = rate
	p.fetchedAt = time.Now()
	return rate, nil
}

func (p *ReferenceRateProvider) fallbackRate(cause error) (float64, error) {
	if p.fallback > 0 {
		return p.fallback, nil
	}
	return 0, NewInternalError("reference rate is unavailable", cause)
}

func (p *ReferenceRateProvider) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	return ParseKeyRateXML(body)
}

// ParseKeyRateXML извлекает последнюю ставку из XML-документа
func ParseKeyRateXML(data []byte) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return 0, fmt.Errorf("parse key rate xml: %w", err)
	}

	var (
		latest time.Time
		rate   float64
		found  bool
	)
	for _, kr := range doc.FindElements("//KR") {
		dtEl := kr.SelectElement("DT")
		rateEl := kr.SelectElement("Rate")
		if dtEl == nil || rateEl == nil {
			continue
		}
		dt, err := parseRateDate(strings.TrimSpace(dtEl.Text()))
		if err != nil {
			return 0, err
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(rateEl.Text()), ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("parse rate %q: %w", rateEl.Text(), err)
		}
		if !found || dt.After(latest) {
			latest, rate, found = dt, value, true
		}
	}
	if !found {
		return 0, fmt.Errorf("no key rate entries in document")
	}
	return rate, nil
}

func parseRateDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse rate date %q", s)
}
