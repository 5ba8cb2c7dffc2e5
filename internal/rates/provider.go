// Package rates fetches and caches fiat→sats exchange rates from several
// independent sources with failover. Conversion always floors: the
// sats-visible total never exceeds what the fiat amount backs.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/satsplit/satsplit/internal/models"
)

const (
	// BaseUnitsPerWhole is the number of sats in one whole BTC.
	BaseUnitsPerWhole = 100_000_000

	// CacheTTL is how long a fetched rate stays valid.
	CacheTTL = 10 * time.Minute
)

var (
	// ErrUnsupportedCurrency rejects currencies outside the supported set
	// before any network attempt.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrAllSourcesUnavailable is returned once every price source has
	// failed. The caller must not fabricate a rate.
	ErrAllSourcesUnavailable = errors.New("all rate sources unavailable")
)

// SupportedCurrencies is the fixed set of accepted currency codes.
var SupportedCurrencies = []string{"USD", "EUR", "AUD", "HKD", "SGD"}

// Supported reports whether the currency code is accepted.
func Supported(currency string) bool {
	code := strings.ToUpper(currency)
	for _, c := range SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

type cachedRate struct {
	rate   models.ExchangeRate
	expiry time.Time
}

type cachedMultiplier struct {
	value  float64
	expiry time.Time
}

// Provider fetches and caches exchange rates. Safe for concurrent use;
// refreshes for the same currency are serialized so concurrent callers do
// not trigger redundant network calls.
type Provider struct {
	sources       []Source
	multiplierURL string
	client        *http.Client
	now           func() time.Time

	mu          sync.Mutex
	cache       map[string]cachedRate
	multipliers map[string]cachedMultiplier
	inflight    map[string]*sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithSources overrides the price sources (tests).
func WithSources(sources []Source) Option {
	return func(p *Provider) { p.sources = sources }
}

// WithMultiplierURL overrides the currency-conversion endpoint (tests).
func WithMultiplierURL(url string) Option {
	return func(p *Provider) { p.multiplierURL = url }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// NewProvider creates a Provider with the default sources and a 10-second
// request timeout.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		sources:       DefaultSources(),
		multiplierURL: defaultMultiplierURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
		cache:         make(map[string]cachedRate),
		multipliers:   make(map[string]cachedMultiplier),
		inflight:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetRate returns the sats-per-unit rate for the currency, from cache when
// fresh, otherwise from the first price source that answers.
func (p *Provider) GetRate(ctx context.Context, currency string) (models.ExchangeRate, error) {
	code := strings.ToUpper(currency)

	if rate, ok := p.cached(code); ok {
		return rate, nil
	}
	if !Supported(code) {
		return models.ExchangeRate{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	// Serialize refreshes per currency; a waiter re-checks the cache the
	// winner just filled.
	lock := p.keyLock(code)
	lock.Lock()
	defer lock.Unlock()
	if rate, ok := p.cached(code); ok {
		return rate, nil
	}

	var lastErr error
	for _, source := range p.sources {
		priceUSD, err := p.fetchPrice(ctx, source)
		if err != nil {
			sourceRequests.WithLabelValues(source.Name, "error").Inc()
			slog.Warn("rate source failed", "source", source.Name, "error", err)
			lastErr = err
			continue
		}
		sourceRequests.WithLabelValues(source.Name, "ok").Inc()

		priceInCurrency := priceUSD
		if code != "USD" {
			multiplier, err := p.getMultiplier(ctx, code)
			if err != nil {
				lastErr = err
				continue
			}
			priceInCurrency = priceUSD * multiplier
		}
		if priceInCurrency <= 0 {
			lastErr = fmt.Errorf("source %s produced non-positive price", source.Name)
			continue
		}

		rate := models.ExchangeRate{
			Currency:    code,
			SatsPerUnit: int64(math.Floor(BaseUnitsPerWhole / priceInCurrency)),
			Source:      source.Name,
			Timestamp:   p.now().UnixMilli(),
		}

		p.mu.Lock()
		p.cache[code] = cachedRate{rate: rate, expiry: p.now().Add(CacheTTL)}
		p.mu.Unlock()

		slog.Debug("rate fetched", "currency", code, "sats_per_unit", rate.SatsPerUnit, "source", rate.Source)
		return rate, nil
	}

	return models.ExchangeRate{}, fmt.Errorf("%w: %v", ErrAllSourcesUnavailable, lastErr)
}

// Convert turns a fiat amount into sats under the given rate. Truncation,
// never rounding up.
func Convert(amountFiat float64, rate models.ExchangeRate) int64 {
	return int64(math.Floor(amountFiat * float64(rate.SatsPerUnit)))
}

// ManualRate constructs a user-entered rate for offline use.
func ManualRate(currency string, satsPerUnit int64, now time.Time) models.ExchangeRate {
	return models.ExchangeRate{
		Currency:    strings.ToUpper(currency),
		SatsPerUnit: satsPerUnit,
		Source:      "Manual Entry",
		Timestamp:   now.UnixMilli(),
	}
}

func (p *Provider) cached(code string) (models.ExchangeRate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[code]
	if !ok || !p.now().Before(entry.expiry) {
		return models.ExchangeRate{}, false
	}
	return entry.rate, true
}

func (p *Provider) keyLock(code string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.inflight[code]
	if !ok {
		lock = &sync.Mutex{}
		p.inflight[code] = lock
	}
	return lock
}

func (p *Provider) fetchPrice(ctx context.Context, source Source) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", source.Name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch from %s: %w", source.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("source %s returned HTTP %d", source.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s response: %w", source.Name, err)
	}
	return source.Parse(body)
}

// getMultiplier returns the USD→currency conversion multiplier, cached for
// CacheTTL, with the static fallback table when the source is unreachable.
func (p *Provider) getMultiplier(ctx context.Context, code string) (float64, error) {
	if code == "USD" {
		return 1.0, nil
	}

	p.mu.Lock()
	entry, ok := p.multipliers[code]
	p.mu.Unlock()
	if ok && p.now().Before(entry.expiry) {
		return entry.value, nil
	}

	multiplier, err := p.fetchMultiplier(ctx, code)
	if err != nil {
		slog.Warn("currency multiplier fetch failed, using fallback table", "currency", code, "error", err)
		fallback, ok := fallbackMultipliers[code]
		if !ok {
			return 0, fmt.Errorf("no multiplier available for %s: %w", code, err)
		}
		return fallback, nil
	}

	p.mu.Lock()
	p.multipliers[code] = cachedMultiplier{value: multiplier, expiry: p.now().Add(CacheTTL)}
	p.mu.Unlock()
	return multiplier, nil
}

func (p *Provider) fetchMultiplier(ctx context.Context, code string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.multiplierURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build multiplier request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch multipliers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("multiplier source returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("malformed multiplier response: %w", err)
	}
	multiplier, ok := payload.Rates[code]
	if !ok || multiplier <= 0 {
		return 0, fmt.Errorf("currency %s not present in multiplier response", code)
	}
	return multiplier, nil
}
