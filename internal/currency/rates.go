package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"conti/internal/cache"
	"conti/internal/core"
)

// Provider supplies exchange-rate snapshots.
type Provider interface {
	Rates(ctx context.Context) (Table, error)
}

// quotePrecision is the number of decimal places kept when inverting a
// quote into a rate.
const quotePrecision = 18

// FromQuotes builds a table from quotes in the "units of X per one base"
// form that rate APIs publish.
func FromQuotes(base core.Currency, quotes map[core.Currency]decimal.Decimal, fetchedAt time.Time) Table {
	one := decimal.NewFromInt(1)
	rates := make(map[core.Currency]decimal.Decimal, len(quotes))
	for code, q := range quotes {
		if q.Sign() <= 0 {
			continue
		}
		rates[code] = one.DivRound(q, quotePrecision)
	}
	return NewTable(base, rates, fetchedAt)
}

// StaticProvider always returns the same table.
type StaticProvider struct {
	table Table
}

func NewStaticProvider(t Table) *StaticProvider {
	return &StaticProvider{table: t}
}

func (p *StaticProvider) Rates(ctx context.Context) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	return p.table, nil
}

// ParseStaticQuotes parses "USD=1.08,GBP=0.85" into a table based on base.
// Each value is the number of units of the code per one unit of base.
func ParseStaticQuotes(base, list string) (Table, error) {
	baseCode, err := core.ParseCurrency(base)
	if err != nil {
		return Table{}, fmt.Errorf("static rates base: %w", err)
	}
	quotes := make(map[core.Currency]decimal.Decimal)
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Table{}, fmt.Errorf("static rate %q: expected CODE=VALUE", pair)
		}
		c, err := core.ParseCurrency(code)
		if err != nil {
			return Table{}, fmt.Errorf("static rate %q: %w", pair, err)
		}
		q, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || q.Sign() <= 0 {
			return Table{}, fmt.Errorf("static rate %q: value must be a positive number", pair)
		}
		quotes[c] = q
	}
	return FromQuotes(baseCode, quotes, time.Time{}), nil
}

// CachedProvider keeps the last snapshot of another provider for a TTL.
// Concurrent refreshes collapse into one upstream call, which runs detached
// from any single caller and is bounded by FetchTimeout.
type CachedProvider struct {
	next  Provider
	cache *cache.LRUCache[Table]
	group singleflight.Group

	// FetchTimeout bounds the shared upstream call (default: 30s)
	FetchTimeout time.Duration
}

const cachedTableKey = "rates"

func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:         next,
		cache:        cache.NewLRUCache[Table](1, ttl),
		FetchTimeout: 30 * time.Second,
	}
}

func (p *CachedProvider) Rates(ctx context.Context) (Table, error) {
	if t, ok := p.cache.Get(cachedTableKey); ok {
		return t, nil
	}
	ch := p.group.DoChan(cachedTableKey, func() (any, error) {
		if t, ok := p.cache.Get(cachedTableKey); ok {
			return t, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.FetchTimeout)
		defer cancel()
		t, err := p.next.Rates(fetchCtx)
		if err != nil {
			return nil, err
		}
		p.cache.Set(cachedTableKey, t)
		return t, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Table{}, res.Err
		}
		return res.Val.(Table), nil
	case <-ctx.Done():
		return Table{}, ctx.Err()
	}
}

// Invalidate drops the cached snapshot.
func (p *CachedProvider) Invalidate() {
	p.cache.Delete(cachedTableKey)
}
