package currency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"conti/internal/core"
)

const maxRatesBody = 1 << 20

// HTTPConfig describes where a JSON rate feed lives and how to read it.
type HTTPConfig struct {
	URL string
	// BasePath and RatesPath are gjson paths to the base currency code and
	// to the object of per-currency quotes.
	BasePath  string
	RatesPath string

	Timeout         time.Duration
	MaxTries        uint
	InitialInterval time.Duration
}

// HTTPProvider fetches quotes from a JSON API such as open.er-api.com.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	now    func() time.Time
}

// NewHTTPProvider builds a provider. A nil client gets an instrumented
// default with the configured timeout.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client) *HTTPProvider {
	if cfg.BasePath == "" {
		cfg.BasePath = "base_code"
	}
	if cfg.RatesPath == "" {
		cfg.RatesPath = "rates"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPProvider{cfg: cfg, client: client, now: time.Now}
}

func (p *HTTPProvider) Rates(ctx context.Context) (Table, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval

	table, err := backoff.Retry(ctx, func() (Table, error) {
		return p.fetch(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Exchange rate fetch failed, retrying",
				"url", p.cfg.URL,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		return Table{}, &core.Error{
			Kind:    core.KindRate,
			Code:    core.ErrRateUnavailable.Code,
			Message: "fetch exchange rates",
			Err:     err,
		}
	}
	return table, nil
}

func (p *HTTPProvider) fetch(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return Table{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Table{}, backoff.Permanent(err)
		}
		return Table{}, fmt.Errorf("get rates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRatesBody))
	if err != nil {
		return Table{}, fmt.Errorf("read rates: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Table{}, fmt.Errorf("rates feed returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Table{}, backoff.Permanent(fmt.Errorf("rates feed returned %d", resp.StatusCode))
	}

	table, err := ParseQuotesJSON(body, p.cfg.BasePath, p.cfg.RatesPath, p.now())
	if err != nil {
		return Table{}, backoff.Permanent(err)
	}
	return table, nil
}

// ParseQuotesJSON reads a base code and a quote object from body. Entries
// whose code is not a recognised ISO 4217 currency, or whose value is not a
// positive number, are ignored.
func ParseQuotesJSON(body []byte, basePath, ratesPath string, fetchedAt time.Time) (Table, error) {
	if !gjson.ValidBytes(body) {
		return Table{}, errors.New("rates feed returned invalid JSON")
	}
	base, err := core.ParseCurrency(gjson.GetBytes(body, basePath).String())
	if err != nil {
		return Table{}, fmt.Errorf("rates feed base currency: %w", err)
	}
	obj := gjson.GetBytes(body, ratesPath)
	if !obj.IsObject() {
		return Table{}, fmt.Errorf("rates feed has no object at %q", ratesPath)
	}

	quotes := make(map[core.Currency]decimal.Decimal)
	obj.ForEach(func(key, value gjson.Result) bool {
		code, err := core.ParseCurrency(key.String())
		if err != nil {
			return true
		}
		if value.Type != gjson.Number && value.Type != gjson.String {
			return true
		}
		q, err := decimal.NewFromString(value.String())
		if err != nil || q.Sign() <= 0 {
			return true
		}
		quotes[code] = q
		return true
	})
	if len(quotes) == 0 {
		return Table{}, errors.New("rates feed contained no usable quotes")
	}
	return FromQuotes(base, quotes, fetchedAt), nil
}
