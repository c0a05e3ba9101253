// Package currency converts amounts between currencies using a snapshot of
// exchange rates.
//
// A Table holds, for every known currency, the value of one unit of that
// currency expressed in the table's base currency. Converting an amount from
// A to B multiplies by rate[A] and divides by rate[B]; the result is only
// rounded when it becomes a core.Money again.
package currency

import (
	"time"

	"github.com/shopspring/decimal"

	"conti/internal/core"
)

// Table is an immutable snapshot of exchange rates.
type Table struct {
	Base      core.Currency
	Rates     map[core.Currency]decimal.Decimal
	FetchedAt time.Time
}

// NewTable copies rates into a new snapshot. The base currency always has
// rate one.
func NewTable(base core.Currency, rates map[core.Currency]decimal.Decimal, fetchedAt time.Time) Table {
	cp := make(map[core.Currency]decimal.Decimal, len(rates)+1)
	for code, rate := range rates {
		cp[code] = rate
	}
	cp[base] = decimal.NewFromInt(1)
	return Table{Base: base, Rates: cp, FetchedAt: fetchedAt}
}

// Rate returns the value of one unit of c in the base currency.
func (t Table) Rate(c core.Currency) (decimal.Decimal, bool) {
	r, ok := t.Rates[c]
	if !ok || r.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return r, true
}

// Has reports whether every code is convertible with t.
func (t Table) Has(codes ...core.Currency) bool {
	for _, c := range codes {
		if _, ok := t.Rate(c); !ok {
			return false
		}
	}
	return true
}

// Convert re-expresses amount from one currency in another. The identity
// conversion returns amount unchanged without consulting the table.
func Convert(amount decimal.Decimal, from, to core.Currency, table Table) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rf, ok := table.Rate(from)
	if !ok {
		return decimal.Decimal{}, core.RateUnavailable(from)
	}
	rt, ok := table.Rate(to)
	if !ok {
		return decimal.Decimal{}, core.RateUnavailable(to)
	}
	return amount.Mul(rf).Div(rt), nil
}

// ConvertMoney converts m into to and rounds half away from zero to the
// minor unit of to.
func ConvertMoney(m core.Money, to core.Currency, table Table) (core.Money, error) {
	if m.Currency == to {
		return m, nil
	}
	d, err := Convert(m.Decimal(), m.Currency, to, table)
	if err != nil {
		return core.Money{}, err
	}
	return core.MoneyFromDecimal(d, to), nil
}
