// Package rules holds the commission rule table: per-category base and
// platform rates plus sparse monthly multipliers. A Table is immutable once
// built and is injected into the commission calculator.
package rules

import (
	"fmt"
	"strings"

	"github.com/ofair/referrals/internal/money"
)

// DefaultCategory is used for any category the table does not know.
const DefaultCategory = "general"

type Rates struct {
	Base     money.Rate
	Platform money.Rate
}

type Table struct {
	rates    map[string]Rates
	seasonal map[string]map[int]money.Rate
}

// New validates and copies the given rates and multipliers. The default
// category must be present.
func New(rates map[string]Rates, seasonal map[string]map[int]money.Rate) (*Table, error) {
	t := &Table{
		rates:    make(map[string]Rates, len(rates)),
		seasonal: make(map[string]map[int]money.Rate, len(seasonal)),
	}
	for cat, r := range rates {
		if r.Base.Cmp(money.ZeroRate) < 0 || r.Base.Cmp(money.OneRate) > 0 {
			return nil, fmt.Errorf("category %q: base rate %s outside [0,1]", cat, r.Base)
		}
		if r.Platform.Cmp(money.ZeroRate) < 0 || r.Platform.Cmp(money.OneRate) > 0 {
			return nil, fmt.Errorf("category %q: platform rate %s outside [0,1]", cat, r.Platform)
		}
		t.rates[normalize(cat)] = r
	}
	if _, ok := t.rates[DefaultCategory]; !ok {
		return nil, fmt.Errorf("missing %q category", DefaultCategory)
	}
	for cat, months := range seasonal {
		m := make(map[int]money.Rate, len(months))
		for month, mult := range months {
			if month < 1 || month > 12 {
				return nil, fmt.Errorf("category %q: month %d outside 1..12", cat, month)
			}
			if !mult.IsPositive() {
				return nil, fmt.Errorf("category %q: multiplier for month %d must be positive", cat, month)
			}
			m[month] = mult
		}
		t.seasonal[normalize(cat)] = m
	}
	return t, nil
}

func MustNew(rates map[string]Rates, seasonal map[string]map[int]money.Rate) *Table {
	t, err := New(rates, seasonal)
	if err != nil {
		panic(err)
	}
	return t
}

// Default returns the marketplace's standard rule table.
func Default() *Table {
	r := func(base, platform string) Rates {
		return Rates{Base: money.MustParseRate(base), Platform: money.MustParseRate(platform)}
	}
	m := money.MustParseRate
	return MustNew(
		map[string]Rates{
			DefaultCategory: r("0.05", "0.05"),
			"renovation":    r("0.10", "0.10"),
			"plumbing":      r("0.08", "0.07"),
			"electrical":    r("0.08", "0.07"),
			"cleaning":      r("0.06", "0.05"),
			"moving":        r("0.07", "0.06"),
			"gardening":     r("0.06", "0.05"),
		},
		map[string]map[int]money.Rate{
			"renovation": {4: m("1.3"), 5: m("1.2"), 8: m("0.9")},
			"gardening":  {3: m("1.2"), 4: m("1.25"), 11: m("0.8")},
			"moving":     {7: m("1.15"), 8: m("1.15")},
			"cleaning":   {3: m("1.1"), 9: m("1.1")},
		},
	)
}

// Rates never fails: unknown categories get the general rates.
func (t *Table) Rates(category string) Rates {
	if r, ok := t.rates[normalize(category)]; ok {
		return r
	}
	return t.rates[DefaultCategory]
}

// SeasonalMultiplier returns 1 when no adjustment is defined.
func (t *Table) SeasonalMultiplier(category string, month int) money.Rate {
	if m, ok := t.seasonal[normalize(category)][month]; ok {
		return m
	}
	return money.OneRate
}

// Categories lists the configured categories.
func (t *Table) Categories() []string {
	out := make([]string, 0, len(t.rates))
	for c := range t.rates {
		out = append(out, c)
	}
	return out
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
