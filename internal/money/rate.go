package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate is a dimensionless fraction such as a commission rate or a seasonal
// multiplier.
type Rate struct {
	d decimal.Decimal
}

var (
	ZeroRate = Rate{d: decimal.Zero}
	OneRate  = Rate{d: decimal.NewFromInt(1)}
)

func NewRate(d decimal.Decimal) Rate {
	return Rate{d: d.Round(RatePlaces)}
}

func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroRate, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return NewRate(d), nil
}

func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func RateFromFloat(f float64) Rate {
	return NewRate(decimal.NewFromFloat(f))
}

func (r Rate) Decimal() decimal.Decimal { return r.d }

func (r Rate) Mul(o Rate) Rate { return NewRate(r.d.Mul(o.d)) }

func (r Rate) Add(o Rate) Rate { return NewRate(r.d.Add(o.d)) }

// Pow raises the rate to a non-negative integer power.
func (r Rate) Pow(n int) Rate {
	out := OneRate
	for i := 0; i < n; i++ {
		out = out.Mul(r)
	}
	return out
}

func (r Rate) Cmp(o Rate) int { return r.d.Cmp(o.d) }

func (r Rate) Equal(o Rate) bool { return r.d.Equal(o.d) }

func (r Rate) IsPositive() bool { return r.d.IsPositive() }

// InUnitInterval reports whether 0 < r <= 1.
func (r Rate) InUnitInterval() bool {
	return r.d.IsPositive() && r.d.LessThanOrEqual(decimal.NewFromInt(1))
}

func (r Rate) String() string {
	return r.d.StringFixed(4)
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.d.String())
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*r = NewRate(d)
	return nil
}

func (r Rate) Value() (driver.Value, error) {
	return r.d.String(), nil
}

func (r *Rate) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	*r = NewRate(d)
	return nil
}
