package rules

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/ofair/referrals/internal/money"
)

// fileFormat mirrors a rules file such as:
//
//	[categories.general]
//	base = "0.05"
//	platform = "0.05"
//
//	[seasonal.renovation]
//	4 = "1.3"
type fileFormat struct {
	Categories map[string]struct {
		Base     string `toml:"base"`
		Platform string `toml:"platform"`
	} `toml:"categories"`
	Seasonal map[string]map[string]string `toml:"seasonal"`
}

// LoadFile reads a TOML rule table.
func LoadFile(path string) (*Table, error) {
	var f fileFormat
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("could not decode rules file %s: %w", path, err)
	}
	return fromFile(f)
}

// Parse reads a TOML rule table from a string.
func Parse(data string) (*Table, error) {
	var f fileFormat
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("could not decode rules: %w", err)
	}
	return fromFile(f)
}

func fromFile(f fileFormat) (*Table, error) {
	rates := make(map[string]Rates, len(f.Categories))
	for cat, c := range f.Categories {
		base, err := money.ParseRate(c.Base)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", cat, err)
		}
		platform, err := money.ParseRate(c.Platform)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", cat, err)
		}
		rates[cat] = Rates{Base: base, Platform: platform}
	}

	seasonal := make(map[string]map[int]money.Rate, len(f.Seasonal))
	for cat, months := range f.Seasonal {
		seasonal[cat] = make(map[int]money.Rate, len(months))
		for k, v := range months {
			month, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("category %q: invalid month %q", cat, k)
			}
			mult, err := money.ParseRate(v)
			if err != nil {
				return nil, fmt.Errorf("category %q month %d: %w", cat, month, err)
			}
			seasonal[cat][month] = mult
		}
	}
	return New(rates, seasonal)
}
