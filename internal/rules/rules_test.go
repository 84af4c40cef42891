package rules_test

import (
	"testing"

	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleTable(t *testing.T) {
	t.Run("Known category returns its rates", testKnownCategory)
	t.Run("Unknown category falls back to general", testUnknownCategory)
	t.Run("Missing seasonal adjustment is 1", testSeasonalDefault)
	t.Run("Invalid tables are rejected", testInvalidTables)
	t.Run("Tables load from TOML", testParseTOML)
}

func testKnownCategory(t *testing.T) {
	tbl := rules.Default()
	r := tbl.Rates("renovation")
	assert.True(t, r.Base.Equal(money.MustParseRate("0.10")))
	assert.True(t, r.Platform.Equal(money.MustParseRate("0.10")))

	r = tbl.Rates("  Renovation ")
	assert.True(t, r.Base.Equal(money.MustParseRate("0.10")))
}

func testUnknownCategory(t *testing.T) {
	tbl := rules.Default()
	for _, c := range []string{"", "space-travel", "unknown"} {
		r := tbl.Rates(c)
		assert.True(t, r.Base.Equal(money.MustParseRate("0.05")), c)
		assert.True(t, r.Platform.Equal(money.MustParseRate("0.05")), c)
	}
}

func testSeasonalDefault(t *testing.T) {
	tbl := rules.Default()
	assert.True(t, tbl.SeasonalMultiplier("renovation", 4).Equal(money.MustParseRate("1.3")))
	assert.True(t, tbl.SeasonalMultiplier("renovation", 1).Equal(money.OneRate))
	assert.True(t, tbl.SeasonalMultiplier("nothing", 4).Equal(money.OneRate))
}

func testInvalidTables(t *testing.T) {
	_, err := rules.New(map[string]rules.Rates{
		"plumbing": {Base: money.MustParseRate("0.1"), Platform: money.MustParseRate("0.1")},
	}, nil)
	require.Error(t, err)

	_, err = rules.New(map[string]rules.Rates{
		"general": {Base: money.MustParseRate("1.5"), Platform: money.MustParseRate("0.1")},
	}, nil)
	require.Error(t, err)

	_, err = rules.New(map[string]rules.Rates{
		"general": {Base: money.MustParseRate("0.1"), Platform: money.MustParseRate("0.1")},
	}, map[string]map[int]money.Rate{"general": {13: money.OneRate}})
	require.Error(t, err)
}

func testParseTOML(t *testing.T) {
	tbl, err := rules.Parse(`
[categories.general]
base = "0.05"
platform = "0.04"

[categories.roofing]
base = "0.12"
platform = "0.08"

[seasonal.roofing]
6 = "1.5"
`)
	require.NoError(t, err)
	assert.True(t, tbl.Rates("roofing").Base.Equal(money.MustParseRate("0.12")))
	assert.True(t, tbl.Rates("other").Platform.Equal(money.MustParseRate("0.04")))
	assert.True(t, tbl.SeasonalMultiplier("roofing", 6).Equal(money.MustParseRate("1.5")))

	_, err = rules.Parse(`
[categories.general]
base = "0.05"
platform = "0.05"

[seasonal.general]
june = "1.1"
`)
	require.Error(t, err)
}
