package config_test

import (
	"testing"

	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("DB_SOURCE is required", func(t *testing.T) {
		t.Setenv("DB_SOURCE", "")
		_, err := config.Load()
		require.Error(t, err)
	})

	t.Run("Defaults apply", func(t *testing.T) {
		t.Setenv("DB_SOURCE", "postgres://localhost/referrals")
		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 4, cfg.Commission.MaxChainDepth)
		assert.Equal(t, 4, cfg.Commission.MaxCommissionLevels)
		assert.True(t, cfg.Commission.LevelDecay.Equal(money.OneRate))
		assert.False(t, cfg.Commission.StrictTotals)
		assert.Equal(t, 3, cfg.ConflictRetryAttempts)
	})

	t.Run("Overrides are parsed", func(t *testing.T) {
		t.Setenv("DB_SOURCE", "postgres://localhost/referrals")
		t.Setenv("MAX_COMMISSION_LEVELS", "2")
		t.Setenv("COMMISSION_LEVEL_DECAY", "0.5")
		t.Setenv("STRICT_COMMISSION_TOTALS", "true")
		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Commission.MaxCommissionLevels)
		assert.True(t, cfg.Commission.LevelDecay.Equal(money.MustParseRate("0.5")))
		assert.True(t, cfg.Commission.StrictTotals)
	})

	t.Run("Bad numbers fail", func(t *testing.T) {
		t.Setenv("DB_SOURCE", "postgres://localhost/referrals")
		t.Setenv("MAX_CHAIN_DEPTH", "deep")
		_, err := config.Load()
		require.Error(t, err)
	})

	t.Run("Decay outside (0,1] fails", func(t *testing.T) {
		t.Setenv("DB_SOURCE", "postgres://localhost/referrals")
		t.Setenv("COMMISSION_LEVEL_DECAY", "1.5")
		_, err := config.Load()
		require.Error(t, err)
	})
}
