package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/ofair/referrals/internal/money"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LeadsServiceURL string
	RulesFile       string

	Commission CommissionConfig

	QueueMaxAttempts      int
	ConflictRetryAttempts int
}

// CommissionConfig drives the commission calculator.
type CommissionConfig struct {
	MaxChainDepth       int
	MaxCommissionLevels int
	LevelDecay          money.Rate
	MaxAllowedRate      money.Rate
	StrictTotals        bool
	Seasonal            bool
}

func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		MaxChainDepth:       4,
		MaxCommissionLevels: 4,
		LevelDecay:          money.OneRate,
		MaxAllowedRate:      money.OneRate,
		StrictTotals:        false,
		Seasonal:            false,
	}
}

// Load reads the environment, after loading a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		DBSource:        dbSource,
		Port:            port,
		Env:             env,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		LeadsServiceURL: os.Getenv("LEADS_SERVICE_URL"),
		RulesFile:       os.Getenv("COMMISSION_RULES_FILE"),
		Commission:      DefaultCommissionConfig(),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.QueueMaxAttempts, err = intEnv("QUEUE_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ConflictRetryAttempts, err = intEnv("CONFLICT_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	c := &cfg.Commission
	if c.MaxChainDepth, err = intEnv("MAX_CHAIN_DEPTH", c.MaxChainDepth); err != nil {
		return nil, err
	}
	if c.MaxCommissionLevels, err = intEnv("MAX_COMMISSION_LEVELS", c.MaxCommissionLevels); err != nil {
		return nil, err
	}
	if c.LevelDecay, err = rateEnv("COMMISSION_LEVEL_DECAY", c.LevelDecay); err != nil {
		return nil, err
	}
	if c.MaxAllowedRate, err = rateEnv("MAX_ALLOWED_RATE", c.MaxAllowedRate); err != nil {
		return nil, err
	}
	if c.StrictTotals, err = boolEnv("STRICT_COMMISSION_TOTALS", c.StrictTotals); err != nil {
		return nil, err
	}
	if c.Seasonal, err = boolEnv("SEASONAL_ADJUSTMENT", c.Seasonal); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Commission.MaxChainDepth < 1 {
		return fmt.Errorf("MAX_CHAIN_DEPTH must be at least 1")
	}
	if c.Commission.MaxCommissionLevels < 1 {
		return fmt.Errorf("MAX_COMMISSION_LEVELS must be at least 1")
	}
	if !c.Commission.LevelDecay.InUnitInterval() {
		return fmt.Errorf("COMMISSION_LEVEL_DECAY must be in (0,1]")
	}
	if !c.Commission.MaxAllowedRate.IsPositive() {
		return fmt.Errorf("MAX_ALLOWED_RATE must be positive")
	}
	if c.QueueMaxAttempts < 1 || c.ConflictRetryAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS and CONFLICT_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func rateEnv(key string, def money.Rate) (money.Rate, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	r, err := money.ParseRate(v)
	if err != nil {
		return money.ZeroRate, fmt.Errorf("%s: %w", key, err)
	}
	return r, nil
}
