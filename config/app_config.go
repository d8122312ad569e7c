package config

import (
	"os"
	"time"

	"github.com/Luismorlan/utxo_chain/errors"
	"gopkg.in/yaml.v2"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// This is the global app config for the blockchain.
type AppConfig struct {
	// How many leading zero bits form a valid hash.
	Difficulty int `yaml:"difficulty"`
	// Value minted by every incentive transaction.
	IncentiveReward uint64 `yaml:"incentive_reward"`
	// Max mempool transactions packed into one block, reward excluded.
	TransactionLimit int `yaml:"transaction_limit"`
	// How long a paused miner, or one with an empty mempool, sleeps between polls.
	PausePollInterval time.Duration `yaml:"pause_poll_interval"`
	// Number of miner workers started by the node.
	Miners int `yaml:"miners"`
	LogLevel string `yaml:"log_level"`
	// Ledger backend, "memory" or "sqlite".
	Store string `yaml:"store"`
	// Empty means a shared in-memory sqlite database.
	SQLitePath string `yaml:"sqlite_path"`
}

func NewDefaultAppConfig() AppConfig {
	return AppConfig{
		Difficulty:        12,
		IncentiveReward:   50,
		TransactionLimit:  100,
		PausePollInterval: 500 * time.Millisecond,
		Miners:            2,
		LogLevel:          "INFO",
		Store:             StoreMemory,
	}
}

// LoadAppConfig reads a yaml file on top of the defaults.
func LoadAppConfig(path string) (AppConfig, error) {
	c := NewDefaultAppConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.NewConfigurationError("failed to read config file %s", path, err)
	}

	if err = yaml.Unmarshal(data, &c); err != nil {
		return c, errors.NewConfigurationError("failed to parse config file %s", path, err)
	}

	return c, c.Validate()
}

func (c AppConfig) Validate() error {
	if c.Difficulty < 0 || c.Difficulty > 255 {
		return errors.NewConfigurationError("difficulty must be within [0, 255], got %d", c.Difficulty)
	}

	if c.IncentiveReward == 0 {
		return errors.NewConfigurationError("incentive_reward must be positive")
	}

	if c.TransactionLimit <= 0 {
		return errors.NewConfigurationError("transaction_limit must be positive, got %d", c.TransactionLimit)
	}

	if c.PausePollInterval <= 0 {
		return errors.NewConfigurationError("pause_poll_interval must be positive")
	}

	if c.Miners < 0 {
		return errors.NewConfigurationError("miners must not be negative, got %d", c.Miners)
	}

	if c.Store != StoreMemory && c.Store != StoreSQLite {
		return errors.NewConfigurationError("unknown store %q", c.Store)
	}

	return nil
}
