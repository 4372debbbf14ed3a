// Package config loads the server configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"math/big"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"raffle-oracle/internal/models"
)

// Config is the typed server configuration. Amounts are in wei/juels.
type Config struct {
	Port              string
	DatabaseURL       string
	DatabaseAuthToken string

	TelegramToken    string
	AdminChatID      int64
	AdminPassword    string
	AdminTelegramIDs []int64

	RaffleAddress        models.Address
	EntranceFee          *big.Int
	Interval             time.Duration
	CallbackGasLimit     uint32
	KeyHash              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	DrawTimeout          time.Duration
	KeeperInterval       time.Duration

	OracleBaseFee      *big.Int
	OracleGasPriceLink *big.Int
	OracleFundAmount   *big.Int
	AutoFulfill        bool
	FulfillDelay       time.Duration
	OracleSalt         string

	LogFile string
	Verbose bool
}

// rawEnv holds env values before amounts are parsed.
type rawEnv struct {
	Port              string  `env:"PORT"                envDefault:"8080"`
	DatabaseURL       string  `env:"DATABASE_URL"        envDefault:"file:raffle.db"`
	DatabaseAuthToken string  `env:"DATABASE_AUTH_TOKEN"`
	TelegramToken     string  `env:"TELEGRAM_TOKEN"`
	AdminChatID       int64   `env:"ADMIN_CHAT_ID"`
	AdminPassword     string  `env:"ADMIN_PASSWORD"`
	AdminTelegramIDs  []int64 `env:"ADMIN_TELEGRAM_IDS"  envSeparator:","`

	RaffleAddress        string        `env:"RAFFLE_ADDRESS"               envDefault:"raffle"`
	EntranceFee          string        `env:"RAFFLE_ENTRANCE_FEE"          envDefault:"0.01"`
	Interval             time.Duration `env:"RAFFLE_INTERVAL"              envDefault:"30s"`
	CallbackGasLimit     uint32        `env:"RAFFLE_CALLBACK_GAS_LIMIT"    envDefault:"500000"`
	KeyHash              string        `env:"RAFFLE_KEY_HASH"              envDefault:"0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"`
	SubscriptionID       uint64        `env:"RAFFLE_SUBSCRIPTION_ID"`
	RequestConfirmations uint16        `env:"RAFFLE_REQUEST_CONFIRMATIONS" envDefault:"3"`
	DrawTimeout          time.Duration `env:"RAFFLE_DRAW_TIMEOUT"          envDefault:"0s"`
	KeeperInterval       time.Duration `env:"KEEPER_INTERVAL"              envDefault:"5s"`

	OracleBaseFee      string        `env:"ORACLE_BASE_FEE"       envDefault:"0.25"`
	OracleGasPriceLink string        `env:"ORACLE_GAS_PRICE_LINK" envDefault:"1000000000"`
	OracleFundAmount   string        `env:"ORACLE_FUND_AMOUNT"    envDefault:"10"`
	AutoFulfill        bool          `env:"ORACLE_AUTO_FULFILL"   envDefault:"true"`
	FulfillDelay       time.Duration `env:"ORACLE_FULFILL_DELAY"  envDefault:"2s"`
	OracleSalt         string        `env:"ORACLE_SALT"`

	LogFile string `env:"LOG_FILE"`
	Verbose bool   `env:"VERBOSE"`
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}

	cfg := Config{
		Port:                 raw.Port,
		DatabaseURL:          raw.DatabaseURL,
		DatabaseAuthToken:    raw.DatabaseAuthToken,
		TelegramToken:        raw.TelegramToken,
		AdminChatID:          raw.AdminChatID,
		AdminPassword:        raw.AdminPassword,
		AdminTelegramIDs:     raw.AdminTelegramIDs,
		RaffleAddress:        models.Address(raw.RaffleAddress),
		Interval:             raw.Interval,
		CallbackGasLimit:     raw.CallbackGasLimit,
		KeyHash:              raw.KeyHash,
		SubscriptionID:       raw.SubscriptionID,
		RequestConfirmations: raw.RequestConfirmations,
		DrawTimeout:          raw.DrawTimeout,
		KeeperInterval:       raw.KeeperInterval,
		AutoFulfill:          raw.AutoFulfill,
		FulfillDelay:         raw.FulfillDelay,
		OracleSalt:           raw.OracleSalt,
		LogFile:              raw.LogFile,
		Verbose:              raw.Verbose,
	}

	var err error
	if cfg.EntranceFee, err = models.ParseUnits(raw.EntranceFee); err != nil {
		return Config{}, errors.Wrap(err, "RAFFLE_ENTRANCE_FEE")
	}
	if cfg.OracleBaseFee, err = models.ParseUnits(raw.OracleBaseFee); err != nil {
		return Config{}, errors.Wrap(err, "ORACLE_BASE_FEE")
	}
	if cfg.OracleGasPriceLink, err = models.ParseWei(raw.OracleGasPriceLink); err != nil {
		return Config{}, errors.Wrap(err, "ORACLE_GAS_PRICE_LINK")
	}
	if cfg.OracleFundAmount, err = models.ParseUnits(raw.OracleFundAmount); err != nil {
		return Config{}, errors.Wrap(err, "ORACLE_FUND_AMOUNT")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.EntranceFee == nil || c.EntranceFee.Sign() <= 0:
		return errors.New("RAFFLE_ENTRANCE_FEE must be positive")
	case c.Interval <= 0:
		return errors.New("RAFFLE_INTERVAL must be positive")
	case c.CallbackGasLimit == 0:
		return errors.New("RAFFLE_CALLBACK_GAS_LIMIT must be positive")
	case c.RaffleAddress == "":
		return errors.New("RAFFLE_ADDRESS must be set")
	case c.DrawTimeout < 0 || c.KeeperInterval < 0 || c.FulfillDelay < 0:
		return errors.New("durations must not be negative")
	}
	return nil
}
