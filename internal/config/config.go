/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (plus an
 * optional .env file), providing a centralized and straightforward way to
 * manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Withdrawal settlement modes.
const (
	SettlementModeSync  = "sync"
	SettlementModeAsync = "async"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	StoreBackend         string `mapstructure:"STORE_BACKEND"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange   string `mapstructure:"SETTLEMENT_EXCHANGE"`
	SettlementEventQueue string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	WithdrawalSettlementMode string `mapstructure:"WITHDRAWAL_SETTLEMENT_MODE"`
	TransferRateLimitPerMin  int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	LockTimeoutMS            int    `mapstructure:"LOCK_TIMEOUT_MS"`
	AccountNumberLength      int    `mapstructure:"ACCOUNT_NUMBER_LENGTH"`
}

// AsyncWithdrawals reports whether withdrawals settle through the bank-rail
// consumer instead of synchronously.
func (c Config) AsyncWithdrawals() bool {
	return strings.EqualFold(strings.TrimSpace(c.WithdrawalSettlementMode), SettlementModeAsync)
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", "postgres")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("SETTLEMENT_EXCHANGE", "bank.events")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "ledger_service.settlement_updates")
	viper.SetDefault("WITHDRAWAL_SETTLEMENT_MODE", SettlementModeSync)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("LOCK_TIMEOUT_MS", 3000)
	viper.SetDefault("ACCOUNT_NUMBER_LENGTH", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "LEDGER_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("WITHDRAWAL_SETTLEMENT_MODE")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("ACCOUNT_NUMBER_LENGTH")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	return config, err
}
