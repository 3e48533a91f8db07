/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables. Monetary values are
// stored in cents; *_KES alias variables accept whole shillings.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix        string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	MpesaBaseURL          string `mapstructure:"MPESA_BASE_URL"`
	MpesaConsumerKey      string `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret   string `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode        string `mapstructure:"MPESA_SHORTCODE"`
	MpesaPassKey          string `mapstructure:"MPESA_PASSKEY"`
	MpesaCallbackURL      string `mapstructure:"MPESA_CALLBACK_URL"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`
	MembershipFeeCents    int64  `mapstructure:"MEMBERSHIP_FEE_CENTS"`
	DailyDepositCents     int64  `mapstructure:"DAILY_DEPOSIT_CENTS"`
	SharesTargetCents     int64  `mapstructure:"SHARES_TARGET_CENTS"`
	WelfareFeeCents       int64  `mapstructure:"WELFARE_FEE_CENTS"`
	DailySavingsFineCents int64  `mapstructure:"DAILY_SAVINGS_FINE_CENTS"`
	SavingsFineSchedule   string `mapstructure:"SAVINGS_FINE_SCHEDULE"`
	PendingSweepSchedule  string `mapstructure:"PENDING_SWEEP_SCHEDULE"`
	PendingRequestTTLMin  int    `mapstructure:"PENDING_REQUEST_TTL_MINUTES"`
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
	viper.SetDefault("REDIS_KEY_PREFIX", "sacco:payments")
	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MEMBERSHIP_FEE_CENTS", 100000)
	viper.SetDefault("DAILY_DEPOSIT_CENTS", 10000)
	viper.SetDefault("SHARES_TARGET_CENTS", 1200000)
	viper.SetDefault("WELFARE_FEE_CENTS", 20000)
	viper.SetDefault("DAILY_SAVINGS_FINE_CENTS", 5000)
	viper.SetDefault("SAVINGS_FINE_SCHEDULE", "0 1 * * *")
	viper.SetDefault("PENDING_SWEEP_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("PENDING_REQUEST_TTL_MINUTES", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENTS_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("MPESA_BASE_URL")
	_ = viper.BindEnv("MPESA_CONSUMER_KEY")
	_ = viper.BindEnv("MPESA_CONSUMER_SECRET")
	_ = viper.BindEnv("MPESA_SHORTCODE")
	_ = viper.BindEnv("MPESA_PASSKEY")
	_ = viper.BindEnv("MPESA_CALLBACK_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENTS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("MEMBERSHIP_FEE_CENTS")
	_ = viper.BindEnv("MEMBERSHIP_FEE_KES")
	_ = viper.BindEnv("DAILY_DEPOSIT_CENTS")
	_ = viper.BindEnv("DAILY_DEPOSIT_KES")
	_ = viper.BindEnv("SHARES_TARGET_CENTS")
	_ = viper.BindEnv("SHARES_TARGET_KES")
	_ = viper.BindEnv("WELFARE_FEE_CENTS")
	_ = viper.BindEnv("WELFARE_FEE_KES")
	_ = viper.BindEnv("DAILY_SAVINGS_FINE_CENTS")
	_ = viper.BindEnv("DAILY_SAVINGS_FINE_KES")
	_ = viper.BindEnv("SAVINGS_FINE_SCHEDULE")
	_ = viper.BindEnv("PENDING_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PENDING_REQUEST_TTL_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENTS_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "sacco:payments"
	}
	config.MpesaBaseURL = strings.TrimRight(strings.TrimSpace(config.MpesaBaseURL), "/")

	// Allow specifying amounts in whole shillings via the *_KES aliases.
	applyShillingAlias("MEMBERSHIP_FEE_KES", &config.MembershipFeeCents)
	applyShillingAlias("DAILY_DEPOSIT_KES", &config.DailyDepositCents)
	applyShillingAlias("SHARES_TARGET_KES", &config.SharesTargetCents)
	applyShillingAlias("WELFARE_FEE_KES", &config.WelfareFeeCents)
	applyShillingAlias("DAILY_SAVINGS_FINE_KES", &config.DailySavingsFineCents)

	coerceNonNegativeAmount("MEMBERSHIP_FEE_CENTS", &config.MembershipFeeCents, 100000)
	coerceNonNegativeAmount("DAILY_DEPOSIT_CENTS", &config.DailyDepositCents, 10000)
	coerceNonNegativeAmount("SHARES_TARGET_CENTS", &config.SharesTargetCents, 1200000)
	coerceNonNegativeAmount("WELFARE_FEE_CENTS", &config.WelfareFeeCents, 20000)
	coerceNonNegativeAmount("DAILY_SAVINGS_FINE_CENTS", &config.DailySavingsFineCents, 5000)

	config.SavingsFineSchedule = strings.TrimSpace(config.SavingsFineSchedule)
	if config.SavingsFineSchedule == "" {
		config.SavingsFineSchedule = "0 1 * * *"
	}
	config.PendingSweepSchedule = strings.TrimSpace(config.PendingSweepSchedule)
	if config.PendingSweepSchedule == "" {
		config.PendingSweepSchedule = "*/15 * * * *"
	}
	if config.PendingRequestTTLMin <= 0 {
		config.PendingRequestTTLMin = 30
	}

	return
}

func applyShillingAlias(key string, target *int64) {
	if !viper.IsSet(key) {
		return
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid shilling amount\" key=%s value=%q err=%v", key, raw, err)
		return
	}
	*target = int64(math.Round(value * 100))
}

func coerceNonNegativeAmount(key string, target *int64, fallback int64) {
	if *target < 0 {
		log.Printf("level=warn component=config msg=\"negative amount configured; using default\" key=%s value=%d default=%d", key, *target, fallback)
		*target = fallback
	}
}
