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
	"time"

	"github.com/spf13/viper"
	"github.com/urbantransit/ticket-service/internal/domain"
)

const (
	defaultRateLimitPrefix = "tickets:rate_limit"
	defaultScansPerMinute  = 30
	defaultTimezone        = "Africa/Casablanca"
	defaultEventsExchange  = "transport_events"
	defaultUserEventQueue  = "tickets_user_registered_queue"
	defaultOTelServiceName = "ticket-service"
	storeDriverPostgres    = "postgres"
	storeDriverMemory      = "memory"
)

// Config holds all the configuration variables for the ticket-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	StoreDriver               string `mapstructure:"STORE_DRIVER"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	AutoMigrate               bool   `mapstructure:"AUTO_MIGRATE"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	UserEventQueue            string `mapstructure:"USER_EVENT_QUEUE"`
	JWKSURL                   string `mapstructure:"JWKS_URL"`
	JWTAudience               string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                 string `mapstructure:"JWT_ISSUER"`
	UserServiceURL            string `mapstructure:"USER_SERVICE_URL"`
	UserServiceInternalAPIKey string `mapstructure:"USER_SERVICE_INTERNAL_API_KEY"`
	Timezone                  string `mapstructure:"TIMEZONE"`
	FarePriceSingleRide       int64  `mapstructure:"FARE_PRICE_SINGLE_RIDE"`
	FarePriceDayPass          int64  `mapstructure:"FARE_PRICE_DAY_PASS"`
	FarePriceWeekPass         int64  `mapstructure:"FARE_PRICE_WEEK_PASS"`
	FarePriceMonthPass        int64  `mapstructure:"FARE_PRICE_MONTH_PASS"`
	FareDuplicateCheck        bool   `mapstructure:"FARE_DUPLICATE_CHECK"`
	FareBalanceCheck          bool   `mapstructure:"FARE_BALANCE_CHECK"`
	StubBalanceMinor          int64  `mapstructure:"STUB_BALANCE_MINOR"`
	ScanRateLimitPerMinute    int    `mapstructure:"SCAN_RATE_LIMIT_PER_MINUTE"`
	OTelExporterEndpoint      string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName           string `mapstructure:"OTEL_SERVICE_NAME"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// UsesPostgres reports whether tickets are stored in PostgreSQL.
func (c Config) UsesPostgres() bool {
	return c.StoreDriver == storeDriverPostgres
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("level=warn component=config msg=\"unknown timezone; using UTC\" timezone=%q err=%v", c.Timezone, err)
		return time.UTC
	}
	return loc
}

// FarePrices returns the configured price overrides. Zero means "use the default".
func (c Config) FarePrices() map[domain.FareType]int64 {
	return map[domain.FareType]int64{
		domain.FareSingleRide: c.FarePriceSingleRide,
		domain.FareDayPass:    c.FarePriceDayPass,
		domain.FareWeekPass:   c.FarePriceWeekPass,
		domain.FareMonthPass:  c.FarePriceMonthPass,
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means the router default.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
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
	viper.SetDefault("STORE_DRIVER", storeDriverPostgres)
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("USER_EVENT_QUEUE", defaultUserEventQueue)
	viper.SetDefault("TIMEZONE", defaultTimezone)
	viper.SetDefault("FARE_DUPLICATE_CHECK", false)
	viper.SetDefault("FARE_BALANCE_CHECK", false)
	viper.SetDefault("STUB_BALANCE_MINOR", 100000)
	viper.SetDefault("SCAN_RATE_LIMIT_PER_MINUTE", defaultScansPerMinute)
	viper.SetDefault("OTEL_SERVICE_NAME", defaultOTelServiceName)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TICKET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("USER_EVENT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("USER_SERVICE_URL")
	_ = viper.BindEnv("USER_SERVICE_INTERNAL_API_KEY", "USER_SERVICE_INTERNAL_API_KEY", "INTERNAL_API_KEY")
	_ = viper.BindEnv("TIMEZONE", "TIMEZONE", "TZ")
	_ = viper.BindEnv("FARE_PRICE_SINGLE_RIDE")
	_ = viper.BindEnv("FARE_PRICE_DAY_PASS")
	_ = viper.BindEnv("FARE_PRICE_WEEK_PASS")
	_ = viper.BindEnv("FARE_PRICE_MONTH_PASS")
	_ = viper.BindEnv("FARE_PRICE_SINGLE_RIDE_MAD")
	_ = viper.BindEnv("FARE_PRICE_DAY_PASS_MAD")
	_ = viper.BindEnv("FARE_PRICE_WEEK_PASS_MAD")
	_ = viper.BindEnv("FARE_PRICE_MONTH_PASS_MAD")
	_ = viper.BindEnv("FARE_DUPLICATE_CHECK")
	_ = viper.BindEnv("FARE_BALANCE_CHECK")
	_ = viper.BindEnv("STUB_BALANCE_MINOR")
	_ = viper.BindEnv("SCAN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("OTEL_SERVICE_NAME")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case storeDriverPostgres, storeDriverMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = storeDriverPostgres
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWKSURL = strings.TrimSpace(config.JWKSURL)
	config.UserServiceURL = strings.TrimRight(strings.TrimSpace(config.UserServiceURL), "/")
	config.UserServiceInternalAPIKey = strings.TrimSpace(config.UserServiceInternalAPIKey)
	config.OTelExporterEndpoint = strings.TrimSpace(config.OTelExporterEndpoint)

	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.UserEventQueue = strings.TrimSpace(config.UserEventQueue)
	if config.UserEventQueue == "" {
		config.UserEventQueue = defaultUserEventQueue
	}
	config.Timezone = strings.TrimSpace(config.Timezone)
	if config.Timezone == "" {
		config.Timezone = defaultTimezone
	}
	config.OTelServiceName = strings.TrimSpace(config.OTelServiceName)
	if config.OTelServiceName == "" {
		config.OTelServiceName = defaultOTelServiceName
	}

	// Allow specifying fare prices in whole dirhams via FARE_PRICE_<TYPE>_MAD.
	applyMajorUnitPrice("FARE_PRICE_SINGLE_RIDE_MAD", &config.FarePriceSingleRide)
	applyMajorUnitPrice("FARE_PRICE_DAY_PASS_MAD", &config.FarePriceDayPass)
	applyMajorUnitPrice("FARE_PRICE_WEEK_PASS_MAD", &config.FarePriceWeekPass)
	applyMajorUnitPrice("FARE_PRICE_MONTH_PASS_MAD", &config.FarePriceMonthPass)

	for name, price := range map[string]*int64{
		"FARE_PRICE_SINGLE_RIDE": &config.FarePriceSingleRide,
		"FARE_PRICE_DAY_PASS":    &config.FarePriceDayPass,
		"FARE_PRICE_WEEK_PASS":   &config.FarePriceWeekPass,
		"FARE_PRICE_MONTH_PASS":  &config.FarePriceMonthPass,
	} {
		if *price < 0 {
			log.Printf("level=warn component=config msg=\"negative fare price configured; using default\" key=%s price=%d", name, *price)
			*price = 0
		}
	}

	if config.StubBalanceMinor < 0 {
		log.Printf("level=warn component=config msg=\"negative stub balance configured; coercing to zero\" balance=%d", config.StubBalanceMinor)
		config.StubBalanceMinor = 0
	}
	if config.ScanRateLimitPerMinute <= 0 {
		config.ScanRateLimitPerMinute = defaultScansPerMinute
	}

	return
}

func applyMajorUnitPrice(key string, target *int64) {
	if !viper.IsSet(key) {
		return
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid fare price\" key=%s value=%q err=%v", key, raw, err)
		return
	}
	*target = int64(math.Round(value * 100))
}
