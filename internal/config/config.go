// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	// GatewayMode выбирает режим платёжного шлюза: mock или live.
	GatewayMode       string `env:"GATEWAY_MODE"`
	GatewayAddress    string `env:"GATEWAY_ADDRESS"`
	GatewayMerchantID string `env:"GATEWAY_MERCHANT_ID"`
	GatewaySecretKey  string `env:"GATEWAY_SECRET_KEY"`

	StaffToken string `env:"STAFF_TOKEN"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`

	// Значения по умолчанию для расчёта доставки, пока строка настроек
	// недоступна в БД. Указываются в минорных единицах валюты.
	DeliveryCostCents          int64 `env:"DELIVERY_COST_CENTS"`
	FreeDeliveryThresholdCents int64 `env:"FREE_DELIVERY_THRESHOLD_CENTS"`
}

// GatewayLive сообщает, сконфигурирован ли боевой режим шлюза.
func (c *Config) GatewayLive() bool {
	return c.GatewayMode == "live"
}

// Parse считывает конфигурацию из .env-файла, флагов командной строки
// и переменных окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.GatewayMode == "" {
		cfg.GatewayMode = "mock"
	}
	if cfg.GatewayMode != "mock" && cfg.GatewayMode != "live" {
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "order-events"
	}
	if cfg.DeliveryCostCents == 0 {
		cfg.DeliveryCostCents = 500
	}
	if cfg.FreeDeliveryThresholdCents == 0 {
		cfg.FreeDeliveryThresholdCents = 10000
	}

	return cfg, nil
}
