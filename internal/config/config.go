// Package config содержит логику чтения конфигурации сервиса ордермарт.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса ордермарт.
// Структура создаётся один раз при старте и передаётся компонентам явно.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	GeocoderAddress string `env:"GEOCODER_ADDRESS"`
	TextGenAddress  string `env:"TEXTGEN_ADDRESS"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM"`
	OwnerEmail   string `env:"OWNER_EMAIL"`

	TaxRatePercent float64 `env:"TAX_RATE_PERCENT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGeocoderAddress := cfg.GeocoderAddress
	envTextGenAddress := cfg.TextGenAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GeocoderAddress, "g", "", "geocoder service address")
	flag.StringVar(&cfg.TextGenAddress, "t", "", "text generation service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGeocoderAddress != "" {
		cfg.GeocoderAddress = envGeocoderAddress
	}
	if envTextGenAddress != "" {
		cfg.TextGenAddress = envTextGenAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.TaxRatePercent == 0 {
		cfg.TaxRatePercent = 30.0
	}

	return cfg, nil
}
