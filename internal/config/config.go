// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса заказов.
// Учётные данные PayU задаются только переменными окружения.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	PayUBaseURL      string `env:"PAYU_BASE_URL"`
	PayUClientID     string `env:"PAYU_CLIENT_ID"`
	PayUClientSecret string `env:"PAYU_CLIENT_SECRET"`
	PayUPosID        string `env:"PAYU_POS_ID"`
	PayUSecondKey    string `env:"PAYU_SECOND_KEY"`
}

const (
	defaultRunAddress    = "localhost:8080"
	defaultPublicBaseURL = "http://localhost:8080"
	defaultPayUBaseURL   = "https://secure.snd.payu.com"
)

// Parse считывает конфигурацию из .env-файла (если есть), переменных окружения
// и флагов командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPublicBaseURL := cfg.PublicBaseURL
	envPayUBaseURL := cfg.PayUBaseURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PublicBaseURL, "b", defaultPublicBaseURL, "public base URL for webhook callbacks")
	flag.StringVar(&cfg.PayUBaseURL, "p", defaultPayUBaseURL, "PayU API base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPublicBaseURL != "" {
		cfg.PublicBaseURL = envPublicBaseURL
	}
	if envPayUBaseURL != "" {
		cfg.PayUBaseURL = envPayUBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// PaymentConfigured сообщает, заданы ли все учётные данные PayU.
func (c *Config) PaymentConfigured() bool {
	return c.PayUClientID != "" && c.PayUClientSecret != "" && c.PayUPosID != ""
}
