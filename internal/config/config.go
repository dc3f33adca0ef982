// Package config содержит логику чтения конфигурации сервиса studiomarket.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса studiomarket.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`
	OCRAddress  string `env:"OCR_ADDRESS"`

	TelegramToken string  `env:"TELEGRAM_TOKEN"`
	AdminChatIDs  []int64 `env:"ADMIN_CHAT_IDS" envSeparator:","`
	AdminToken    string  `env:"ADMIN_TOKEN"`

	// Параметры автоматической проверки чеков.
	RecipientPatterns []string `env:"RECIPIENT_PATTERNS" envSeparator:";" envDefault:"Светлана\\s*Александровна\\s*Л;Светлана\\s*Л"`
	PhoneSuffix       string   `env:"PHONE_SUFFIX" envDefault:"8645"`

	// Минимальная длина отреза в сотых долях метра (10 = 0.10 м).
	MinCutHundredths int64 `env:"MIN_CUT" envDefault:"10"`

	// Время ежедневной очистки неоплаченных корзин.
	SweepHour   int `env:"SWEEP_HOUR" envDefault:"21"`
	SweepMinute int `env:"SWEEP_MINUTE" envDefault:"0"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envOCRAddress := cfg.OCRAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "localhost:6379", "redis address")
	flag.StringVar(&cfg.OCRAddress, "o", "", "receipt text extraction service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envOCRAddress != "" {
		cfg.OCRAddress = envOCRAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.SweepHour < 0 || cfg.SweepHour > 23 {
		return nil, fmt.Errorf("sweep hour out of range: %d", cfg.SweepHour)
	}
	if cfg.SweepMinute < 0 || cfg.SweepMinute > 59 {
		return nil, fmt.Errorf("sweep minute out of range: %d", cfg.SweepMinute)
	}
	if cfg.MinCutHundredths < 0 {
		return nil, fmt.Errorf("minimal cut length must be non-negative: %d", cfg.MinCutHundredths)
	}

	return cfg, nil
}
