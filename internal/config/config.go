// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	SessionCookie           `yaml:"session_cookie"`
	Stripe                  `yaml:"stripe"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
	SweepInterval           time.Duration `yaml:"sweep_interval" env-default:"1h"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env-default:"localhost:6379"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// SessionCookie структура с параметрами сессионной cookie.
// В production cookie выдается с Secure и общим доменом для поддоменов.
type SessionCookie struct {
	CookieName   string        `yaml:"cookie_name" env-default:"sid"`
	CookieDomain string        `yaml:"cookie_domain"`
	SessionTTL   time.Duration `yaml:"session_ttl" env-default:"720h"`
}

// Stripe структура с ключами платёжного провайдера.
// Отсутствие секретного ключа — фатальная ошибка старта.
type Stripe struct {
	StripeSecretKey     string `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `yaml:"price_id" env:"STRIPE_PRICE_ID"`
}

// RabbitMQ структура для настройки подключения к брокеру уведомлений.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// SMTP структура с параметрами почтового транспорта.
type SMTP struct {
	SMTPHost string `yaml:"host"`
	SMTPPort string `yaml:"port" env-default:"587"`
	SMTPUser string `yaml:"user"`
	SMTPPass string `yaml:"pass" env:"SMTP_PASS"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и валидирует
// обязательные секреты. Любая ошибка завершает процесс.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if cfg.StripeSecretKey == "" {
		log.Fatal("stripe secret key is not set")
	}
	return &cfg
}

// IsProduction сообщает, запущено ли приложение в production-окружении.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
