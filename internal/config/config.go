// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	WebhookSecret           string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	ServiceToken            `yaml:"service_token"`
	Provider                `yaml:"provider"`
	Sweeper                 `yaml:"sweeper"`
	Dispatcher              `yaml:"dispatcher"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:"0.0.0.0:8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки подключения к брокеру сообщений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
	PublishTimeout     time.Duration `yaml:"publish_timeout" env-default:"5s"`
}

// ServiceToken структура для работы с сервисными jwt-токенами
// внутренних конечных точек (verify, sweep, orders)
type ServiceToken struct {
	TokenSecretKey string        `yaml:"token_secret_key" env:"SERVICE_TOKEN_SECRET"`
	TokenTTL       time.Duration `yaml:"token_ttl" env-default:"1h"`
}

// Provider структура для настройки клиента платежного провайдера
type Provider struct {
	ProviderAPIURL    string        `yaml:"provider_api_url"`
	ProviderShopID    string        `yaml:"provider_shop_id"`
	ProviderSecretKey string        `yaml:"provider_secret_key" env:"PROVIDER_SECRET_KEY"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout" env-default:"10s"`
}

// Sweeper структура для настройки планового обхода подписок
type Sweeper struct {
	SweepInterval  time.Duration `yaml:"sweep_interval" env-default:"24h"`
	WarnWindow     time.Duration `yaml:"warn_window" env-default:"168h"`
	BatchSize      int           `yaml:"batch_size" env-default:"100"`
	LockTTL        time.Duration `yaml:"lock_ttl" env-default:"10m"`
	StaleClaimAge  time.Duration `yaml:"stale_claim_age" env-default:"1h"`
	StaleClaimsMax int           `yaml:"stale_claims_max" env-default:"100"`
}

// Dispatcher структура с бизнес-переключателями обработки событий:
// продление при повторном списании и отзыв доступа при возврате
// по умолчанию выключены
type Dispatcher struct {
	RenewOnRecurringCharge bool `yaml:"renew_on_recurring_charge" env-default:"false"`
	RevokeOnRefund         bool `yaml:"revoke_on_refund" env-default:"false"`
}

// MustLoad функция для загрузки конфига, путь берется из переменной окружения CONFIG_PATH
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
	return &cfg
}
