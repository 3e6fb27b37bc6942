package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var ErrPostgresDSNRequired = errors.New("postgres.dsn is required for the postgres driver")

type Config struct {
	LogLevel          string   `yaml:"log-level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	HTTPPort          string   `yaml:"http-port" env:"HTTP_PORT" env-default:"9090" validate:"required,numeric"`
	SocketPort        string   `yaml:"socket-port" env:"SOCKET_PORT" env-default:"9091" validate:"required,numeric"`
	PublicURL         string   `yaml:"public-url" env:"PUBLIC_URL" validate:"omitempty,url"`
	Storage           Storage  `yaml:"storage"`
	Redis             Redis    `yaml:"redis"`
	SQLiteStoragePath string   `yaml:"sqlite-storage-path" env:"SQLITE_STORAGE_PATH" env-default:"./tictactoe.db"`
	Postgres          Postgres `yaml:"postgres"`
	Session           Session  `yaml:"session"`
	Socket            Socket   `yaml:"socket"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"redis" validate:"oneof=redis sqlite postgres memory"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type Postgres struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

type Session struct {
	StoreTimeout     time.Duration `yaml:"store-timeout" env:"SESSION_STORE_TIMEOUT" env-default:"3s" validate:"gt=0"`
	ReconnectTimeout time.Duration `yaml:"reconnect-timeout" env:"SESSION_RECONNECT_TIMEOUT" env-default:"30s" validate:"gt=0"`
}

type Socket struct {
	MessagesPerSecond float64 `yaml:"messages-per-second" env:"SOCKET_MESSAGES_PER_SECOND" env-default:"10" validate:"gt=0"`
	Burst             int     `yaml:"burst" env:"SOCKET_BURST" env-default:"20" validate:"gt=0"`
}

// Load - reads config.yml, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

func (that *Config) Validate() error {
	if err := validator.New().Struct(that); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if that.Storage.Driver == DriverPostgres && that.Postgres.DSN == "" {
		return ErrPostgresDSNRequired
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
