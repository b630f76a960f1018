package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CoreConfig is the call-control service configuration, populated from the
// environment.
type CoreConfig struct {
	CellularAddr       string        `env:"CELLULAR_ADDR" envDefault:"127.0.0.1:5090"`
	CellularCmdTimeout time.Duration `env:"CELLULAR_CMD_TIMEOUT" envDefault:"5s"`

	OttListenAddr string `env:"OTT_LISTEN_ADDR" envDefault:":8089"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RecordsEnabled bool          `env:"RECORDS_ENABLED" envDefault:"false"`
	RecordsTTL     time.Duration `env:"RECORDS_TTL" envDefault:"720h"`

	ImsConferenceLimit int `env:"IMS_CONFERENCE_LIMIT" envDefault:"5"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE" envDefault:""`
}

// New loads configuration from environment variables into any given struct type.
// It uses generics to work with different config structs.
func New[T any]() (*T, error) {
	cfg := new(T)
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads content of ENV_FILE (e.g .env.{server}) into environment variables
func LoadEnv() error {
	envfile := os.Getenv("ENV_FILE")

	if envfile == "" {
		return godotenv.Load()
	}

	return godotenv.Load(envfile)
}
