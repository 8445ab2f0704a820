package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TelnetAddr string `env:"GILES_TELNET_ADDR" envDefault:":4242"`
	HTTPAddr   string `env:"GILES_HTTP_ADDR" envDefault:":8080"`
	LogLevel   string `env:"GILES_LOG_LEVEL" envDefault:"info"`
	MOTD       string `env:"GILES_MOTD" envDefault:"Welcome to Giles, a game server."`
}

// Load reads a .env file if one exists, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
