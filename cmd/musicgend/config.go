package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musicgen-ai/musicgen"
)

type daemonConfig struct {
	musicgen.Config `yaml:",inline"`

	Server    serverConfig    `yaml:"server"`
	Store     storeConfig     `yaml:"store"`
	Generator generatorConfig `yaml:"generator"`
	Grants    []grantConfig   `yaml:"grants"`
}

type serverConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type storeConfig struct {
	Driver      string `yaml:"driver"` // memory | redis | postgres
	RedisAddr   string `yaml:"redis_addr"`
	KeyPrefix   string `yaml:"key_prefix"`
	DatabaseURL string `yaml:"database_url"`
	TablePrefix string `yaml:"table_prefix"`
}

type generatorConfig struct {
	Driver  string `yaml:"driver"` // musicapi | mock
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// grantConfig seeds the static entitlement source.
type grantConfig struct {
	UserID  string `yaml:"user_id"`
	Product string `yaml:"product"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Config: musicgen.DefaultConfig(),
		Server: serverConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Store:     storeConfig{Driver: "memory"},
		Generator: generatorConfig{Driver: "musicapi"},
	}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return daemonConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return daemonConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = os.Getenv("MUSICGEN_JWT_SECRET")
	}
	if cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = os.Getenv("MUSICAPI_KEY")
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Config.Validate(); err != nil {
		return daemonConfig{}, err
	}
	if cfg.Server.JWTSecret == "" {
		return daemonConfig{}, fmt.Errorf("server.jwt_secret (or MUSICGEN_JWT_SECRET) is required")
	}
	return cfg, nil
}
