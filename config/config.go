package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             string `yaml:"port"`
	DatabasePath     string `yaml:"database_path"`
	JWTSecret        string `yaml:"jwt_secret"`
	TokenTTLSeconds  int64  `yaml:"token_ttl_seconds"`
	VerificationCode string `yaml:"verification_code"`
	LogLevel         string `yaml:"log_level"`
}

// LoadConfig reads settings from the environment. CHATAPP_CONFIG may point
// at a YAML file, which is read first; environment variables override it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             "8080",
		DatabasePath:     "chatapp.db",
		TokenTTLSeconds:  86400,
		VerificationCode: "000000",
		LogLevel:         "info",
	}

	if path := os.Getenv("CHATAPP_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("TOKEN_TTL_SECONDS"); v != "" {
		ttl, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse TOKEN_TTL_SECONDS: %w", err)
		}
		cfg.TokenTTLSeconds = ttl
	}
	if v := os.Getenv("VERIFICATION_CODE"); v != "" {
		cfg.VerificationCode = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}
