package config

import "fmt"

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"DEVICE_IDM_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"DEVICE_IDM_PG_PORT" env-default:"5432"`
	Database string `env:"DEVICE_IDM_PG_DATABASE" env-default:"device_idm_db"`
	User     string `env:"DEVICE_IDM_PG_USER" env-default:"device_idm"`
	Password string `env:"DEVICE_IDM_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"DEVICE_IDM_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// NewDatabaseConfigFromEnv creates a DatabaseConfig from environment variables
func NewDatabaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     GetEnvOrDefault("DEVICE_IDM_PG_HOST", "localhost"),
		Port:     GetEnvUint16("DEVICE_IDM_PG_PORT", 5432),
		Database: GetEnvOrDefault("DEVICE_IDM_PG_DATABASE", "device_idm_db"),
		User:     GetEnvOrDefault("DEVICE_IDM_PG_USER", "device_idm"),
		Password: GetEnvOrDefault("DEVICE_IDM_PG_PASSWORD", "pwd"),
		Schema:   GetEnvOrDefault("DEVICE_IDM_PG_SCHEMA", "public"),
	}
}
