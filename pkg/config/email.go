package config

import (
	"github.com/mathify/device-idm/pkg/notification"
)

// EmailConfig holds SMTP email configuration for security
// notifications.
type EmailConfig struct {
	Host          string `env:"EMAIL_HOST" env-default:"localhost"`
	Port          uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username      string `env:"EMAIL_USERNAME" env-default:""`
	Password      string `env:"EMAIL_PASSWORD" env-default:""`
	From          string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS           bool   `env:"EMAIL_TLS" env-default:"false"`
	SecurityEmail string `env:"SECURITY_NOTIFICATION_EMAIL" env-default:""`
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
	}
}

// NewEmailConfigFromEnv creates an EmailConfig from environment variables
func NewEmailConfigFromEnv() EmailConfig {
	return EmailConfig{
		Host:          GetEnvOrDefault("EMAIL_HOST", "localhost"),
		Port:          GetEnvUint16("EMAIL_PORT", 1025),
		Username:      GetEnv("EMAIL_USERNAME"),
		Password:      GetEnv("EMAIL_PASSWORD"),
		From:          GetEnvOrDefault("EMAIL_FROM", "noreply@example.com"),
		TLS:           GetEnvBool("EMAIL_TLS", false),
		SecurityEmail: GetEnv("SECURITY_NOTIFICATION_EMAIL"),
	}
}
