package config

// JWTConfig holds JWT authentication configuration
type JWTConfig struct {
	Secret         string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	CookieHttpOnly bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure   bool   `env:"COOKIE_SECURE" env-default:"false"`
	Issuer         string `env:"JWT_ISSUER" env-default:"device-idm"`
	Audience       string `env:"JWT_AUDIENCE" env-default:"device-idm"`
}

// NewJWTConfigFromEnv creates a JWTConfig from environment variables
func NewJWTConfigFromEnv() JWTConfig {
	return JWTConfig{
		Secret:         GetEnvOrDefault("JWT_SECRET", "very-secure-jwt-secret"),
		CookieHttpOnly: GetEnvBool("COOKIE_HTTP_ONLY", true),
		CookieSecure:   GetEnvBool("COOKIE_SECURE", false),
		Issuer:         GetEnvOrDefault("JWT_ISSUER", "device-idm"),
		Audience:       GetEnvOrDefault("JWT_AUDIENCE", "device-idm"),
	}
}
