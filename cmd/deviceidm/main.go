package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/mathify/device-idm/migrations"
	"github.com/mathify/device-idm/pkg/client"
	"github.com/mathify/device-idm/pkg/config"
	"github.com/mathify/device-idm/pkg/devicesession"
	"github.com/mathify/device-idm/pkg/devicesession/api"
	"github.com/mathify/device-idm/pkg/notification"
)

type Config struct {
	DbConfig    config.DatabaseConfig
	EmailConfig config.EmailConfig
	JwtConfig   config.JWTConfig
	AppConfig   app.AppConfig
}

func main() {
	// .env is optional; environment variables win
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	dbURL := cfg.DbConfig.ToDatabaseURL()
	if err := migrations.Run(dbURL); err != nil {
		slog.Error("Failed running migrations", "error", err)
		os.Exit(-1)
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		slog.Error("Failed creating dbpool", "db", cfg.DbConfig.Database,
			"host", cfg.DbConfig.Host, "port", cfg.DbConfig.Port, "user", cfg.DbConfig.User)
		os.Exit(-1)
	}
	defer pool.Close()

	repo := devicesession.NewPostgresDeviceRepository(pool)

	opts := []devicesession.Option{}
	if cfg.EmailConfig.SecurityEmail != "" {
		notifier, err := notification.NewEmailNotifier(cfg.EmailConfig.ToSMTPConfig())
		if err != nil {
			slog.Error("Failed creating email notifier", "error", err)
			os.Exit(-1)
		}
		opts = append(opts, devicesession.WithNotifier(notifier, cfg.EmailConfig.SecurityEmail))
	}

	service := devicesession.NewDeviceSessionService(repo, opts...)
	handler := api.NewHandler(service)

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JwtConfig.Secret), nil)

	server.R.Group(func(r chi.Router) {
		r.Use(client.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))
		r.Use(client.AuthUserMiddleware)

		r.Mount("/api/device", handler.DeviceRoutes())
		r.Mount("/api/auth", handler.AuthRoutes())
	})

	server.Run()
}
