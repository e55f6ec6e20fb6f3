// Package main runs the device session service without a database
// using the in-memory repository. Useful for:
// - Quick development and testing
// - Demo/prototype environments
// - Learning the API without database setup
//
// Note: All data is lost when the server stops. For production, use
// cmd/deviceidm with PostgreSQL.
package main

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/tendant/chi-demo/app"

	"github.com/mathify/device-idm/pkg/client"
	"github.com/mathify/device-idm/pkg/devicesession"
	"github.com/mathify/device-idm/pkg/devicesession/api"
)

const jwtSecret = "inmem-dev-secret-change-in-production"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting in-memory device session service (no database required)")

	repo := devicesession.NewInMemDeviceRepository()
	service := devicesession.NewDeviceSessionService(repo)
	handler := api.NewHandler(service)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	tokenAuth := jwtauth.New("HS256", []byte(jwtSecret), nil)

	server.R.Group(func(r chi.Router) {
		r.Use(client.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))
		r.Use(client.AuthUserMiddleware)

		r.Mount("/api/device", handler.DeviceRoutes())
		r.Mount("/api/auth", handler.AuthRoutes())
	})

	slog.Info("Use cmd/tokengen with the dev secret to mint test tokens", "secret", jwtSecret)
	server.Run()
}
