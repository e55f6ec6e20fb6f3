package api

import (
	"github.com/go-chi/chi/v5"
)

// DeviceRoutes returns the router for explicit device management,
// meant to be mounted under /api/device behind authentication.
func (h *Handler) DeviceRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.RegisterDevice)
	r.Post("/verify", h.VerifyDevice)
	r.Post("/remove", h.RemoveDevice)
	r.Get("/info/{accountID}", h.GetDeviceInfo)
	r.Get("/removal-quota/{accountID}", h.GetRemovalQuota)
	r.Post("/switch-tracking", h.TrackSwitch)
	r.Get("/switch-history/{accountID}", h.GetSwitchHistory)
	return r
}

// AuthRoutes returns the router for login-time device provisioning,
// meant to be mounted under /api/auth behind authentication.
func (h *Handler) AuthRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/auto-register-device", h.AutoRegisterDevice)
	r.Post("/ensure-device", h.EnsureDevice)
	r.Get("/detect-device", h.DetectDevice)
	return r
}
