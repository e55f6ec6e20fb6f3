// Package api exposes the device session operations over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/mathify/device-idm/pkg/client"
	"github.com/mathify/device-idm/pkg/devicedetect"
	"github.com/mathify/device-idm/pkg/devicesession"
	deverrors "github.com/mathify/device-idm/pkg/errors"
)

// Handler handles HTTP requests for device session management
type Handler struct {
	service *devicesession.DeviceSessionService
}

// NewHandler creates a new device session handler
func NewHandler(service *devicesession.DeviceSessionService) *Handler {
	return &Handler{service: service}
}

// DeviceInfoPayload is the wire form of a device descriptor.
type DeviceInfoPayload struct {
	DeviceName       string `json:"device_name"`
	DeviceType       string `json:"device_type"`
	OSVersion        string `json:"os_version"`
	AppVersion       string `json:"app_version"`
	Manufacturer     string `json:"manufacturer"`
	Model            string `json:"model"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Locale           string `json:"locale"`
}

// RegisterDeviceRequest represents the request body for registering a device
type RegisterDeviceRequest struct {
	DeviceID     string            `json:"device_id"`
	DeviceInfo   DeviceInfoPayload `json:"device_info"`
	ForceReplace bool              `json:"force_replace"`
}

// VerifyDeviceRequest represents the request body for verifying a device
type VerifyDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
}

// RemoveDeviceRequest represents the request body for removing a
// device. UseFreeQuota is a pointer so an omitted field defaults to
// true: removals are metered unless the caller opts out.
type RemoveDeviceRequest struct {
	DeviceID     string `json:"device_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	UseFreeQuota *bool  `json:"use_free_quota,omitempty"`
}

// SwitchTrackingRequest represents the request body for recording a switch
type SwitchTrackingRequest struct {
	FromDeviceID string            `json:"from_device_id,omitempty"`
	ToDeviceID   string            `json:"to_device_id"`
	SwitchType   string            `json:"switch_type,omitempty"`
	DeviceInfo   DeviceInfoPayload `json:"device_info"`
}

// AutoRegisterRequest represents the request body for auto-provisioning
type AutoRegisterRequest struct {
	DeviceInfo DeviceInfoPayload `json:"device_info"`
	ForceNew   bool              `json:"force_new"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RegisterDevice handles explicit device registration.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data RegisterDeviceRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
		return
	}

	result, err := h.service.RegisterDevice(r.Context(), devicesession.RegisterDeviceRequest{
		UserID:       authUser.UserId,
		DeviceID:     data.DeviceID,
		DeviceInfo:   toDeviceInfo(data.DeviceInfo),
		ForceReplace: data.ForceReplace,
		IPAddress:    clientIP(r),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// VerifyDevice handles verification probes.
func (h *Handler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data VerifyDeviceRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
		return
	}

	result, err := h.service.VerifyDevice(r.Context(), devicesession.VerifyDeviceRequest{
		UserID:     authUser.UserId,
		DeviceID:   data.DeviceID,
		DeviceType: data.DeviceType,
		IPAddress:  clientIP(r),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// RemoveDevice handles device removal.
func (h *Handler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data RemoveDeviceRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
		return
	}

	useFreeQuota := true
	if data.UseFreeQuota != nil {
		useFreeQuota = *data.UseFreeQuota
	}

	result, err := h.service.RemoveDevice(r.Context(), devicesession.RemoveDeviceRequest{
		UserID:       authUser.UserId,
		DeviceID:     data.DeviceID,
		Reason:       data.Reason,
		UseFreeQuota: useFreeQuota,
		IPAddress:    clientIP(r),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// GetDeviceInfo returns the account's registration snapshot.
func (h *Handler) GetDeviceInfo(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.scopedAccountID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListDevices(r.Context(), accountID)
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, list)
}

// GetRemovalQuota returns the account's free-removal quota state.
func (h *Handler) GetRemovalQuota(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.scopedAccountID(w, r)
	if !ok {
		return
	}

	quota, err := h.service.RemovalQuota(r.Context(), accountID)
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, quota)
}

// TrackSwitch records a device switch event.
func (h *Handler) TrackSwitch(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data SwitchTrackingRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
		return
	}

	receipt, err := h.service.RecordSwitch(r.Context(), devicesession.SwitchRequest{
		UserID:       authUser.UserId,
		FromDeviceID: data.FromDeviceID,
		ToDeviceID:   data.ToDeviceID,
		SwitchType:   data.SwitchType,
		IPAddress:    clientIP(r),
		DeviceInfo:   toDeviceInfo(data.DeviceInfo),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receipt)
}

// GetSwitchHistory returns the account's recent switches and anomaly
// signals. Accepts an optional ?limit=n query parameter.
func (h *Handler) GetSwitchHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.scopedAccountID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			renderErrorResponse(w, r, deverrors.InvalidInput("limit", "must be an integer"))
			return
		}
		limit = parsed
	}

	history, err := h.service.SwitchHistory(r.Context(), accountID, limit)
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, history)
}

// AutoRegisterDevice provisions a device from connection metadata.
func (h *Handler) AutoRegisterDevice(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data AutoRegisterRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &data); err != nil {
			renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
			return
		}
	}

	result, err := h.service.AutoProvision(r.Context(), devicesession.AutoProvisionRequest{
		UserID:         authUser.UserId,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		ClientInfo:     toDeviceInfo(data.DeviceInfo),
		ForceNew:       data.ForceNew,
		IPAddress:      clientIP(r),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	render.Status(r, status)
	render.JSON(w, r, result)
}

// EnsureDevice guarantees the account has at least one bound device.
func (h *Handler) EnsureDevice(w http.ResponseWriter, r *http.Request) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return
	}

	var data AutoRegisterRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &data); err != nil {
			renderErrorResponse(w, r, deverrors.InvalidInput("body", "unable to parse request body"))
			return
		}
	}

	result, err := h.service.EnsureDevice(r.Context(), devicesession.AutoProvisionRequest{
		UserID:         authUser.UserId,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		ClientInfo:     toDeviceInfo(data.DeviceInfo),
		IPAddress:      clientIP(r),
	})
	if err != nil {
		renderErrorResponse(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	render.Status(r, status)
	render.JSON(w, r, result)
}

// DetectDevice returns the descriptor detection derives from the
// request's connection metadata. No registration state is touched.
func (h *Handler) DetectDevice(w http.ResponseWriter, r *http.Request) {
	info := h.service.DetectDevice(r.UserAgent(), r.Header.Get("Accept-Language"))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, info)
}

// scopedAccountID resolves the {accountID} path parameter and enforces
// that the caller may act on that account.
func (h *Handler) scopedAccountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	authUser, ok := authUserFromContext(w, r)
	if !ok {
		return "", false
	}

	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		renderErrorResponse(w, r, deverrors.InvalidInput("accountID", "is required"))
		return "", false
	}
	if !client.CanAccessAccount(authUser, accountID) {
		renderErrorResponse(w, r, deverrors.Forbidden("not allowed to access this account"))
		return "", false
	}
	return accountID, true
}

func authUserFromContext(w http.ResponseWriter, r *http.Request) (*client.AuthUser, bool) {
	authUser, ok := r.Context().Value(client.AuthUserKey).(*client.AuthUser)
	if !ok {
		renderErrorResponse(w, r, deverrors.Unauthorized("authentication required"))
		return nil, false
	}
	return authUser, true
}

func toDeviceInfo(payload DeviceInfoPayload) devicedetect.DeviceInfo {
	var info devicedetect.DeviceInfo
	copier.Copy(&info, payload)
	return info
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

func renderErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var devErr *deverrors.Error
	if !errors.As(err, &devErr) {
		slog.Error("unexpected error", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Status: "error", Message: "internal error"})
		return
	}

	render.Status(r, devErr.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{
		Status:  "error",
		Code:    string(devErr.Code),
		Message: devErr.Message,
		Details: devErr.Details,
	})
}
