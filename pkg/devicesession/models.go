// Package devicesession governs device registration state for user
// accounts: how many concurrent devices an account may bind, which
// device is primary, atomic device replacement, monthly free-removal
// quota, and device-switch anomaly signals.
//
// The package is organized leaf-first:
//   - SlotClass / slot policy (policy.go) — pure registration decisions
//   - QuotaAccountant (quota.go) — monthly free-removal accounting
//   - SwitchAuditor (switches.go) — switch audit trail and anomaly signals
//   - DeviceRepository (repository.go) — storage contract with atomic
//     multi-write operations; in-memory and PostgreSQL implementations
//   - DeviceSessionService (service.go) — orchestration consumed by the
//     HTTP layer
package devicesession

import (
	"time"

	"github.com/mathify/device-idm/pkg/devicedetect"
)

// Switch types recorded in the audit trail
const (
	SwitchTypeLogin       = "login"
	SwitchTypeForced      = "forced_switch"
	SwitchTypeReplacement = "replacement"
)

// SlotClass groups device types for the one-device-per-slot rule:
// mobile and tablet share the mobile-like slot, everything else is
// desktop.
type SlotClass string

const (
	SlotMobile  SlotClass = "mobile"
	SlotDesktop SlotClass = "desktop"
)

// SlotOf maps a device type to its slot class.
func SlotOf(deviceType string) SlotClass {
	if deviceType == devicedetect.DeviceTypeMobile || deviceType == devicedetect.DeviceTypeTablet {
		return SlotMobile
	}
	return SlotDesktop
}

// DeviceRecord identifies a single bound device for one account.
// The composite (UserID, DeviceID) is unique; at most one device per
// account per slot class exists at any time, and exactly one device of
// an occupied slot is primary.
type DeviceRecord struct {
	UserID           string    `json:"user_id"`
	DeviceID         string    `json:"device_id"`
	DeviceName       string    `json:"device_name"`
	DeviceType       string    `json:"device_type"`
	OSVersion        string    `json:"os_version"`
	AppVersion       string    `json:"app_version"`
	Manufacturer     string    `json:"manufacturer"`
	Model            string    `json:"model"`
	ScreenResolution string    `json:"screen_resolution"`
	Timezone         string    `json:"timezone"`
	Locale           string    `json:"locale"`
	RegisteredAt     time.Time `json:"registered_at"`
	LastUsed         time.Time `json:"last_used"`
	IsPrimary        bool      `json:"is_primary"`
	IPAddress        string    `json:"ip_address"`
}

// Slot returns the slot class this device occupies.
func (d DeviceRecord) Slot() SlotClass {
	return SlotOf(d.DeviceType)
}

// Info returns the descriptor view of the record.
func (d DeviceRecord) Info() devicedetect.DeviceInfo {
	return devicedetect.DeviceInfo{
		DeviceName:       d.DeviceName,
		DeviceType:       d.DeviceType,
		OSVersion:        d.OSVersion,
		AppVersion:       d.AppVersion,
		Manufacturer:     d.Manufacturer,
		Model:            d.Model,
		ScreenResolution: d.ScreenResolution,
		Timezone:         d.Timezone,
		Locale:           d.Locale,
	}
}

// RemovalRecord is an append-only audit entry for a device removal.
// It is always written in the same atomic operation that deletes the
// corresponding DeviceRecord and is never updated or deleted.
type RemovalRecord struct {
	ID         string    `json:"removal_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	RemovedAt  time.Time `json:"removed_at"`
	Reason     string    `json:"reason"`
	IPAddress  string    `json:"ip_address"`
	QuotaUsed  bool      `json:"quota_used"`
}

// SwitchRecord is an append-only audit entry for a device-to-device
// transition. FromDeviceID is empty for first-time logins.
type SwitchRecord struct {
	ID           string                  `json:"switch_id"`
	UserID       string                  `json:"user_id"`
	FromDeviceID string                  `json:"from_device_id,omitempty"`
	ToDeviceID   string                  `json:"to_device_id"`
	SwitchType   string                  `json:"switch_type"`
	SwitchedAt   time.Time               `json:"switched_at"`
	IPAddress    string                  `json:"ip_address"`
	DeviceInfo   devicedetect.DeviceInfo `json:"device_info"`
}

// Clock supplies the current time. Injecting it keeps quota and
// anomaly windows deterministically testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the system wall clock (UTC).
func SystemClock() Clock { return systemClock{} }
