package devicesession

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by repository implementations
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
	ErrSlotOccupied   = errors.New("device slot occupied")
)

// DeviceRepository defines the storage contract for per-user device
// records and their removal/switch audit trails.
//
// CreateDevice, RemoveDevice and ReplaceDevice are atomic multi-write
// operations: the device mutation and its audit record land together
// or not at all. Serializability of concurrent mutations for the same
// account is delegated entirely to this transaction guarantee; the
// service layer holds no locks.
type DeviceRepository interface {
	// CreateDevice inserts a device together with its login/switch
	// audit record. Fails with ErrDeviceExists when the (user, device)
	// pair is already present and with ErrSlotOccupied when another
	// device already holds the slot class. The slot check happens
	// inside the write's critical section, so concurrent registrations
	// into one slot cannot both commit.
	CreateDevice(ctx context.Context, device DeviceRecord, sw SwitchRecord) (DeviceRecord, error)

	// GetDevice fetches one device by its composite key. Returns
	// ErrDeviceNotFound when absent.
	GetDevice(ctx context.Context, userID, deviceID string) (DeviceRecord, error)

	// FindDevicesByUser returns all devices bound to an account,
	// ordered by registration time ascending (oldest first).
	FindDevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error)

	// UpdateDeviceLastUsed touches last_used and the network origin.
	UpdateDeviceLastUsed(ctx context.Context, userID, deviceID string, lastUsed time.Time, ipAddress string) (DeviceRecord, error)

	// RemoveDevice deletes a device and writes its removal audit
	// record as one all-or-nothing unit. Returns the deleted record.
	RemoveDevice(ctx context.Context, userID, deviceID string, removal RemovalRecord) (DeviceRecord, RemovalRecord, error)

	// ReplaceDevice deletes the old device, inserts the new one and
	// writes the replacement switch record as one all-or-nothing unit.
	// Returns the inserted and the replaced records. Fails with
	// ErrSlotOccupied when a device other than the one being replaced
	// holds the new device's slot class.
	ReplaceDevice(ctx context.Context, userID, oldDeviceID string, newDevice DeviceRecord, sw SwitchRecord) (DeviceRecord, DeviceRecord, error)

	// CountQuotaRemovalsSince counts quota-consuming removals recorded
	// at or after the given instant.
	CountQuotaRemovalsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// CreateSwitch appends a standalone switch audit record.
	CreateSwitch(ctx context.Context, sw SwitchRecord) (SwitchRecord, error)

	// FindSwitchesByUser returns the account's most recent switches,
	// descending by time, up to limit.
	FindSwitchesByUser(ctx context.Context, userID string, limit int) ([]SwitchRecord, error)

	// CountSwitchesByUser returns the account's all-time switch count.
	CountSwitchesByUser(ctx context.Context, userID string) (int, error)

	// CountSwitchesSince counts switches recorded at or after the
	// given instant.
	CountSwitchesSince(ctx context.Context, userID string, since time.Time) (int, error)
}
