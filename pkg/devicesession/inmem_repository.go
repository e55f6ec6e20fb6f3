package devicesession

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemDeviceRepository implements DeviceRepository using in-memory
// maps. Useful for development, demos and tests; all data is lost when
// the process stops.
//
// Atomic operations stage their changes and commit under the mutex
// only after every step succeeded, matching the all-or-nothing
// guarantee of the PostgreSQL implementation.
type InMemDeviceRepository struct {
	mu       sync.Mutex
	devices  map[string]DeviceRecord // keyed by userID_deviceID
	removals []RemovalRecord
	switches []SwitchRecord

	// replaceFailpoint, when set, runs between staging the delete and
	// committing the insert of ReplaceDevice. Tests use it to verify
	// that a mid-operation failure leaves prior state intact.
	replaceFailpoint func() error
}

// NewInMemDeviceRepository creates an empty in-memory repository.
func NewInMemDeviceRepository() *InMemDeviceRepository {
	return &InMemDeviceRepository{
		devices: make(map[string]DeviceRecord),
	}
}

func deviceKey(userID, deviceID string) string {
	return userID + "_" + deviceID
}

// switchDefaults fills the audit record's identity and time from the
// device it accompanies.
func switchDefaults(sw SwitchRecord, device DeviceRecord) SwitchRecord {
	if sw.ID == "" {
		sw.ID = uuid.New().String()
	}
	if sw.UserID == "" {
		sw.UserID = device.UserID
	}
	if sw.ToDeviceID == "" {
		sw.ToDeviceID = device.DeviceID
	}
	if sw.SwitchedAt.IsZero() {
		sw.SwitchedAt = device.RegisteredAt
	}
	return sw
}

// slotTaken reports whether a device other than excludeDeviceID holds
// the slot. Callers must hold r.mu.
func (r *InMemDeviceRepository) slotTaken(userID, excludeDeviceID string, slot SlotClass) bool {
	for _, d := range r.devices {
		if d.UserID == userID && d.DeviceID != excludeDeviceID && d.Slot() == slot {
			return true
		}
	}
	return false
}

// CreateDevice inserts a device and its switch audit record.
func (r *InMemDeviceRepository) CreateDevice(ctx context.Context, device DeviceRecord, sw SwitchRecord) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deviceKey(device.UserID, device.DeviceID)
	if _, exists := r.devices[key]; exists {
		return DeviceRecord{}, ErrDeviceExists
	}
	// the slot check lives under the mutex so concurrent creates
	// cannot both land in one slot
	if r.slotTaken(device.UserID, "", device.Slot()) {
		return DeviceRecord{}, ErrSlotOccupied
	}

	sw = switchDefaults(sw, device)

	r.devices[key] = device
	r.switches = append(r.switches, sw)
	slog.Debug("device created", "user_id", device.UserID, "device_id", device.DeviceID)
	return device, nil
}

// GetDevice fetches one device by its composite key.
func (r *InMemDeviceRepository) GetDevice(ctx context.Context, userID, deviceID string) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[deviceKey(userID, deviceID)]
	if !exists {
		return DeviceRecord{}, ErrDeviceNotFound
	}
	return device, nil
}

// FindDevicesByUser returns the account's devices, oldest first.
func (r *InMemDeviceRepository) FindDevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var devices []DeviceRecord
	for _, d := range r.devices {
		if d.UserID == userID {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].RegisteredAt.Before(devices[j].RegisteredAt)
	})
	return devices, nil
}

// UpdateDeviceLastUsed touches last_used and the network origin.
func (r *InMemDeviceRepository) UpdateDeviceLastUsed(ctx context.Context, userID, deviceID string, lastUsed time.Time, ipAddress string) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deviceKey(userID, deviceID)
	device, exists := r.devices[key]
	if !exists {
		return DeviceRecord{}, ErrDeviceNotFound
	}

	device.LastUsed = lastUsed
	if ipAddress != "" {
		device.IPAddress = ipAddress
	}
	r.devices[key] = device
	return device, nil
}

// RemoveDevice deletes a device and appends its removal record as one
// unit.
func (r *InMemDeviceRepository) RemoveDevice(ctx context.Context, userID, deviceID string, removal RemovalRecord) (DeviceRecord, RemovalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deviceKey(userID, deviceID)
	device, exists := r.devices[key]
	if !exists {
		return DeviceRecord{}, RemovalRecord{}, ErrDeviceNotFound
	}

	if removal.ID == "" {
		removal.ID = uuid.New().String()
	}

	delete(r.devices, key)
	r.removals = append(r.removals, removal)
	slog.Debug("device removed", "user_id", userID, "device_id", deviceID, "quota_used", removal.QuotaUsed)
	return device, removal, nil
}

// ReplaceDevice swaps the slot occupant for a new device and appends
// the replacement switch record, all or nothing.
func (r *InMemDeviceRepository) ReplaceDevice(ctx context.Context, userID, oldDeviceID string, newDevice DeviceRecord, sw SwitchRecord) (DeviceRecord, DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := deviceKey(userID, oldDeviceID)
	replaced, exists := r.devices[oldKey]
	if !exists {
		return DeviceRecord{}, DeviceRecord{}, ErrDeviceNotFound
	}

	newKey := deviceKey(userID, newDevice.DeviceID)
	if _, exists := r.devices[newKey]; exists {
		return DeviceRecord{}, DeviceRecord{}, ErrDeviceExists
	}
	if r.slotTaken(userID, oldDeviceID, newDevice.Slot()) {
		return DeviceRecord{}, DeviceRecord{}, ErrSlotOccupied
	}

	if r.replaceFailpoint != nil {
		if err := r.replaceFailpoint(); err != nil {
			// nothing staged has been committed; prior state intact
			return DeviceRecord{}, DeviceRecord{}, err
		}
	}

	sw = switchDefaults(sw, newDevice)

	delete(r.devices, oldKey)
	r.devices[newKey] = newDevice
	r.switches = append(r.switches, sw)
	slog.Debug("device replaced", "user_id", userID, "old_device_id", oldDeviceID, "new_device_id", newDevice.DeviceID)
	return newDevice, replaced, nil
}

// CountQuotaRemovalsSince counts quota-consuming removals at or after
// the given instant.
func (r *InMemDeviceRepository) CountQuotaRemovalsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, rm := range r.removals {
		if rm.UserID == userID && rm.QuotaUsed && !rm.RemovedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateSwitch appends a standalone switch audit record.
func (r *InMemDeviceRepository) CreateSwitch(ctx context.Context, sw SwitchRecord) (SwitchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sw.ID == "" {
		sw.ID = uuid.New().String()
	}
	r.switches = append(r.switches, sw)
	return sw, nil
}

// FindSwitchesByUser returns the account's switches, newest first.
func (r *InMemDeviceRepository) FindSwitchesByUser(ctx context.Context, userID string, limit int) ([]SwitchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var switches []SwitchRecord
	for _, sw := range r.switches {
		if sw.UserID == userID {
			switches = append(switches, sw)
		}
	}
	sort.Slice(switches, func(i, j int) bool {
		return switches[i].SwitchedAt.After(switches[j].SwitchedAt)
	})
	if limit > 0 && len(switches) > limit {
		switches = switches[:limit]
	}
	return switches, nil
}

// CountSwitchesByUser returns the account's all-time switch count.
func (r *InMemDeviceRepository) CountSwitchesByUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, sw := range r.switches {
		if sw.UserID == userID {
			count++
		}
	}
	return count, nil
}

// CountSwitchesSince counts switches at or after the given instant.
func (r *InMemDeviceRepository) CountSwitchesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, sw := range r.switches {
		if sw.UserID == userID && !sw.SwitchedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
