package devicesession

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathify/device-idm/pkg/devicedetect"
	deverrors "github.com/mathify/device-idm/pkg/errors"
	"github.com/mathify/device-idm/pkg/notification"
)

const (
	testWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	testIPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
)

func newTestService(t *testing.T) (*DeviceSessionService, *InMemDeviceRepository, *notification.MockNotifier, *fakeClock) {
	t.Helper()
	repo := NewInMemDeviceRepository()
	notifier := &notification.MockNotifier{}
	clock := &fakeClock{now: time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)}
	svc := NewDeviceSessionService(repo,
		WithClock(clock),
		WithNotifier(notifier, "security@example.com"),
	)
	return svc, repo, notifier, clock
}

// staleReadRepo serves a frozen device list for reads while writes hit
// the real repository, modeling a registration whose read completed
// before a concurrent winner committed.
type staleReadRepo struct {
	DeviceRepository
	stale []DeviceRecord
}

func (r *staleReadRepo) FindDevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	return r.stale, nil
}

func mobileInfo(name string) devicedetect.DeviceInfo {
	return devicedetect.DeviceInfo{
		DeviceName: name,
		DeviceType: "mobile",
		OSVersion:  "iOS 17",
	}
}

func desktopInfo(name string) devicedetect.DeviceInfo {
	return devicedetect.DeviceInfo{
		DeviceName: name,
		DeviceType: "desktop",
		OSVersion:  "Windows 11",
	}
}

func TestRegisterDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("first device in slot becomes primary", func(t *testing.T) {
		svc, repo, _, clock := newTestService(t)

		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID:     "user-1",
			DeviceID:   "phone",
			DeviceInfo: mobileInfo("My Phone"),
			IPAddress:  "10.0.0.1",
		})
		require.NoError(t, err)
		assert.True(t, result.Device.IsPrimary)
		assert.True(t, result.Device.RegisteredAt.Equal(clock.now))
		assert.Nil(t, result.Replaced)

		// a login switch is audited with the registration
		switches, err := repo.FindSwitchesByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, switches, 1)
		assert.Equal(t, SwitchTypeLogin, switches[0].SwitchType)
		assert.Empty(t, switches[0].FromDeviceID)
		assert.Equal(t, "phone", switches[0].ToDeviceID)
	})

	t.Run("second slot registers independently", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceInfo: desktopInfo("Laptop"),
		})
		require.NoError(t, err)
		assert.True(t, result.Device.IsPrimary)

		list, err := svc.ListDevices(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalDevices)
		assert.False(t, list.Availability.CanAddDevice)
	})

	t.Run("occupied slot rejects without force", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "new-phone", DeviceInfo: mobileInfo("New Phone"),
		})
		require.Error(t, err)
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeSlotOccupied))
		details := deverrors.GetDetails(err)
		assert.Equal(t, "phone", details["conflict_device_id"])
	})

	t.Run("tablet competes for the mobile slot", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		tablet := mobileInfo("Tablet")
		tablet.DeviceType = "tablet"
		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "tablet", DeviceInfo: tablet,
		})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeSlotOccupied))
	})

	t.Run("force replace swaps atomically and notifies", func(t *testing.T) {
		svc, repo, notifier, _ := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Old Phone"),
		})
		require.NoError(t, err)

		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "new-phone", DeviceInfo: mobileInfo("New Phone"), ForceReplace: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "new-phone", result.Device.DeviceID)
		assert.True(t, result.Device.IsPrimary)
		require.NotNil(t, result.Replaced)
		assert.Equal(t, "phone", result.Replaced.DeviceID)

		devices, err := repo.FindDevicesByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)

		switches, err := repo.FindSwitchesByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, switches, 2)
		assert.Equal(t, SwitchTypeReplacement, switches[0].SwitchType)
		assert.Equal(t, "phone", switches[0].FromDeviceID)

		require.Len(t, notifier.SentTypes, 1)
		assert.Equal(t, notification.DeviceReplacement, notifier.SentTypes[0])
		assert.Equal(t, "security@example.com", notifier.SentNotifications[0].To)
	})

	t.Run("re-registering a known device touches it", func(t *testing.T) {
		svc, repo, _, clock := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		clock.now = clock.now.Add(time.Hour)
		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)
		assert.True(t, result.Device.LastUsed.Equal(clock.now))

		// no extra switch is audited for the touch
		count, err := repo.CountSwitchesByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("input validation", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{DeviceID: "phone", DeviceInfo: mobileInfo("P")})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeInvalidInput))

		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{UserID: "user-1", DeviceInfo: mobileInfo("P")})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeInvalidInput))

		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone",
			DeviceInfo: devicedetect.DeviceInfo{DeviceType: "mobile"},
		})
		require.Error(t, err)
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeValidationFailed))
		details := deverrors.GetDetails(err)
		assert.Contains(t, details, "device_name")
		assert.Contains(t, details, "os_version")
	})

	t.Run("descriptor fields are length capped", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		info := mobileInfo(strings.Repeat("x", 150))
		info.DeviceType = "smartwatch" // unknown type collapses to mobile
		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: info,
		})
		require.NoError(t, err)
		assert.Len(t, result.Device.DeviceName, 100)
		assert.Equal(t, "mobile", result.Device.DeviceType)
		assert.Equal(t, devicedetect.DefaultAppVersion, result.Device.AppVersion)
	})

	t.Run("length caps count characters, not bytes", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		// 40 characters but 120 bytes; under the cap, stored intact
		name := strings.Repeat("€", 40)
		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo(name),
		})
		require.NoError(t, err)
		assert.Equal(t, name, result.Device.DeviceName)
		assert.True(t, utf8.ValidString(result.Device.DeviceName))
	})

	t.Run("multi-byte names truncate on rune boundaries", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo(strings.Repeat("é", 120)),
		})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("é", 100), result.Device.DeviceName)
		assert.True(t, utf8.ValidString(result.Device.DeviceName))
	})

	t.Run("interleaved registrations cannot double-fill a slot", func(t *testing.T) {
		svc, repo, _, clock := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone-a", DeviceInfo: mobileInfo("Phone A"),
		})
		require.NoError(t, err)

		// this registration read the empty account before phone-a
		// committed; the store's slot guard must reject its write
		staleSvc := NewDeviceSessionService(
			&staleReadRepo{DeviceRepository: repo},
			WithClock(clock),
		)
		_, err = staleSvc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone-b", DeviceInfo: mobileInfo("Phone B"),
		})
		require.Error(t, err)
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeSlotOccupied))

		devices, err := repo.FindDevicesByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "phone-a", devices[0].DeviceID)
	})
}

func TestVerifyDevice(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
		UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
	})
	require.NoError(t, err)

	t.Run("exact match verifies and touches", func(t *testing.T) {
		clock.now = clock.now.Add(time.Hour)
		result, err := svc.VerifyDevice(ctx, VerifyDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceType: "mobile",
		})
		require.NoError(t, err)
		assert.True(t, result.Verified)
		require.NotNil(t, result.Device)
		assert.True(t, result.Device.LastUsed.Equal(clock.now))
	})

	t.Run("occupied slot requires approval", func(t *testing.T) {
		result, err := svc.VerifyDevice(ctx, VerifyDeviceRequest{
			UserID: "user-1", DeviceID: "other-phone", DeviceType: "mobile",
		})
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.True(t, result.RequiresApproval)
		require.NotNil(t, result.Conflict)
		assert.Equal(t, "phone", result.Conflict.DeviceID)
	})

	t.Run("empty slot invites registration", func(t *testing.T) {
		result, err := svc.VerifyDevice(ctx, VerifyDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceType: "desktop",
		})
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.False(t, result.RequiresApproval)
		assert.True(t, result.CanRegister)
	})
}

func TestRemoveDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("no devices registered", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		_, err := svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", UseFreeQuota: true})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeNotFound))
	})

	t.Run("unknown explicit device", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		_, err = svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "missing"})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeNotFound))
	})

	t.Run("default target is the oldest device", func(t *testing.T) {
		svc, _, notifier, clock := newTestService(t)
		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)
		clock.now = clock.now.Add(time.Hour)
		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceInfo: desktopInfo("Laptop"),
		})
		require.NoError(t, err)

		result, err := svc.RemoveDevice(ctx, RemoveDeviceRequest{
			UserID: "user-1", Reason: "lost device", UseFreeQuota: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "phone", result.RemovedDevice.DeviceID)
		assert.True(t, result.Removal.QuotaUsed)
		assert.Equal(t, "lost device", result.Removal.Reason)
		assert.Equal(t, 0, result.FreeRemovalsLeft)
		assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), result.NextFreeRemovalDate)

		require.Len(t, notifier.SentTypes, 1)
		assert.Equal(t, notification.DeviceRemoval, notifier.SentTypes[0])
	})

	t.Run("free quota exhausts within the month", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)
		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)
		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceInfo: desktopInfo("Laptop"),
		})
		require.NoError(t, err)

		_, err = svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "phone", UseFreeQuota: true})
		require.NoError(t, err)

		_, err = svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "laptop", UseFreeQuota: true})
		require.Error(t, err)
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeQuotaExceeded))
		details := deverrors.GetDetails(err)
		assert.Equal(t, "2025-04-01T00:00:00Z", details["next_free_removal_date"])

		// quota resets when the month rolls over
		clock.now = time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)
		_, err = svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "laptop", UseFreeQuota: true})
		require.NoError(t, err)
	})

	t.Run("non-quota removal bypasses the allowance", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)
		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceInfo: desktopInfo("Laptop"),
		})
		require.NoError(t, err)

		_, err = svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "phone", UseFreeQuota: true})
		require.NoError(t, err)

		result, err := svc.RemoveDevice(ctx, RemoveDeviceRequest{UserID: "user-1", DeviceID: "laptop"})
		require.NoError(t, err)
		assert.False(t, result.Removal.QuotaUsed)
	})
}

func TestListDevicesAndQuota(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	t.Run("empty account", func(t *testing.T) {
		list, err := svc.ListDevices(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, list.Devices)
		assert.Nil(t, list.CurrentDevice)
		assert.True(t, list.Availability.CanAddDevice)
	})

	t.Run("current device is the primary", func(t *testing.T) {
		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)
		clock.now = clock.now.Add(time.Hour)
		_, err = svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "laptop", DeviceInfo: desktopInfo("Laptop"),
		})
		require.NoError(t, err)

		list, err := svc.ListDevices(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalDevices)
		require.NotNil(t, list.CurrentDevice)
		assert.Equal(t, "phone", list.CurrentDevice.DeviceID)
	})

	t.Run("quota endpoint", func(t *testing.T) {
		quota, err := svc.RemovalQuota(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, quota.CanRemoveFree)
		assert.Equal(t, FreeRemovalsPerMonth, quota.FreeRemovalsLimit)
	})
}

func TestRecordSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.RecordSwitch(ctx, SwitchRequest{UserID: "user-1"})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeInvalidInput))

		_, err = svc.RecordSwitch(ctx, SwitchRequest{UserID: "user-1", ToDeviceID: "phone", SwitchType: "teleport"})
		assert.True(t, deverrors.IsCode(err, deverrors.ErrCodeInvalidInput))
	})

	t.Run("empty type defaults to login", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)

		receipt, err := svc.RecordSwitch(ctx, SwitchRequest{UserID: "user-1", ToDeviceID: "phone"})
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.SwitchCountThisMonth)

		switches, err := repo.FindSwitchesByUser(ctx, "user-1", 1)
		require.NoError(t, err)
		assert.Equal(t, SwitchTypeLogin, switches[0].SwitchType)
	})

	t.Run("crossing the monthly threshold notifies", func(t *testing.T) {
		svc, _, notifier, _ := newTestService(t)

		for i := 0; i < 6; i++ {
			_, err := svc.RecordSwitch(ctx, SwitchRequest{
				UserID: "user-1", ToDeviceID: "phone", SwitchType: SwitchTypeForced,
			})
			require.NoError(t, err)
		}

		require.Len(t, notifier.SentTypes, 1)
		assert.Equal(t, notification.SuspiciousSwitching, notifier.SentTypes[0])
	})
}

func TestAutoProvision(t *testing.T) {
	ctx := context.Background()

	t.Run("new account gets a detected device", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)

		result, err := svc.AutoProvision(ctx, AutoProvisionRequest{
			UserID:         "user-1",
			UserAgent:      testIPhoneUA,
			AcceptLanguage: "en-US,en;q=0.9",
			IPAddress:      "10.0.0.1",
		})
		require.NoError(t, err)
		assert.True(t, result.IsNew)
		assert.True(t, strings.HasPrefix(result.Device.DeviceID, devicedetect.DeviceKeyPrefix))
		assert.Equal(t, "mobile", result.Device.DeviceType)
		assert.Equal(t, "Apple", result.Device.Manufacturer)
		assert.True(t, result.Device.IsPrimary)
		assert.Equal(t, "en", result.Device.Locale)

		switches, err := repo.FindSwitchesByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, switches, 1)
		assert.Equal(t, SwitchTypeLogin, switches[0].SwitchType)
	})

	t.Run("occupied slot reuses the existing device", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)

		first, err := svc.AutoProvision(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testIPhoneUA})
		require.NoError(t, err)

		clock.now = clock.now.Add(time.Hour)
		second, err := svc.AutoProvision(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testIPhoneUA})
		require.NoError(t, err)
		assert.False(t, second.IsNew)
		assert.Equal(t, first.Device.DeviceID, second.Device.DeviceID)
		assert.True(t, second.Device.LastUsed.Equal(clock.now))
	})

	t.Run("different slot provisions alongside", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.AutoProvision(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testIPhoneUA})
		require.NoError(t, err)

		result, err := svc.AutoProvision(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testWindowsUA})
		require.NoError(t, err)
		assert.True(t, result.IsNew)
		assert.Equal(t, "desktop", result.Device.DeviceType)

		list, err := svc.ListDevices(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalDevices)
	})

	t.Run("force new replaces the slot occupant", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)

		first, err := svc.AutoProvision(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testIPhoneUA})
		require.NoError(t, err)

		result, err := svc.AutoProvision(ctx, AutoProvisionRequest{
			UserID:    "user-1",
			UserAgent: testIPhoneUA,
			ForceNew:  true,
			ClientInfo: devicedetect.DeviceInfo{
				DeviceName: "Replacement iPhone",
				Model:      "iPhone 15 Pro",
			},
		})
		require.NoError(t, err)
		assert.True(t, result.IsNew)
		assert.NotEqual(t, first.Device.DeviceID, result.Device.DeviceID)
		assert.Equal(t, "Replacement iPhone", result.Device.DeviceName)

		devices, err := repo.FindDevicesByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)

		switches, err := repo.FindSwitchesByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		assert.Equal(t, SwitchTypeForced, switches[0].SwitchType)
		assert.Equal(t, first.Device.DeviceID, switches[0].FromDeviceID)
	})

	t.Run("client descriptor wins over detection", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, err := svc.AutoProvision(ctx, AutoProvisionRequest{
			UserID:    "user-1",
			UserAgent: testWindowsUA,
			ClientInfo: devicedetect.DeviceInfo{
				DeviceName: "Gaming Rig",
				Timezone:   "Europe/Berlin",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Gaming Rig", result.Device.DeviceName)
		assert.Equal(t, "Europe/Berlin", result.Device.Timezone)
		assert.Equal(t, "Microsoft", result.Device.Manufacturer)
	})
}

func TestEnsureDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("deviceless account gets one provisioned", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, err := svc.EnsureDevice(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testWindowsUA})
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.Equal(t, 1, result.DeviceCount)
		assert.True(t, result.Device.IsPrimary)
	})

	t.Run("existing account touches its primary", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)

		_, err := svc.RegisterDevice(ctx, RegisterDeviceRequest{
			UserID: "user-1", DeviceID: "phone", DeviceInfo: mobileInfo("Phone"),
		})
		require.NoError(t, err)

		clock.now = clock.now.Add(time.Hour)
		result, err := svc.EnsureDevice(ctx, AutoProvisionRequest{UserID: "user-1", UserAgent: testWindowsUA})
		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, 1, result.DeviceCount)
		assert.Equal(t, "phone", result.Device.DeviceID)
		assert.True(t, result.Device.LastUsed.Equal(clock.now))
	})
}

func TestDetectDevice(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	info := svc.DetectDevice(testIPhoneUA, "de-DE,de;q=0.9")
	assert.Equal(t, "mobile", info.DeviceType)
	assert.Equal(t, "iOS 17.1", info.OSVersion)
	assert.Equal(t, "de", info.Locale)
}
