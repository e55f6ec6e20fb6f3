package devicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mathify/device-idm/pkg/devicedetect"
	deverrors "github.com/mathify/device-idm/pkg/errors"
	"github.com/mathify/device-idm/pkg/notification"
)

// Descriptor field length caps. Longer values are truncated silently.
const (
	maxDeviceNameLen   = 100
	maxOSVersionLen    = 50
	maxAppVersionLen   = 20
	maxManufacturerLen = 50
	maxModelLen        = 100
	maxResolutionLen   = 20
	maxTimezoneLen     = 50
	maxLocaleLen       = 10
)

// DeviceSessionService orchestrates the slot policy, the removal
// quota, the switch audit trail and storage into the operations the
// HTTP layer exposes.
type DeviceSessionService struct {
	repo          DeviceRepository
	clock         Clock
	auditor       *SwitchAuditor
	accountant    *QuotaAccountant
	notifier      notification.Notifier
	securityEmail string
}

// Option configures a DeviceSessionService.
type Option func(*DeviceSessionService)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(s *DeviceSessionService) {
		s.clock = clock
	}
}

// WithNotifier enables security notifications to the given mailbox.
func WithNotifier(notifier notification.Notifier, securityEmail string) Option {
	return func(s *DeviceSessionService) {
		s.notifier = notifier
		s.securityEmail = securityEmail
	}
}

// NewDeviceSessionService creates a new device session service over
// the given repository.
func NewDeviceSessionService(repo DeviceRepository, opts ...Option) *DeviceSessionService {
	s := &DeviceSessionService{
		repo:  repo,
		clock: SystemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auditor = NewSwitchAuditor(repo, s.clock)
	s.accountant = NewQuotaAccountant(repo, s.clock)
	return s
}

// RegisterDeviceRequest binds a device to an account.
type RegisterDeviceRequest struct {
	UserID       string
	DeviceID     string
	DeviceInfo   devicedetect.DeviceInfo
	ForceReplace bool
	IPAddress    string
}

// RegisterDeviceResult reports the outcome of a registration.
type RegisterDeviceResult struct {
	Device   DeviceRecord  `json:"device"`
	Replaced *DeviceRecord `json:"replaced_device,omitempty"`
}

// RegisterDevice binds a device to an account under the slot policy.
// When the slot is occupied, registration fails unless ForceReplace is
// set, in which case the occupant is replaced atomically and the
// replacement is audited.
func (s *DeviceSessionService) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (RegisterDeviceResult, error) {
	start := s.clock.Now()

	if req.UserID == "" {
		return RegisterDeviceResult{}, deverrors.InvalidInput("user_id", "must not be empty")
	}
	if req.DeviceID == "" {
		return RegisterDeviceResult{}, deverrors.InvalidInput("device_id", "must not be empty")
	}
	info := sanitizeDeviceInfo(req.DeviceInfo)
	if err := validateDeviceInfo(info); err != nil {
		return RegisterDeviceResult{}, err
	}

	devices, err := s.repo.FindDevicesByUser(ctx, req.UserID)
	if err != nil {
		return RegisterDeviceResult{}, deverrors.StoreFailure(err, "failed to load devices")
	}

	// re-registering a known device is a touch, not a conflict
	for _, d := range devices {
		if d.DeviceID == req.DeviceID {
			touched, err := s.repo.UpdateDeviceLastUsed(ctx, req.UserID, req.DeviceID, start, req.IPAddress)
			if err != nil {
				return RegisterDeviceResult{}, deverrors.StoreFailure(err, "failed to update device")
			}
			return RegisterDeviceResult{Device: touched}, nil
		}
	}

	decision := DecideRegistration(devices, SlotOf(info.DeviceType), req.ForceReplace)
	if !decision.Allowed && !decision.Replace {
		return RegisterDeviceResult{}, deverrors.SlotOccupied(
			string(SlotOf(info.DeviceType)), decision.Conflict.DeviceID, decision.Conflict.DeviceName)
	}

	record := s.newDeviceRecord(req.UserID, req.DeviceID, info, start, decision.Primary, req.IPAddress)

	if decision.Replace {
		created, replaced, err := s.repo.ReplaceDevice(ctx, req.UserID, decision.Conflict.DeviceID, record, SwitchRecord{
			UserID:       req.UserID,
			FromDeviceID: decision.Conflict.DeviceID,
			ToDeviceID:   req.DeviceID,
			SwitchType:   SwitchTypeReplacement,
			SwitchedAt:   start,
			IPAddress:    req.IPAddress,
			DeviceInfo:   info,
		})
		if err != nil {
			if errors.Is(err, ErrDeviceExists) {
				return RegisterDeviceResult{}, deverrors.New(deverrors.ErrCodeDeviceExists, "device already registered to this account")
			}
			if errors.Is(err, ErrSlotOccupied) {
				return RegisterDeviceResult{}, s.slotConflict(ctx, req.UserID, SlotOf(info.DeviceType))
			}
			return RegisterDeviceResult{}, deverrors.StoreFailure(err, "failed to replace device")
		}

		s.notifySecurity(notification.DeviceReplacement,
			fmt.Sprintf("Device replaced for account %s", req.UserID),
			fmt.Sprintf("Device %q was replaced by %q.", replaced.DeviceName, created.DeviceName),
			map[string]string{
				"user_id":       req.UserID,
				"old_device_id": replaced.DeviceID,
				"new_device_id": created.DeviceID,
				"new_device_ip": req.IPAddress,
			})

		slog.Info("device registered", "operation", "register", "user_id", req.UserID,
			"device_id", req.DeviceID, "replaced", true, "duration", time.Since(start))
		return RegisterDeviceResult{Device: created, Replaced: &replaced}, nil
	}

	created, err := s.repo.CreateDevice(ctx, record, SwitchRecord{
		UserID:     req.UserID,
		ToDeviceID: req.DeviceID,
		SwitchType: SwitchTypeLogin,
		SwitchedAt: start,
		IPAddress:  req.IPAddress,
		DeviceInfo: info,
	})
	if err != nil {
		if errors.Is(err, ErrDeviceExists) {
			return RegisterDeviceResult{}, deverrors.New(deverrors.ErrCodeDeviceExists, "device already registered to this account")
		}
		if errors.Is(err, ErrSlotOccupied) {
			// a concurrent registration won the slot between our read
			// and the store's conditional write
			return RegisterDeviceResult{}, s.slotConflict(ctx, req.UserID, SlotOf(info.DeviceType))
		}
		return RegisterDeviceResult{}, deverrors.StoreFailure(err, "failed to create device")
	}

	slog.Info("device registered", "operation", "register", "user_id", req.UserID,
		"device_id", req.DeviceID, "replaced", false, "duration", time.Since(start))
	return RegisterDeviceResult{Device: created}, nil
}

// VerifyDeviceRequest probes whether a device may be used for an
// account without mutating registration state beyond a last-used
// touch on exact matches.
type VerifyDeviceRequest struct {
	UserID     string
	DeviceID   string
	DeviceType string
	IPAddress  string
}

// VerifyDeviceResult reports a verification probe outcome. Exactly one
// of Verified, RequiresApproval and CanRegister is set.
type VerifyDeviceResult struct {
	Verified         bool          `json:"verified"`
	RequiresApproval bool          `json:"requires_approval"`
	CanRegister      bool          `json:"can_register"`
	Device           *DeviceRecord `json:"device,omitempty"`
	Conflict         *DeviceRecord `json:"conflict_device,omitempty"`
}

// VerifyDevice checks a device key against the account's registered
// devices. An exact match verifies and touches last-used; an occupied
// slot requires replacement approval; an empty slot invites
// registration.
func (s *DeviceSessionService) VerifyDevice(ctx context.Context, req VerifyDeviceRequest) (VerifyDeviceResult, error) {
	if req.UserID == "" {
		return VerifyDeviceResult{}, deverrors.InvalidInput("user_id", "must not be empty")
	}
	if req.DeviceID == "" {
		return VerifyDeviceResult{}, deverrors.InvalidInput("device_id", "must not be empty")
	}

	devices, err := s.repo.FindDevicesByUser(ctx, req.UserID)
	if err != nil {
		return VerifyDeviceResult{}, deverrors.StoreFailure(err, "failed to load devices")
	}

	decision := DecideVerification(devices, req.DeviceID, SlotOf(normalizeDeviceType(req.DeviceType)))
	switch {
	case decision.Verified:
		touched, err := s.repo.UpdateDeviceLastUsed(ctx, req.UserID, req.DeviceID, s.clock.Now(), req.IPAddress)
		if err != nil {
			return VerifyDeviceResult{}, deverrors.StoreFailure(err, "failed to update device")
		}
		return VerifyDeviceResult{Verified: true, Device: &touched}, nil
	case decision.RequiresApproval:
		return VerifyDeviceResult{RequiresApproval: true, Conflict: decision.Conflict}, nil
	default:
		return VerifyDeviceResult{CanRegister: true}, nil
	}
}

// RemoveDeviceRequest unbinds a device from an account. DeviceID is
// optional; when empty the oldest registered device is removed.
type RemoveDeviceRequest struct {
	UserID       string
	DeviceID     string
	Reason       string
	UseFreeQuota bool
	IPAddress    string
}

// RemoveDeviceResult reports the removal and the remaining quota.
type RemoveDeviceResult struct {
	RemovedDevice       DeviceRecord  `json:"removed_device"`
	Removal             RemovalRecord `json:"removal"`
	FreeRemovalsLeft    int           `json:"free_removals_left"`
	NextFreeRemovalDate time.Time     `json:"next_free_removal_date"`
}

// RemoveDevice unbinds a device and writes its removal audit record
// atomically. Free-quota removals are limited per calendar month;
// once exhausted the operation fails until the month rolls over.
func (s *DeviceSessionService) RemoveDevice(ctx context.Context, req RemoveDeviceRequest) (RemoveDeviceResult, error) {
	start := s.clock.Now()

	if req.UserID == "" {
		return RemoveDeviceResult{}, deverrors.InvalidInput("user_id", "must not be empty")
	}

	devices, err := s.repo.FindDevicesByUser(ctx, req.UserID)
	if err != nil {
		return RemoveDeviceResult{}, deverrors.StoreFailure(err, "failed to load devices")
	}
	if len(devices) == 0 {
		return RemoveDeviceResult{}, deverrors.NotFound("device", "no devices registered for account")
	}

	// default target is the oldest registered device
	target := devices[0]
	if req.DeviceID != "" {
		found := false
		for _, d := range devices {
			if d.DeviceID == req.DeviceID {
				target = d
				found = true
				break
			}
		}
		if !found {
			return RemoveDeviceResult{}, deverrors.NotFound("device", req.DeviceID)
		}
	}

	quota, err := s.accountant.RemovalQuota(ctx, req.UserID)
	if err != nil {
		return RemoveDeviceResult{}, deverrors.StoreFailure(err, "failed to compute removal quota")
	}
	if req.UseFreeQuota && !quota.CanRemoveFree {
		return RemoveDeviceResult{}, deverrors.QuotaExceeded(quota.NextFreeRemovalDate.Format(time.RFC3339))
	}

	removed, removal, err := s.repo.RemoveDevice(ctx, req.UserID, target.DeviceID, RemovalRecord{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		DeviceID:   target.DeviceID,
		DeviceName: target.DeviceName,
		RemovedAt:  start,
		Reason:     req.Reason,
		IPAddress:  req.IPAddress,
		QuotaUsed:  req.UseFreeQuota,
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return RemoveDeviceResult{}, deverrors.NotFound("device", target.DeviceID)
		}
		return RemoveDeviceResult{}, deverrors.StoreFailure(err, "failed to remove device")
	}

	left := quota.FreeRemovalsLimit - quota.FreeRemovalsUsed
	if req.UseFreeQuota {
		left--
	}
	if left < 0 {
		left = 0
	}

	s.notifySecurity(notification.DeviceRemoval,
		fmt.Sprintf("Device removed from account %s", req.UserID),
		fmt.Sprintf("Device %q was removed. Reason: %s", removed.DeviceName, removal.Reason),
		map[string]string{
			"user_id":    req.UserID,
			"device_id":  removed.DeviceID,
			"quota_used": fmt.Sprintf("%t", removal.QuotaUsed),
		})

	slog.Info("device removed", "operation", "remove", "user_id", req.UserID,
		"device_id", removed.DeviceID, "quota_used", removal.QuotaUsed, "duration", time.Since(start))
	return RemoveDeviceResult{
		RemovedDevice:       removed,
		Removal:             removal,
		FreeRemovalsLeft:    left,
		NextFreeRemovalDate: quota.NextFreeRemovalDate,
	}, nil
}

// DeviceList is the account's registration snapshot.
type DeviceList struct {
	Devices       []DeviceRecord   `json:"devices"`
	CurrentDevice *DeviceRecord    `json:"current_device,omitempty"`
	TotalDevices  int              `json:"total_devices"`
	Availability  SlotAvailability `json:"availability"`
}

// ListDevices returns the account's devices (oldest first), the
// current device (primary, or oldest when no primary is flagged) and
// the per-slot headroom.
func (s *DeviceSessionService) ListDevices(ctx context.Context, userID string) (DeviceList, error) {
	if userID == "" {
		return DeviceList{}, deverrors.InvalidInput("user_id", "must not be empty")
	}

	devices, err := s.repo.FindDevicesByUser(ctx, userID)
	if err != nil {
		return DeviceList{}, deverrors.StoreFailure(err, "failed to load devices")
	}

	list := DeviceList{
		Devices:      devices,
		TotalDevices: len(devices),
		Availability: Availability(devices),
	}
	if len(devices) > 0 {
		current := devices[0]
		for _, d := range devices {
			if d.IsPrimary {
				current = d
				break
			}
		}
		list.CurrentDevice = &current
	}
	return list, nil
}

// RemovalQuota returns the account's free-removal quota state for the
// current calendar month.
func (s *DeviceSessionService) RemovalQuota(ctx context.Context, userID string) (RemovalQuota, error) {
	if userID == "" {
		return RemovalQuota{}, deverrors.InvalidInput("user_id", "must not be empty")
	}
	quota, err := s.accountant.RemovalQuota(ctx, userID)
	if err != nil {
		return RemovalQuota{}, deverrors.StoreFailure(err, "failed to compute removal quota")
	}
	return quota, nil
}

// SwitchRequest records a device-to-device transition.
type SwitchRequest struct {
	UserID       string
	FromDeviceID string
	ToDeviceID   string
	SwitchType   string
	IPAddress    string
	DeviceInfo   devicedetect.DeviceInfo
}

// RecordSwitch appends a switch audit record and raises a security
// notification when the account's monthly switch count crosses the
// anomaly threshold.
func (s *DeviceSessionService) RecordSwitch(ctx context.Context, req SwitchRequest) (SwitchReceipt, error) {
	if req.UserID == "" {
		return SwitchReceipt{}, deverrors.InvalidInput("user_id", "must not be empty")
	}
	if req.ToDeviceID == "" {
		return SwitchReceipt{}, deverrors.InvalidInput("to_device_id", "must not be empty")
	}
	switch req.SwitchType {
	case SwitchTypeLogin, SwitchTypeForced, SwitchTypeReplacement:
	case "":
		req.SwitchType = SwitchTypeLogin
	default:
		return SwitchReceipt{}, deverrors.InvalidInput("switch_type",
			fmt.Sprintf("must be one of %s, %s, %s", SwitchTypeLogin, SwitchTypeForced, SwitchTypeReplacement))
	}

	receipt, err := s.auditor.Record(ctx, SwitchRecord{
		UserID:       req.UserID,
		FromDeviceID: req.FromDeviceID,
		ToDeviceID:   req.ToDeviceID,
		SwitchType:   req.SwitchType,
		IPAddress:    req.IPAddress,
		DeviceInfo:   sanitizeDeviceInfo(req.DeviceInfo),
	})
	if err != nil {
		return SwitchReceipt{}, deverrors.StoreFailure(err, "failed to record switch")
	}

	if receipt.SuspiciousActivity {
		s.notifySecurity(notification.SuspiciousSwitching,
			fmt.Sprintf("Suspicious device switching on account %s", req.UserID),
			fmt.Sprintf("Account recorded %d device switches this month.", receipt.SwitchCountThisMonth),
			map[string]string{
				"user_id":      req.UserID,
				"switch_count": fmt.Sprintf("%d", receipt.SwitchCountThisMonth),
			})
	}

	return receipt, nil
}

// SwitchHistory returns the account's recent switches and any derived
// anomaly signals.
func (s *DeviceSessionService) SwitchHistory(ctx context.Context, userID string, limit int) (SwitchHistory, error) {
	if userID == "" {
		return SwitchHistory{}, deverrors.InvalidInput("user_id", "must not be empty")
	}
	history, err := s.auditor.History(ctx, userID, limit)
	if err != nil {
		return SwitchHistory{}, deverrors.StoreFailure(err, "failed to load switch history")
	}
	return history, nil
}

// AutoProvisionRequest provisions a device from connection metadata at
// login time.
type AutoProvisionRequest struct {
	UserID         string
	UserAgent      string
	AcceptLanguage string
	ClientInfo     devicedetect.DeviceInfo
	ForceNew       bool
	IPAddress      string
}

// AutoProvisionResult reports the provisioned or recognized device.
type AutoProvisionResult struct {
	Device DeviceRecord `json:"device"`
	IsNew  bool         `json:"is_new"`
}

// AutoProvision derives a device descriptor from connection metadata,
// overlays any client-supplied fields and binds the device without an
// explicit registration call. When the slot is already occupied the
// occupant is reused unless ForceNew is set, in which case it is
// replaced and the forced switch is audited.
func (s *DeviceSessionService) AutoProvision(ctx context.Context, req AutoProvisionRequest) (AutoProvisionResult, error) {
	start := s.clock.Now()

	if req.UserID == "" {
		return AutoProvisionResult{}, deverrors.InvalidInput("user_id", "must not be empty")
	}

	info := sanitizeDeviceInfo(devicedetect.Merge(req.ClientInfo, devicedetect.Detect(req.UserAgent, req.AcceptLanguage)))

	devices, err := s.repo.FindDevicesByUser(ctx, req.UserID)
	if err != nil {
		return AutoProvisionResult{}, deverrors.StoreFailure(err, "failed to load devices")
	}

	occupant := slotOccupant(devices, SlotOf(info.DeviceType))
	if occupant != nil && !req.ForceNew {
		touched, err := s.repo.UpdateDeviceLastUsed(ctx, req.UserID, occupant.DeviceID, start, req.IPAddress)
		if err != nil {
			return AutoProvisionResult{}, deverrors.StoreFailure(err, "failed to update device")
		}
		slog.Info("device recognized", "operation", "auto_provision", "user_id", req.UserID,
			"device_id", occupant.DeviceID, "duration", time.Since(start))
		return AutoProvisionResult{Device: touched}, nil
	}

	deviceID := devicedetect.GenerateDeviceKey(info)
	record := s.newDeviceRecord(req.UserID, deviceID, info, start, true, req.IPAddress)

	if occupant != nil {
		created, _, err := s.repo.ReplaceDevice(ctx, req.UserID, occupant.DeviceID, record, SwitchRecord{
			UserID:       req.UserID,
			FromDeviceID: occupant.DeviceID,
			ToDeviceID:   deviceID,
			SwitchType:   SwitchTypeForced,
			SwitchedAt:   start,
			IPAddress:    req.IPAddress,
			DeviceInfo:   info,
		})
		if err != nil {
			if errors.Is(err, ErrSlotOccupied) {
				return AutoProvisionResult{}, s.slotConflict(ctx, req.UserID, SlotOf(info.DeviceType))
			}
			return AutoProvisionResult{}, deverrors.StoreFailure(err, "failed to replace device")
		}
		slog.Info("device provisioned", "operation", "auto_provision", "user_id", req.UserID,
			"device_id", deviceID, "forced", true, "duration", time.Since(start))
		return AutoProvisionResult{Device: created, IsNew: true}, nil
	}

	created, err := s.repo.CreateDevice(ctx, record, SwitchRecord{
		UserID:     req.UserID,
		ToDeviceID: deviceID,
		SwitchType: SwitchTypeLogin,
		SwitchedAt: start,
		IPAddress:  req.IPAddress,
		DeviceInfo: info,
	})
	if err != nil {
		if errors.Is(err, ErrSlotOccupied) {
			return AutoProvisionResult{}, s.slotConflict(ctx, req.UserID, SlotOf(info.DeviceType))
		}
		return AutoProvisionResult{}, deverrors.StoreFailure(err, "failed to create device")
	}

	slog.Info("device provisioned", "operation", "auto_provision", "user_id", req.UserID,
		"device_id", deviceID, "forced", false, "duration", time.Since(start))
	return AutoProvisionResult{Device: created, IsNew: true}, nil
}

// EnsureDeviceResult reports the account's active device after an
// ensure call.
type EnsureDeviceResult struct {
	Device      DeviceRecord `json:"device"`
	Created     bool         `json:"created"`
	DeviceCount int          `json:"device_count"`
}

// EnsureDevice guarantees the account has at least one bound device.
// Accounts with devices get their primary (or oldest) touched;
// deviceless accounts get one provisioned from connection metadata.
func (s *DeviceSessionService) EnsureDevice(ctx context.Context, req AutoProvisionRequest) (EnsureDeviceResult, error) {
	start := s.clock.Now()

	if req.UserID == "" {
		return EnsureDeviceResult{}, deverrors.InvalidInput("user_id", "must not be empty")
	}

	devices, err := s.repo.FindDevicesByUser(ctx, req.UserID)
	if err != nil {
		return EnsureDeviceResult{}, deverrors.StoreFailure(err, "failed to load devices")
	}

	if len(devices) > 0 {
		active := devices[0]
		for _, d := range devices {
			if d.IsPrimary {
				active = d
				break
			}
		}
		touched, err := s.repo.UpdateDeviceLastUsed(ctx, req.UserID, active.DeviceID, start, req.IPAddress)
		if err != nil {
			return EnsureDeviceResult{}, deverrors.StoreFailure(err, "failed to update device")
		}
		return EnsureDeviceResult{Device: touched, DeviceCount: len(devices)}, nil
	}

	info := sanitizeDeviceInfo(devicedetect.Merge(req.ClientInfo, devicedetect.Detect(req.UserAgent, req.AcceptLanguage)))
	deviceID := devicedetect.GenerateDeviceKey(info)
	record := s.newDeviceRecord(req.UserID, deviceID, info, start, true, req.IPAddress)

	created, err := s.repo.CreateDevice(ctx, record, SwitchRecord{
		UserID:     req.UserID,
		ToDeviceID: deviceID,
		SwitchType: SwitchTypeLogin,
		SwitchedAt: start,
		IPAddress:  req.IPAddress,
		DeviceInfo: info,
	})
	if err != nil {
		if errors.Is(err, ErrSlotOccupied) {
			return EnsureDeviceResult{}, s.slotConflict(ctx, req.UserID, SlotOf(info.DeviceType))
		}
		return EnsureDeviceResult{}, deverrors.StoreFailure(err, "failed to create device")
	}

	slog.Info("device ensured", "operation", "ensure", "user_id", req.UserID,
		"device_id", deviceID, "duration", time.Since(start))
	return EnsureDeviceResult{Device: created, Created: true, DeviceCount: 1}, nil
}

// DetectDevice derives a device descriptor from connection metadata
// without touching registration state.
func (s *DeviceSessionService) DetectDevice(userAgent, acceptLanguage string) devicedetect.DeviceInfo {
	return devicedetect.Detect(userAgent, acceptLanguage)
}

func (s *DeviceSessionService) newDeviceRecord(userID, deviceID string, info devicedetect.DeviceInfo, now time.Time, primary bool, ip string) DeviceRecord {
	return DeviceRecord{
		UserID:           userID,
		DeviceID:         deviceID,
		DeviceName:       info.DeviceName,
		DeviceType:       info.DeviceType,
		OSVersion:        info.OSVersion,
		AppVersion:       info.AppVersion,
		Manufacturer:     info.Manufacturer,
		Model:            info.Model,
		ScreenResolution: info.ScreenResolution,
		Timezone:         info.Timezone,
		Locale:           info.Locale,
		RegisteredAt:     now,
		LastUsed:         now,
		IsPrimary:        primary,
		IPAddress:        ip,
	}
}

// slotConflict builds the conflict error for a slot the store refused
// to double-fill, with the winning occupant's details when it is still
// registered.
func (s *DeviceSessionService) slotConflict(ctx context.Context, userID string, slot SlotClass) error {
	devices, err := s.repo.FindDevicesByUser(ctx, userID)
	if err == nil {
		if occupant := slotOccupant(devices, slot); occupant != nil {
			return deverrors.SlotOccupied(string(slot), occupant.DeviceID, occupant.DeviceName)
		}
	}
	return deverrors.SlotOccupied(string(slot), "", "")
}

// notifySecurity delivers a security notification when a notifier is
// configured. Delivery failures are logged, never propagated: the
// triggering operation has already committed.
func (s *DeviceSessionService) notifySecurity(notificationType notification.NotificationType, subject, body string, data map[string]string) {
	if s.notifier == nil || s.securityEmail == "" {
		return
	}
	err := s.notifier.Send(notificationType, notification.NotificationData{
		To:      s.securityEmail,
		Subject: subject,
		Body:    body,
		Data:    data,
	})
	if err != nil {
		slog.Error("failed to send security notification", "type", notificationType, "err", err)
	}
}

// sanitizeDeviceInfo normalizes a client-supplied descriptor: fields
// are length-capped and unknown device types collapse to mobile.
func sanitizeDeviceInfo(info devicedetect.DeviceInfo) devicedetect.DeviceInfo {
	info.DeviceName = truncate(info.DeviceName, maxDeviceNameLen)
	info.DeviceType = normalizeDeviceType(info.DeviceType)
	info.OSVersion = truncate(info.OSVersion, maxOSVersionLen)
	info.AppVersion = truncate(info.AppVersion, maxAppVersionLen)
	if info.AppVersion == "" {
		info.AppVersion = devicedetect.DefaultAppVersion
	}
	info.Manufacturer = truncate(info.Manufacturer, maxManufacturerLen)
	info.Model = truncate(info.Model, maxModelLen)
	info.ScreenResolution = truncate(info.ScreenResolution, maxResolutionLen)
	info.Timezone = truncate(info.Timezone, maxTimezoneLen)
	info.Locale = truncate(info.Locale, maxLocaleLen)
	return info
}

// validateDeviceInfo enforces required descriptor fields after
// sanitization.
func validateDeviceInfo(info devicedetect.DeviceInfo) error {
	missing := map[string]interface{}{}
	if info.DeviceName == "" {
		missing["device_name"] = "required"
	}
	if info.OSVersion == "" {
		missing["os_version"] = "required"
	}
	if len(missing) > 0 {
		return deverrors.ValidationFailed(missing)
	}
	return nil
}

func normalizeDeviceType(deviceType string) string {
	switch deviceType {
	case devicedetect.DeviceTypeMobile, devicedetect.DeviceTypeTablet, devicedetect.DeviceTypeDesktop:
		return deviceType
	default:
		return devicedetect.DeviceTypeMobile
	}
}

// truncate caps a string at max characters, never splitting a
// multi-byte rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
