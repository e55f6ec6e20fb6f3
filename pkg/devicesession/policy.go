package devicesession

// Device count ceilings. One mobile-like plus one desktop device per
// account; the total ceiling follows directly from the per-slot rule.
const (
	MaxDevicesPerSlot = 1
	MaxDevicesPerUser = 2
)

// RegistrationDecision is the outcome of the slot policy for a
// registration attempt.
type RegistrationDecision struct {
	Allowed  bool          // registration may proceed as a plain insert
	Replace  bool          // registration must replace Conflict atomically
	Primary  bool          // the new device becomes primary for its slot
	Conflict *DeviceRecord // blocking device when the slot is occupied
}

// VerificationDecision is the outcome of the slot policy for a
// verification probe. Verification never mutates registration state.
type VerificationDecision struct {
	Verified         bool
	RequiresApproval bool
	Device           *DeviceRecord // exact-match device when Verified
	Conflict         *DeviceRecord // occupying device when approval is required
}

// SlotAvailability reports how many more devices an account can bind.
type SlotAvailability struct {
	DeviceLimit         int  `json:"device_limit"`
	MobileDeviceLimit   int  `json:"mobile_device_limit"`
	DesktopDeviceLimit  int  `json:"desktop_device_limit"`
	CanAddMobileDevice  bool `json:"can_add_mobile_device"`
	CanAddDesktopDevice bool `json:"can_add_desktop_device"`
	CanAddDevice        bool `json:"can_add_device"`
}

// DecideRegistration applies the one-device-per-slot policy to a
// registration attempt. Pure function of its inputs.
func DecideRegistration(current []DeviceRecord, candidate SlotClass, forceReplace bool) RegistrationDecision {
	occupant := slotOccupant(current, candidate)

	if occupant == nil {
		// first device in the slot becomes primary
		return RegistrationDecision{Allowed: true, Primary: true}
	}
	if forceReplace {
		// replacement always promotes the new device to slot primary
		return RegistrationDecision{Replace: true, Primary: true, Conflict: occupant}
	}
	return RegistrationDecision{Conflict: occupant}
}

// DecideVerification applies the slot policy to a verification probe:
// an exact key match verifies; an occupied slot requires approval;
// an empty slot means the device is safe to register.
func DecideVerification(current []DeviceRecord, deviceID string, candidate SlotClass) VerificationDecision {
	for i := range current {
		if current[i].DeviceID == deviceID {
			return VerificationDecision{Verified: true, Device: &current[i]}
		}
	}
	if occupant := slotOccupant(current, candidate); occupant != nil {
		return VerificationDecision{RequiresApproval: true, Conflict: occupant}
	}
	return VerificationDecision{}
}

// Availability computes the per-slot headroom for an account.
func Availability(current []DeviceRecord) SlotAvailability {
	mobile, desktop := partitionBySlot(current)
	return SlotAvailability{
		DeviceLimit:         MaxDevicesPerUser,
		MobileDeviceLimit:   MaxDevicesPerSlot,
		DesktopDeviceLimit:  MaxDevicesPerSlot,
		CanAddMobileDevice:  len(mobile) == 0,
		CanAddDesktopDevice: len(desktop) == 0,
		CanAddDevice:        len(current) < MaxDevicesPerUser,
	}
}

// slotOccupant returns the first device occupying the given slot, or
// nil when the slot is empty.
func slotOccupant(current []DeviceRecord, slot SlotClass) *DeviceRecord {
	for i := range current {
		if current[i].Slot() == slot {
			return &current[i]
		}
	}
	return nil
}

func partitionBySlot(devices []DeviceRecord) (mobileLike, desktop []DeviceRecord) {
	for _, d := range devices {
		if d.Slot() == SlotMobile {
			mobileLike = append(mobileLike, d)
		} else {
			desktop = append(desktop, d)
		}
	}
	return mobileLike, desktop
}
