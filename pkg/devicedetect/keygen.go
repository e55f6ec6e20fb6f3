package devicedetect

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DeviceKeyPrefix tags every generated device key.
const DeviceKeyPrefix = "device_"

// deviceKeyHexLen is the number of digest hex characters kept in a key.
const deviceKeyHexLen = 16

// GenerateDeviceKey produces a globally-unique opaque device key from a
// descriptor. The key is a fixed-length hex digest of the descriptor's
// identity fields plus a salt combining the current time and randomness,
// so two calls with identical input yield different keys. Uniqueness is
// probabilistic; the store's unique-key write is the collision guard.
func GenerateDeviceKey(info DeviceInfo) string {
	identifier := fmt.Sprintf("%s-%s-%s-%s",
		orUnknown(info.Manufacturer),
		orUnknown(info.Model),
		orUnknown(info.OSVersion),
		orUnknown(info.DeviceName),
	)

	salt := strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + randomHex(8)

	sum := sha256.Sum256([]byte(identifier + "-" + salt))
	return DeviceKeyPrefix + hex.EncodeToString(sum[:])[:deviceKeyHexLen]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the clock so key generation cannot block registration.
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
