// Package devicedetect derives a best-effort device descriptor from
// connection metadata (user agent and accept-language strings) and
// generates opaque device keys from descriptors.
//
// Detection is a pure function of its input: no stored state, no I/O.
// Classification and platform parsing are driven by ordered rule tables
// evaluated first-match-wins, so the policy stays auditable and new
// platforms can be added without touching branching logic.
package devicedetect

import (
	"regexp"
	"strings"
	"time"
)

// Device types recognized by the detector
const (
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeDesktop = "desktop"
)

// DefaultAppVersion is reported when the client did not supply one;
// the application version cannot be inferred from connection metadata.
const DefaultAppVersion = "1.0.0"

// DeviceInfo is the descriptor for a physical or logical device.
// Field names mirror the wire format used by the device API.
type DeviceInfo struct {
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

// classRule maps a user-agent marker to a device type. Rules are
// evaluated in order; the tablet marker must come before the generic
// mobile markers since iPad user agents also contain "Mobile".
type classRule struct {
	marker     *regexp.Regexp
	deviceType string
}

var classRules = []classRule{
	{regexp.MustCompile(`iPad`), DeviceTypeTablet},
	{regexp.MustCompile(`Mobile|Android|iPhone`), DeviceTypeMobile},
}

// platformRule extracts OS version, manufacturer and model for one
// platform family. More specific families (Apple phone/tablet) come
// before macOS, whose marker also appears in iOS user agents.
type platformRule struct {
	marker       *regexp.Regexp
	version      *regexp.Regexp
	osName       string
	dotted       bool // version uses underscores that map to dots
	manufacturer string
	model        *regexp.Regexp // optional model extraction
	defaultModel string
}

var platformRules = []platformRule{
	{
		marker:       regexp.MustCompile(`iPhone`),
		version:      regexp.MustCompile(`OS ([\d_]+)`),
		osName:       "iOS",
		dotted:       true,
		manufacturer: "Apple",
		defaultModel: "iPhone",
	},
	{
		marker:       regexp.MustCompile(`iPad`),
		version:      regexp.MustCompile(`OS ([\d_]+)`),
		osName:       "iPadOS",
		dotted:       true,
		manufacturer: "Apple",
		defaultModel: "iPad",
	},
	{
		marker:       regexp.MustCompile(`Android`),
		version:      regexp.MustCompile(`Android ([\d.]+)`),
		osName:       "Android",
		manufacturer: "Android",
		model:        regexp.MustCompile(`;\s*([^;)]+)\s*\)`),
		defaultModel: "Android Device",
	},
	{
		marker:       regexp.MustCompile(`Windows`),
		version:      regexp.MustCompile(`Windows NT ([\d.]+)`),
		osName:       "Windows",
		manufacturer: "Microsoft",
		defaultModel: "Windows PC",
	},
	{
		marker:       regexp.MustCompile(`Mac OS X`),
		version:      regexp.MustCompile(`Mac OS X ([\d_]+)`),
		osName:       "macOS",
		dotted:       true,
		manufacturer: "Apple",
		defaultModel: "Mac",
	},
}

// Detect derives a device descriptor from a user-agent string and an
// accept-language string. Every field that cannot be parsed falls back
// to "unknown"; locale falls back to "en".
func Detect(userAgent, acceptLanguage string) DeviceInfo {
	info := DeviceInfo{
		DeviceType:       DeviceTypeDesktop,
		OSVersion:        "unknown",
		AppVersion:       DefaultAppVersion,
		Manufacturer:     "unknown",
		Model:            "unknown",
		ScreenResolution: "unknown", // not detectable server side
		Timezone:         systemTimezone(),
		Locale:           primaryLocale(acceptLanguage),
	}

	for _, rule := range classRules {
		if rule.marker.MatchString(userAgent) {
			info.DeviceType = rule.deviceType
			break
		}
	}

	for _, rule := range platformRules {
		if !rule.marker.MatchString(userAgent) {
			continue
		}
		info.OSVersion = rule.osName
		if m := rule.version.FindStringSubmatch(userAgent); m != nil {
			ver := m[1]
			if rule.dotted {
				ver = strings.ReplaceAll(ver, "_", ".")
			}
			info.OSVersion = rule.osName + " " + ver
		}
		info.Manufacturer = rule.manufacturer
		info.Model = rule.defaultModel
		if rule.model != nil {
			if m := rule.model.FindStringSubmatch(userAgent); m != nil {
				info.Model = strings.TrimSpace(m[1])
			}
		}
		break
	}

	info.DeviceName = strings.TrimSpace(info.Manufacturer + " " + info.Model)
	return info
}

// Merge overlays client-supplied descriptor fields over detected ones.
// Client values win whenever present and non-empty.
func Merge(client, detected DeviceInfo) DeviceInfo {
	return DeviceInfo{
		DeviceName:       firstNonEmpty(client.DeviceName, detected.DeviceName),
		DeviceType:       firstNonEmpty(client.DeviceType, detected.DeviceType),
		OSVersion:        firstNonEmpty(client.OSVersion, detected.OSVersion),
		AppVersion:       firstNonEmpty(client.AppVersion, detected.AppVersion),
		Manufacturer:     firstNonEmpty(client.Manufacturer, detected.Manufacturer),
		Model:            firstNonEmpty(client.Model, detected.Model),
		ScreenResolution: firstNonEmpty(client.ScreenResolution, detected.ScreenResolution),
		Timezone:         firstNonEmpty(client.Timezone, detected.Timezone),
		Locale:           firstNonEmpty(client.Locale, detected.Locale),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// primaryLocale returns the primary subtag of the first language tag
// in an Accept-Language header value, defaulting to "en".
func primaryLocale(acceptLanguage string) string {
	first := strings.TrimSpace(strings.SplitN(acceptLanguage, ",", 2)[0])
	if first == "" {
		return "en"
	}
	// strip quality value and region subtag: "en-US;q=0.9" -> "en"
	first = strings.SplitN(first, ";", 2)[0]
	primary := strings.SplitN(first, "-", 2)[0]
	primary = strings.TrimSpace(primary)
	if primary == "" {
		return "en"
	}
	return strings.ToLower(primary)
}

// systemTimezone returns the server's zone name, defaulting to UTC when
// the local zone is unnamed.
func systemTimezone() string {
	name := time.Local.String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}
