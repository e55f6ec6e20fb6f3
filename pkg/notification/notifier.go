// Package notification delivers security notifications raised by the
// device session service: device removals, forced replacements and
// suspicious switching patterns.
package notification

// NotificationType identifies the security event being reported.
type NotificationType string

const (
	DeviceRemoval       NotificationType = "device_removal"
	DeviceReplacement   NotificationType = "device_replacement"
	SuspiciousSwitching NotificationType = "suspicious_switching"
)

type NotificationData struct {
	To      string            // Recipient identifier (e.g., email address)
	Subject string            // Subject line for email-like channels
	Body    string            // The content or message to send
	Data    map[string]string // Additional event metadata
}

type Notifier interface {
	Send(notificationType NotificationType, notification NotificationData) error
}
