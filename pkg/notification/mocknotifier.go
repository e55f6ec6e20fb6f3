package notification

// MockNotifier records notifications for assertions in tests.
type MockNotifier struct {
	SentNotifications []NotificationData
	SentTypes         []NotificationType
}

func (m *MockNotifier) Send(notificationType NotificationType, notification NotificationData) error {
	m.SentTypes = append(m.SentTypes, notificationType)
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}
