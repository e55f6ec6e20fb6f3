package devicesession

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Anomaly thresholds for switch-pattern heuristics
const (
	monthlySwitchThreshold = 5
	rapidSwitchWindow      = 24 * time.Hour
	rapidSwitchThreshold   = 3
)

// History page size bounds
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

// SwitchReceipt is returned after recording a switch event.
type SwitchReceipt struct {
	SwitchID             string    `json:"switch_id"`
	RecordedAt           time.Time `json:"recorded_at"`
	SwitchCountThisMonth int       `json:"switch_count_this_month"`
	SuspiciousActivity   bool      `json:"suspicious_activity"`
}

// SuspiciousPattern is an advisory anomaly signal derived from switch
// frequency. It never blocks an operation; callers (e.g. a fraud-review
// workflow) decide the response.
type SuspiciousPattern struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// SwitchHistory is the paged audit view of an account's switches.
type SwitchHistory struct {
	Switches           []SwitchRecord      `json:"switches"`
	TotalSwitches      int                 `json:"total_switches"`
	ThisMonthSwitches  int                 `json:"this_month_switches"`
	SuspiciousPatterns []SuspiciousPattern `json:"suspicious_patterns"`
}

// SwitchStore is the slice of the repository the auditor needs.
type SwitchStore interface {
	CreateSwitch(ctx context.Context, sw SwitchRecord) (SwitchRecord, error)
	FindSwitchesByUser(ctx context.Context, userID string, limit int) ([]SwitchRecord, error)
	CountSwitchesByUser(ctx context.Context, userID string) (int, error)
	CountSwitchesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// SwitchAuditor records device-switch events and derives anomaly
// signals from switch frequency.
type SwitchAuditor struct {
	switches SwitchStore
	clock    Clock
}

// NewSwitchAuditor creates an auditor over the given switch store.
func NewSwitchAuditor(switches SwitchStore, clock Clock) *SwitchAuditor {
	if clock == nil {
		clock = SystemClock()
	}
	return &SwitchAuditor{switches: switches, clock: clock}
}

// Record appends a switch event and returns its identity, timestamp
// and the account's switch count for the current calendar month.
func (a *SwitchAuditor) Record(ctx context.Context, sw SwitchRecord) (SwitchReceipt, error) {
	if sw.ID == "" {
		sw.ID = uuid.New().String()
	}
	if sw.SwitchedAt.IsZero() {
		sw.SwitchedAt = a.clock.Now()
	}

	created, err := a.switches.CreateSwitch(ctx, sw)
	if err != nil {
		return SwitchReceipt{}, fmt.Errorf("failed to create switch record: %w", err)
	}

	monthCount, err := a.switches.CountSwitchesSince(ctx, sw.UserID, monthStart(a.clock.Now()))
	if err != nil {
		return SwitchReceipt{}, fmt.Errorf("failed to count monthly switches: %w", err)
	}

	return SwitchReceipt{
		SwitchID:             created.ID,
		RecordedAt:           created.SwitchedAt,
		SwitchCountThisMonth: monthCount,
		SuspiciousActivity:   monthCount > monthlySwitchThreshold,
	}, nil
}

// History returns the account's most recent switches (descending by
// time), total and monthly counts, and any derived anomaly signals.
// The page size is clamped to [1, MaxHistoryLimit]; a non-positive
// limit selects DefaultHistoryLimit.
func (a *SwitchAuditor) History(ctx context.Context, userID string, limit int) (SwitchHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	switches, err := a.switches.FindSwitchesByUser(ctx, userID, limit)
	if err != nil {
		return SwitchHistory{}, fmt.Errorf("failed to find switches: %w", err)
	}

	total, err := a.switches.CountSwitchesByUser(ctx, userID)
	if err != nil {
		return SwitchHistory{}, fmt.Errorf("failed to count switches: %w", err)
	}

	now := a.clock.Now()
	monthCount, err := a.switches.CountSwitchesSince(ctx, userID, monthStart(now))
	if err != nil {
		return SwitchHistory{}, fmt.Errorf("failed to count monthly switches: %w", err)
	}

	recentCount, err := a.switches.CountSwitchesSince(ctx, userID, now.Add(-rapidSwitchWindow))
	if err != nil {
		return SwitchHistory{}, fmt.Errorf("failed to count recent switches: %w", err)
	}

	// both checks are independent and may both fire
	patterns := []SuspiciousPattern{}
	if monthCount > monthlySwitchThreshold {
		patterns = append(patterns, SuspiciousPattern{
			Type:        "excessive_switching",
			Description: fmt.Sprintf("%d device switches this month (threshold: %d)", monthCount, monthlySwitchThreshold),
			Severity:    "high",
		})
	}
	if recentCount > rapidSwitchThreshold {
		patterns = append(patterns, SuspiciousPattern{
			Type:        "rapid_switching",
			Description: fmt.Sprintf("%d switches in last 24 hours", recentCount),
			Severity:    "medium",
		})
	}

	return SwitchHistory{
		Switches:           switches,
		TotalSwitches:      total,
		ThisMonthSwitches:  monthCount,
		SuspiciousPatterns: patterns,
	}, nil
}
