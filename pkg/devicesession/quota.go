package devicesession

import (
	"context"
	"fmt"
	"time"
)

// FreeRemovalsPerMonth is the complimentary device-removal allowance
// per account per calendar month.
const FreeRemovalsPerMonth = 1

// RemovalQuota reports an account's free-removal consumption for the
// current calendar month.
type RemovalQuota struct {
	FreeRemovalsUsed    int       `json:"free_removals_used"`
	FreeRemovalsLimit   int       `json:"free_removals_limit"`
	NextFreeRemovalDate time.Time `json:"next_free_removal_date"`
	CanRemoveFree       bool      `json:"can_remove_free"`
	// Premium removals are not implemented; the field is a fixed
	// placeholder so the wire shape stays stable.
	PremiumRemovalsAvailable bool `json:"premium_removals_available"`
}

// RemovalCounter is the slice of the repository the accountant needs.
type RemovalCounter interface {
	CountQuotaRemovalsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// QuotaAccountant computes monthly free-removal quota consumption.
// The monthly boundary is the account-agnostic wall-clock calendar
// month of the injected clock, not a rolling 30-day window.
type QuotaAccountant struct {
	removals RemovalCounter
	clock    Clock
}

// NewQuotaAccountant creates an accountant over the given removal store.
func NewQuotaAccountant(removals RemovalCounter, clock Clock) *QuotaAccountant {
	if clock == nil {
		clock = SystemClock()
	}
	return &QuotaAccountant{removals: removals, clock: clock}
}

// RemovalQuota returns the account's quota state for the current month.
func (a *QuotaAccountant) RemovalQuota(ctx context.Context, userID string) (RemovalQuota, error) {
	now := a.clock.Now()

	used, err := a.removals.CountQuotaRemovalsSince(ctx, userID, monthStart(now))
	if err != nil {
		return RemovalQuota{}, fmt.Errorf("failed to count quota removals: %w", err)
	}

	return RemovalQuota{
		FreeRemovalsUsed:    used,
		FreeRemovalsLimit:   FreeRemovalsPerMonth,
		NextFreeRemovalDate: nextMonthStart(now),
		CanRemoveFree:       used < FreeRemovalsPerMonth,
	}, nil
}

// monthStart returns the first instant of t's calendar month.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// nextMonthStart returns the first instant of the month after t's.
func nextMonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}
