package alarm

import (
	"context"

	"ticker-alarm-bot/internal/types"
)

// PriceSource looks up the latest price of a ticker. Implementations must be
// safe for concurrent use and report failures as errors.
type PriceSource interface {
	Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error)
}

// Store durably records alarms and their lifecycle.
type Store interface {
	InsertAlarm(ctx context.Context, alarm types.Alarm) error
	// MarkRetired deactivates the active record for id. It is a no-op when
	// the record is already inactive.
	MarkRetired(ctx context.Context, id string, reason types.Reason) error
	ListActive(ctx context.Context, ownerID int64) ([]types.Alarm, error)
	ListAllActive(ctx context.Context) ([]types.Alarm, error)
}

// Notifier delivers text to an alarm owner. Delivery failures are the
// notifier's to log; the scheduler never retries.
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, text string) error
}

// Metrics receives scheduler events.
type Metrics interface {
	AlarmRegistered()
	AlarmTicked()
	AlarmNotified()
	AlarmRetired(reason types.Reason)
	PriceFetchFailed()
	LiveAlarms(n int)
}

type nopMetrics struct{}

func (nopMetrics) AlarmRegistered() {}
func (nopMetrics) AlarmTicked() {}
func (nopMetrics) AlarmNotified() {}
func (nopMetrics) AlarmRetired(types.Reason) {}
func (nopMetrics) PriceFetchFailed() {}
func (nopMetrics) LiveAlarms(int) {}
