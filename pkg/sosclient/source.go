package sosclient

import (
	"context"
	"time"

	"goride-sos/internal/models"
)

// LocationSource produces position fixes from the device. Subscribe returns
// a channel that closes when ctx is cancelled; consumers can range over it
// without leaking goroutines.
type LocationSource interface {
	Subscribe(ctx context.Context) <-chan models.LocationSample
}

// TickerSource polls a position function at a fixed interval. SampleFunc
// returning false skips a tick (no GPS fix yet).
type TickerSource struct {
	Interval   time.Duration
	SampleFunc func() (models.LocationSample, bool)
}

func (t *TickerSource) Subscribe(ctx context.Context) <-chan models.LocationSample {
	out := make(chan models.LocationSample)

	go func() {
		defer close(out)

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample, ok := t.SampleFunc()
				if !ok {
					continue
				}
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
