package report

import (
	"context"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

// Scheduler asks for a wind report every interval. It stops when an OTA
// update starts.
type Scheduler struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Data     *bus.Channel[bus.ApplicationDataChange]
}

func (s *Scheduler) Run(ctx context.Context, events *bus.Subscription[bus.ApplicationStateChange]) error {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(s.Interval)
	defer ticker.Stop()
	logger.Infof("Report scheduler started, interval [%v]", s.Interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Info("OTA Update started, shutting down report scheduler")
				return nil
			}
		case <-ticker.Chan():
			s.Data.Publish(bus.ReportWindData)
		}
	}
}
