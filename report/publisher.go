package report

import (
	"context"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/metrics"
	"github.com/gr-butler/anemometer/wind"
	logger "github.com/sirupsen/logrus"
)

type Report struct {
	DeviceID string `json:"device_id"`
	Software string `json:"software,omitempty"`
	wind.Snapshot
}

// Sink is a destination for periodic wind reports.
type Sink interface {
	Name() string
	Send(ctx context.Context, r Report) error
}

type Publisher struct {
	DeviceID    string
	Software    string
	History     *wind.History
	Sinks       []Sink
	SendTimeout time.Duration
}

// Run sends a report to every sink for each ReportWindData event. The gust
// peak is cleared with each report so every report covers its own period.
func (p *Publisher) Run(ctx context.Context, data *bus.Subscription[bus.ApplicationDataChange], events *bus.Subscription[bus.ApplicationStateChange]) error {
	logger.Info("Publisher Task Started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Info("OTA Update started, shutting down publisher")
				return nil
			}
		case d := <-data.C():
			if d == bus.ReportWindData {
				p.Publish(ctx)
			}
		}
	}
}

func (p *Publisher) Publish(ctx context.Context) Report {
	r := Report{
		DeviceID: p.DeviceID,
		Software: p.Software,
		Snapshot: p.History.SnapshotAndClearGust(),
	}
	logger.Infof("Wind report speed [%.2f], gust [%.2f], max [%.2f], dir [%.0f] samples [%v]",
		r.AvgSpeed, r.GustSpeed, r.MaxSpeed, r.AvgDirection, r.Samples)

	metrics.Prom_windspeed.Set(r.AvgSpeed)
	metrics.Prom_windgust.Set(r.GustSpeed)
	metrics.Prom_windmax.Set(r.MaxSpeed)
	metrics.Prom_windDirection.Set(r.AvgDirection)

	if !r.HasData {
		logger.Info("No wind samples yet, skipping sinks")
		return r
	}

	timeout := p.SendTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	for _, s := range p.Sinks {
		func() {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := s.Send(sctx, r); err != nil {
				logger.Errorf("Failed to send report to [%v] [%v]", s.Name(), err)
				metrics.Prom_reports.WithLabelValues(s.Name(), "error").Inc()
				return
			}
			metrics.Prom_reports.WithLabelValues(s.Name(), "ok").Inc()
		}()
	}
	return r
}
