package postgres

import (
	"context"

	"github.com/gr-butler/anemometer/report"
)

// Sink stores one row per wind report.
type Sink struct {
	Db *Queries
}

func (s *Sink) Name() string {
	return "postgres"
}

func (s *Sink) Send(ctx context.Context, r report.Report) error {
	return s.Db.WriteRecord(ctx, WriteRecordParams{
		DeviceID:      r.DeviceID,
		RecordedAt:    r.Time.UTC(),
		Samples:       r.Samples,
		WindSpeed:     r.AvgSpeed,
		WindGust:      r.GustSpeed,
		WindMax:       r.MaxSpeed,
		WindDirection: r.AvgDirection,
	})
}
