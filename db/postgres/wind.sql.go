package postgres

import (
	"context"
	"time"
)

const createWindTable = `
CREATE TABLE IF NOT EXISTS wind_record (
    id             BIGSERIAL PRIMARY KEY,
    device_id      TEXT NOT NULL,
    recorded_at    TIMESTAMPTZ NOT NULL,
    samples        INTEGER NOT NULL,
    wind_speed     DOUBLE PRECISION NOT NULL,
    wind_gust      DOUBLE PRECISION NOT NULL,
    wind_max       DOUBLE PRECISION NOT NULL,
    wind_direction DOUBLE PRECISION NOT NULL
)
`

func (q *Queries) CreateSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, createWindTable)
	return err
}

const writeRecord = `
INSERT INTO wind_record (
    device_id, recorded_at, samples, wind_speed, wind_gust, wind_max, wind_direction
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
`

type WriteRecordParams struct {
	DeviceID      string
	RecordedAt    time.Time
	Samples       int
	WindSpeed     float64
	WindGust      float64
	WindMax       float64
	WindDirection float64
}

func (q *Queries) WriteRecord(ctx context.Context, arg WriteRecordParams) error {
	_, err := q.db.ExecContext(ctx, writeRecord,
		arg.DeviceID,
		arg.RecordedAt,
		arg.Samples,
		arg.WindSpeed,
		arg.WindGust,
		arg.WindMax,
		arg.WindDirection,
	)
	return err
}
