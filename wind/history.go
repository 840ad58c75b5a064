package wind

import (
	"math"
	"sync"
	"time"

	"github.com/gr-butler/anemometer/buffer"
)

/*
The data stored in the history is raw, the wind speed is held in rotations per
second. Conversion to a physical unit happens on the way out using the
calibration factor.

WMO-No. 8, 1.3.2.4: wind, except wind gusts, is reported as a 2 or 10 minute
average. The gust is the maximum three second average occurring in the
reporting period. With a 2Hz sampling rate the defaults are a 240 sample speed
window and a 6 sample gust window.
*/

type Config struct {
	GustLength      int
	SpeedLength     int
	DirectionLength int
	// rps -> output unit (km/h)
	Calibration float64
}

type History struct {
	lock        sync.Mutex
	speedBuf    *buffer.SampleBuffer
	dirBuf      *buffer.SampleBuffer
	gustLength  int
	gustPeak    float64
	calibration float64
}

type Snapshot struct {
	Time         time.Time `json:"time"`
	HasData      bool      `json:"has_data"`
	Samples      int       `json:"samples"`
	Rps          float64   `json:"rps"`
	AvgSpeed     float64   `json:"wind_speed_avg"`
	GustSpeed    float64   `json:"wind_gust"`
	MaxSpeed     float64   `json:"wind_speed_max"`
	AvgDirection float64   `json:"wind_dir"`
	DirectionStr string    `json:"wind_dir_text"`
}

func NewHistory(c Config) *History {
	// the gust is read from the tail of the speed window
	if c.SpeedLength < c.GustLength {
		c.SpeedLength = c.GustLength
	}
	return &History{
		speedBuf:    buffer.NewBuffer(c.SpeedLength),
		gustLength:  c.GustLength,
		dirBuf:      buffer.NewBuffer(c.DirectionLength),
		calibration: c.Calibration,
	}
}

// StoreMeasurement pushes a raw rps sample and a direction in degrees.
func (h *History) StoreMeasurement(speed, direction float64) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.speedBuf.AddItem(speed)
	h.dirBuf.AddItem(direction)

	// the gust window average only ever raises the peak
	gust := float64(h.speedBuf.AverageLast(h.gustLength))
	if gust > h.gustPeak {
		h.gustPeak = gust
	}
}

func (h *History) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.speedBuf.Len()
}

func (h *History) AvgSpeed() float64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.avgSpeed()
}

func (h *History) GustSpeed() float64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.gustPeak * h.calibration
}

func (h *History) MaxSpeed() float64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.maxSpeed()
}

// AvgDirection is the circular mean of the direction window in degrees.
func (h *History) AvgDirection() float64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return CircularMean(h.dirBuf.GetRawData())
}

// ClearWindGust starts a new gust period, the sample windows are untouched.
func (h *History) ClearWindGust() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.gustPeak = 0
}

func (h *History) Snapshot() Snapshot {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.snapshot()
}

// SnapshotAndClearGust reads the report values and resets the gust peak under
// one lock so no gust raised in between is lost.
func (h *History) SnapshotAndClearGust() Snapshot {
	h.lock.Lock()
	defer h.lock.Unlock()
	s := h.snapshot()
	h.gustPeak = 0
	return s
}

func (h *History) snapshot() Snapshot {
	n := h.speedBuf.Len()
	dir := CircularMean(h.dirBuf.GetRawData())
	return Snapshot{
		Time:         time.Now(),
		HasData:      n > 0,
		Samples:      n,
		Rps:          h.speedBuf.GetLast(),
		AvgSpeed:     h.avgSpeed(),
		GustSpeed:    h.gustPeak * h.calibration,
		MaxSpeed:     h.maxSpeed(),
		AvgDirection: dir,
		DirectionStr: CompassPoint(dir),
	}
}

func (h *History) avgSpeed() float64 {
	avg, _, _, _ := h.speedBuf.GetAverageMinMaxSum()
	return float64(avg) * h.calibration
}

func (h *History) maxSpeed() float64 {
	// raw samples are never negative so an empty window reads 0
	_, _, mx, _ := h.speedBuf.GetAverageMinMaxSum()
	return math.Max(float64(mx), 0) * h.calibration
}

// CircularMean averages angles in degrees as unit vectors. Zero when the
// vectors cancel or there is nothing to average.
func CircularMean(degrees []float64) float64 {
	var ns, ew float64
	for _, d := range degrees {
		r := d * math.Pi / 180
		ns += math.Cos(r)
		ew += math.Sin(r)
	}
	if len(degrees) == 0 || (math.Abs(ns) < 1e-9 && math.Abs(ew) < 1e-9) {
		return 0
	}
	avg := math.Atan2(ew, ns) * 180 / math.Pi
	if avg < 0 {
		// atan2 returns -180 to +180
		avg += 360
	}
	return avg
}

var points = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func CompassPoint(deg float64) string {
	i := int(math.Mod(deg+22.5, 360) / 45)
	return points[i%len(points)]
}
