package sensors

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/env"
	"github.com/gr-butler/anemometer/metrics"
	"github.com/gr-butler/anemometer/wind"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

type Mode int

const (
	// LastValue only keeps the newest rps, used by the calibration profile.
	LastValue Mode = iota
	// Statistics feeds every sample into the wind history.
	Statistics
)

type SamplerState int32

const (
	Idle SamplerState = iota
	Armed
	Sampling
)

func (s SamplerState) String() string {
	switch s {
	case Armed:
		return "Armed"
	case Sampling:
		return "Sampling"
	}
	return "Idle"
}

type AnemometerConfig struct {
	Interval  time.Duration
	Mode      Mode
	Counter   *PulseCounter
	Edges     EdgeSource // nil when pulses are counted elsewhere
	Direction DirectionSource
	History   *wind.History
	Clock     clockwork.Clock
	Speedon   bool
}

type Anemometer struct {
	cfg     AnemometerConfig
	state   atomic.Int32
	current atomic.Uint64
	lastDir float64
}

func NewAnemometer(cfg AnemometerConfig) *Anemometer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Counter == nil {
		cfg.Counter = &PulseCounter{}
	}
	if cfg.Direction == nil {
		cfg.Direction = FixedDirection(0)
	}
	return &Anemometer{cfg: cfg}
}

// Rps converts a pulse count over one interval into rotations per second.
func Rps(pulses uint32, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(pulses) / env.PulsesPerRotation / interval.Seconds()
}

func (a *Anemometer) Counter() *PulseCounter {
	return a.cfg.Counter
}

// Current is the rps of the last completed interval.
func (a *Anemometer) Current() float64 {
	return math.Float64frombits(a.current.Load())
}

func (a *Anemometer) State() SamplerState {
	return SamplerState(a.state.Load())
}

// Run samples the pulse counter every interval until ctx is done or an OTA
// update starts.
func (a *Anemometer) Run(ctx context.Context, events *bus.Subscription[bus.ApplicationStateChange]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Edges != nil {
		go watchEdges(ctx, a.cfg.Edges, a.cfg.Counter)
	}

	ticker := a.cfg.Clock.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	a.state.Store(int32(Armed))
	defer a.state.Store(int32(Idle))
	logger.Infof("Anemometer sampling every [%v]", a.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Info("OTA Update started, stopping anemometer")
				return nil
			}
		case <-ticker.Chan():
			a.state.Store(int32(Sampling))
			a.sample()
			a.state.Store(int32(Armed))
		}
	}
}

func (a *Anemometer) sample() {
	pulseCount := a.cfg.Counter.Drain()
	rps := Rps(pulseCount, a.cfg.Interval)
	a.current.Store(math.Float64bits(rps))
	metrics.Prom_rps.Set(rps)

	if a.cfg.Mode == Statistics && a.cfg.History != nil {
		if pulseCount > 0 {
			if deg, err := a.cfg.Direction.Direction(); err == nil {
				a.lastDir = deg
			}
		}
		// with no wind the vane reading is garbage, keep the last one
		a.cfg.History.StoreMeasurement(rps, a.lastDir)
	}
	if a.cfg.Speedon {
		logger.Infof("Pulses [%v] rps [%.2f]", pulseCount, rps)
	}
}
