package sensors

import (
	"context"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PulseCounter is the only state shared with the edge handler. It is never
// locked, the handler does an atomic add and the sampler an atomic swap.
type PulseCounter struct {
	count atomic.Uint32
}

func (p *PulseCounter) Increment() {
	p.count.Add(1)
}

// Drain returns the pulses seen since the last call and resets the count. A
// pulse racing the swap lands in one window or the other, never both.
func (p *PulseCounter) Drain() uint32 {
	return p.count.Swap(0)
}

// EdgeSource is a digital input armed for edge detection. gpio.PinIO
// satisfies it.
type EdgeSource interface {
	WaitForEdge(timeout time.Duration) bool
	Halt() error
}

// OpenWindPin looks up the reed switch pin and arms it for falling edges.
func OpenWindPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		logger.Errorf("Failed to init host drivers [%v]", err)
		return nil, err
	}
	windpin := gpioreg.ByName(name)
	if windpin == nil {
		logger.Errorf("Failed to find %v - wind pin", name)
		return nil, errPinNotFound(name)
	}

	logger.Infof("%s: %s", windpin, windpin.Function())

	if err := windpin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		logger.Error(err)
		return nil, err
	}
	return windpin, nil
}

type errPinNotFound string

func (e errPinNotFound) Error() string {
	return "gpio pin not found: " + string(e)
}

// watchEdges counts edges until ctx is done. Halt is used to release a
// blocked WaitForEdge.
func watchEdges(ctx context.Context, src EdgeSource, counter *PulseCounter) {
	logger.Info("Starting wind sensor")
	go func() {
		<-ctx.Done()
		if err := src.Halt(); err != nil {
			logger.Warnf("Failed to halt wind pin [%v]", err)
		}
	}()
	for ctx.Err() == nil {
		if src.WaitForEdge(time.Second) {
			counter.Increment()
		}
	}
	logger.Info("Wind sensor stopped")
}
