package led

import (
	"context"
	"sync"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/env"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

type pinOut interface {
	Out(l gpio.Level) error
}

type LED struct {
	Name    string
	lock    sync.Mutex
	on      bool
	gpioPin pinOut
	clock   clockwork.Clock
}

// NewLED looks up the pin by name. A missing pin gives an LED that only
// logs.
func NewLED(name string, GPIOPin string) *LED {
	logger.Infof("Creating new LED on pin [%v] called [%v]", GPIOPin, name)
	l := &LED{Name: name, clock: clockwork.NewRealClock()}
	if p := gpioreg.ByName(GPIOPin); p != nil {
		l.gpioPin = p
		_ = p.Out(gpio.Low)
	} else {
		logger.Errorf("Failed to find %v pin", GPIOPin)
	}
	return l
}

func (l *LED) set(level gpio.Level) {
	if l.gpioPin != nil {
		_ = l.gpioPin.Out(level)
	}
}

func (l *LED) On() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.on = true
	l.set(gpio.High)
}

func (l *LED) Off() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.on = false
	l.set(gpio.Low)
}

func (l *LED) IsOn() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.on
}

// Flash briefly inverts the LED. Requests made while a flash is in progress
// are dropped.
func (l *LED) Flash() {
	if !l.lock.TryLock() {
		return
	}
	defer l.lock.Unlock()
	if !l.on {
		l.set(gpio.High)
		l.clock.Sleep(env.LEDFlashDuration)
		l.set(gpio.Low)
	} else {
		l.set(gpio.Low)
		l.clock.Sleep(env.LEDFlashDuration)
		l.set(gpio.High)
	}
}

// Heartbeat flashes every interval. Once an OTA update starts the LED is
// left on until the device restarts.
func (l *LED) Heartbeat(ctx context.Context, interval time.Duration, events *bus.Subscription[bus.ApplicationStateChange]) error {
	logger.Info("Heartbeat started")
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Off()
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				l.On()
				return nil
			}
		case <-ticker.Chan():
			logger.Debug("Sending heartbeat")
			l.Flash()
		}
	}
}
