package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/env"
	"github.com/gr-butler/anemometer/metrics"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

type Config struct {
	Flash        Flash
	Resolver     URLResolver
	Restarter    Restarter
	HTTPClient   *http.Client
	Clock        clockwork.Clock
	GracePeriod  time.Duration
	RestartDelay time.Duration
	BufferSize   int
}

// Updater owns the flash for the duration of an update attempt. Every
// attempt, successful or not, ends in a device restart.
type Updater struct {
	cfg   Config
	state atomic.Int32
}

func NewUpdater(cfg Config) *Updater {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Minute * 10}
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = env.OtaGracePeriod
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = env.OtaRestartDelay
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = env.OtaReadBufferSize
	}
	return &Updater{cfg: cfg}
}

func (u *Updater) State() State {
	return State(u.state.Load())
}

func (u *Updater) setState(s State) {
	u.state.Store(int32(s))
	metrics.Prom_otaState.Set(float64(s))
	logger.Debugf("OTA state [%v]", s)
}

// Run waits for an update request, tells the other tasks to shut down and
// performs the update. It returns once the restart has been requested.
func (u *Updater) Run(ctx context.Context, events *bus.Subscription[bus.ApplicationStateChange], app *bus.Channel[bus.ApplicationStateChange]) error {
	logger.Info("OTA task waiting for update requests")
	var target string
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Event == bus.OTAUpdateRequest {
			target = ev.Target
			break
		}
	}

	id := uuid.New()
	logger.Infof("OTA update [%v] requested for [%v]", id, target)
	app.Publish(bus.ApplicationStateChange{Event: bus.OTAUpdateStarted, Target: target})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.cfg.Clock.After(u.cfg.GracePeriod):
	}

	if err := u.Perform(ctx, target); err != nil {
		kind, _ := KindOf(err)
		logger.Errorf("OTA update [%v] failed [%v] [%v]", id, kind, err)
		metrics.Prom_otaResult.WithLabelValues(kind.String()).Inc()
	} else {
		logger.Infof("OTA update [%v] complete", id)
		metrics.Prom_otaResult.WithLabelValues("ok").Inc()
		u.setState(Restarting)
	}

	logger.Infof("Restarting in [%v]", u.cfg.RestartDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.cfg.Clock.After(u.cfg.RestartDelay):
	}
	return u.cfg.Restarter.Restart()
}

// Perform downloads target into the inactive slot and commits it. The
// returned error is always an *Error.
func (u *Updater) Perform(ctx context.Context, target string) error {
	u.setState(CredentialResolution)
	url, err := u.cfg.Resolver.Resolve(ctx, target)
	if err != nil {
		return u.failed(CredentialsError, err)
	}

	u.setState(Downloading)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return u.failed(HTTPError, err)
	}
	resp, err := u.cfg.HTTPClient.Do(req)
	if err != nil {
		return u.failed(HTTPError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return u.failed(ImageNotFound, fmt.Errorf("server returned [%v]", resp.Status))
	}
	length := resp.ContentLength
	if length < int64(u.cfg.BufferSize) {
		return u.failed(ImageNotFound, fmt.Errorf("content length [%d] missing or too small", length))
	}

	f := u.cfg.Flash
	boot, err := f.BootSlot()
	if err != nil {
		return u.failed(OtaAPIError, err)
	}
	running, err := f.RunningSlot()
	if err != nil {
		return u.failed(OtaAPIError, err)
	}
	slot, err := f.UpdateSlot()
	if err != nil {
		return u.failed(OtaAPIError, err)
	}
	invalid, err := f.LastInvalidSlot()
	if err != nil {
		return u.failed(OtaAPIError, err)
	}

	upd, err := f.BeginUpdate()
	if err != nil {
		return u.failed(OtaAPIError, err)
	}

	buf := make([]byte, u.cfg.BufferSize)
	var written int64
	checked := false
	for {
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := buf[:n]
			if !checked && n >= HeaderSize {
				checked = true
				info, err := ParseFirmwareInfo(chunk)
				if err != nil {
					return u.abort(upd, OtaAPIError, err)
				}
				logger.Infof("Boot slot [%v]", boot)
				logger.Infof("Running slot [%v]", running)
				logger.Infof("Update slot [%v]", slot)
				logger.Infof("Downloaded firmware [%v]", info)
				if invalid != nil && invalid.Firmware != nil && invalid.Firmware.Version == info.Version {
					return u.abort(upd, SameAsInvalid,
						fmt.Errorf("version [%v] matches invalid slot [%v]", info.Version, invalid.Label))
				}
			}
			if _, err := upd.Write(chunk); err != nil {
				return u.abort(upd, FlashWriteFailure, err)
			}
			written += int64(n)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return u.abort(upd, HTTPError, rerr)
		}
	}

	u.setState(Validating)
	if written != length {
		return u.abort(upd, IncompleteImage, fmt.Errorf("received [%d] of [%d] bytes", written, length))
	}

	u.setState(Committing)
	if err := upd.Complete(); err != nil {
		return u.abort(upd, OtaAPIError, err)
	}
	logger.Infof("Firmware written, [%d] bytes", written)
	return nil
}

func (u *Updater) failed(kind Kind, err error) error {
	u.setState(Aborted)
	return fail(kind, err)
}

func (u *Updater) abort(upd Update, kind Kind, err error) error {
	if aerr := upd.Abort(); aerr != nil {
		logger.Errorf("Failed to abort update [%v]", aerr)
	}
	return u.failed(kind, err)
}
