package ota

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFlash struct {
	lock        sync.Mutex
	invalid     *Slot
	written     bytes.Buffer
	begun       bool
	completed   bool
	aborted     bool
	failAfter   int // fail writes once this many bytes are stored, 0 never
	beginErr    error
	completeErr error
}

func (m *memFlash) BootSlot() (Slot, error) {
	return Slot{Label: "ota_0", State: SlotValid}, nil
}

func (m *memFlash) RunningSlot() (Slot, error) {
	return Slot{Label: "ota_0", State: SlotValid}, nil
}

func (m *memFlash) UpdateSlot() (Slot, error) {
	return Slot{Label: "ota_1"}, nil
}

func (m *memFlash) LastInvalidSlot() (*Slot, error) {
	return m.invalid, nil
}

func (m *memFlash) BeginUpdate() (Update, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.begun = true
	return m, nil
}

func (m *memFlash) MarkRunningValid() error {
	return nil
}

func (m *memFlash) Write(b []byte) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.failAfter > 0 && m.written.Len() >= m.failAfter {
		return 0, errors.New("flash write failed")
	}
	return m.written.Write(b)
}

func (m *memFlash) Complete() error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.completed = true
	return nil
}

func (m *memFlash) Abort() error {
	m.aborted = true
	return nil
}

type staticResolver struct {
	url string
	err error
}

func (s staticResolver) Resolve(context.Context, string) (string, error) {
	return s.url, s.err
}

type countingRestarter struct {
	lock  sync.Mutex
	count int
}

func (c *countingRestarter) Restart() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.count++
	return nil
}

func (c *countingRestarter) Count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.count
}

func testImage(version string, size int) []byte {
	img := EncodeHeader(FirmwareInfo{Version: version, Description: "anemometer", Released: "Oct 15 2026 10:00:00"})
	for len(img) < size {
		img = append(img, byte(len(img)))
	}
	return img
}

func imageServer(t *testing.T, img []byte) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "firmware.bin", time.Time{}, bytes.NewReader(img))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestUpdater(f Flash, url string) *Updater {
	return NewUpdater(Config{
		Flash:        f,
		Resolver:     staticResolver{url: url},
		Restarter:    &countingRestarter{},
		GracePeriod:  time.Millisecond,
		RestartDelay: time.Millisecond,
	})
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok, "not an ota error [%v]", err)
	require.Equal(t, want, kind, err.Error())
}

func TestPerformCommitsImage(t *testing.T) {
	img := testImage("1.2.0", 20000)
	srv := imageServer(t, img)
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	require.NoError(t, u.Perform(context.Background(), "fw"))
	assert.True(t, f.completed)
	assert.False(t, f.aborted)
	assert.Equal(t, img, f.written.Bytes())
	assert.Equal(t, Committing, u.State())
}

func TestPerformNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), ImageNotFound)
	assert.False(t, f.begun)
	assert.Equal(t, Aborted, u.State())
}

func TestPerformContentLengthTooSmall(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 4000))
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), ImageNotFound)
	assert.False(t, f.begun)
}

func TestPerformMissingContentLength(t *testing.T) {
	img := testImage("1.2.0", 20000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img[:100])
		w.(http.Flusher).Flush()
		_, _ = w.Write(img[100:])
	}))
	defer srv.Close()
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), ImageNotFound)
	assert.False(t, f.begun)
}

func TestPerformSameAsInvalid(t *testing.T) {
	srv := imageServer(t, testImage("1.1.9", 20000))
	f := &memFlash{invalid: &Slot{Label: "ota_1", State: SlotInvalid, Firmware: &FirmwareInfo{Version: "1.1.9"}}}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), SameAsInvalid)
	assert.True(t, f.aborted)
	assert.False(t, f.completed)
	assert.Zero(t, f.written.Len())
}

func TestPerformDifferentFromInvalid(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 20000))
	f := &memFlash{invalid: &Slot{Label: "ota_1", State: SlotInvalid, Firmware: &FirmwareInfo{Version: "1.1.9"}}}
	u := newTestUpdater(f, srv.URL)

	require.NoError(t, u.Perform(context.Background(), "fw"))
	assert.True(t, f.completed)
}

func TestPerformIncompleteImage(t *testing.T) {
	img := testImage("1.2.0", 20000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		_, _ = w.Write(img[:12000])
	}))
	defer srv.Close()
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), IncompleteImage)
	assert.True(t, f.aborted)
	assert.False(t, f.completed)
	assert.Equal(t, Aborted, u.State())
}

func TestPerformWriteFailure(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 30000))
	f := &memFlash{failAfter: 1}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), FlashWriteFailure)
	assert.True(t, f.aborted)
	assert.False(t, f.completed)
}

func TestPerformBadHeader(t *testing.T) {
	srv := imageServer(t, make([]byte, 20000))
	f := &memFlash{}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), OtaAPIError)
	assert.True(t, f.aborted)
}

func TestPerformBeginFails(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 20000))
	f := &memFlash{beginErr: errors.New("no update partition")}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), OtaAPIError)
}

func TestPerformCompleteFailureAborts(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 20000))
	f := &memFlash{completeErr: errors.New("rename failed")}
	u := newTestUpdater(f, srv.URL)

	requireKind(t, u.Perform(context.Background(), "fw"), OtaAPIError)
	assert.True(t, f.aborted)
	assert.False(t, f.completed)
	assert.Equal(t, Aborted, u.State())
}

func TestPerformCredentialsError(t *testing.T) {
	u := NewUpdater(Config{
		Flash:     &memFlash{},
		Resolver:  staticResolver{err: errors.New("denied")},
		Restarter: &countingRestarter{},
	})
	requireKind(t, u.Perform(context.Background(), "fw"), CredentialsError)
}

func TestPerformTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	u := newTestUpdater(&memFlash{}, url)

	requireKind(t, u.Perform(context.Background(), "fw"), HTTPError)
}

func TestRunRestartsAfterFailure(t *testing.T) {
	f := &memFlash{}
	r := &countingRestarter{}
	u := NewUpdater(Config{
		Flash:        f,
		Resolver:     staticResolver{err: errors.New("denied")},
		Restarter:    r,
		GracePeriod:  time.Millisecond,
		RestartDelay: time.Millisecond,
	})

	fabric := bus.NewFabric()
	events := fabric.Application.MustSubscribe()
	watcher := fabric.Application.MustSubscribe()

	done := make(chan error, 1)
	go func() {
		done <- u.Run(context.Background(), events, fabric.Application)
	}()

	fabric.RequestOTA("s3://firmware/anemometer.bin")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not finish")
	}
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, Aborted, u.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := watcher.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, bus.OTAUpdateRequest, first.Event)
	second, err := watcher.Next(ctx)
	require.NoError(t, err)
	assert.True(t, second.IsOTAStarted())
}

func TestRunRestartsAfterSuccess(t *testing.T) {
	srv := imageServer(t, testImage("1.2.0", 20000))
	r := &countingRestarter{}
	u := NewUpdater(Config{
		Flash:        &memFlash{},
		Resolver:     staticResolver{url: srv.URL},
		Restarter:    r,
		GracePeriod:  time.Millisecond,
		RestartDelay: time.Millisecond,
	})
	fabric := bus.NewFabric()
	events := fabric.Application.MustSubscribe()
	fabric.RequestOTA(srv.URL)

	require.NoError(t, u.Run(context.Background(), events, fabric.Application))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, Restarting, u.State())
}

func TestRunStopsOnCancel(t *testing.T) {
	u := newTestUpdater(&memFlash{}, "")
	fabric := bus.NewFabric()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := u.Run(ctx, fabric.Application.MustSubscribe(), fabric.Application)
	assert.ErrorIs(t, err, context.Canceled)
}
