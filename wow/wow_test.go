package wow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gr-butler/anemometer/report"
	"github.com/gr-butler/anemometer/wind"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func TestSendEncodesReading(t *testing.T) {
	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 10, 32, 55, 0, time.UTC))
	s := &Sink{SiteID: "1234", AuthKey: "pin", Software: "anemometer-1.0", BaseURL: srv.URL + "/?", Clock: clock}
	err := s.Send(context.Background(), report.Report{Snapshot: wind.Snapshot{AvgSpeed: 10, GustSpeed: 20, AvgDirection: 225}})
	require.NoError(t, err)

	got := <-queries
	assert.Equal(t, "1234", got.Get("siteid"))
	assert.Equal(t, "pin", got.Get("siteAuthenticationKey"))
	assert.Equal(t, "2026-10-15 10:32:55", got.Get("dateutc"))
	assert.Equal(t, "anemometer-1.0", got.Get("softwaretype"))
	assert.Equal(t, "225", got.Get("winddir"))
	assertFloat(t, 6.21371, got.Get("windspeedmph"))
	assertFloat(t, 12.42742, got.Get("windgustmph"))
}

func assertFloat(t *testing.T, want float64, s string) {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	assert.InDelta(t, want, v, 0.0001)
}

func TestSendRespectsMinInterval(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	var clock fakeClock = clockwork.NewFakeClock()
	s := &Sink{SiteID: "1", AuthKey: "2", BaseURL: srv.URL + "/?", MinInterval: 15 * time.Minute, Clock: clock}

	require.NoError(t, s.Send(context.Background(), report.Report{}))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Send(context.Background(), report.Report{}))
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(15 * time.Minute)
	require.NoError(t, s.Send(context.Background(), report.Report{}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad pin", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &Sink{BaseURL: srv.URL + "/?"}
	assert.Error(t, s.Send(context.Background(), report.Report{}))
}
