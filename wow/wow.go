package wow

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/gr-butler/anemometer/report"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

/*

https://wow.metoffice.gov.uk/support/dataformats

WOW expects an HTTP GET or POST to http://wow.metoffice.gov.uk/automaticreading?
followed by key/value pairs. Every upload carries the site id, the site
authentication key (a pin chosen by the user), the date and the software type,
plus at least one piece of weather data.

The date must be YYYY-mm-DD HH:mm:ss in UTC, ':' encoded as %3A and the space
as '+' or %20.

KEY				Description															UNIT

winddir 		Instantaneous Wind Direction 										Degrees (0-360)
windspeedmph 	Instantaneous Wind Speed 											Miles per Hour
windgustdir 	Current Wind Gust Direction (using software specific time period) 	0-360 degrees
windgustmph 	Current Wind Gust (using software specific time period) 			Miles per Hour

*/

const BaseURL = "http://wow.metoffice.gov.uk/automaticreading?"

const kmhToMph = 0.621371

type windData struct {
	SiteId       string  `url:"siteid,omitempty"`
	AuthKey      string  `url:"siteAuthenticationKey,omitempty"`
	DateString   string  `url:"dateutc,omitempty"`
	SoftwareType string  `url:"softwaretype,omitempty"`
	WindDir      float64 `url:"winddir"`
	WindSpeedMph float64 `url:"windspeedmph"`
	WindGustDir  float64 `url:"windgustdir"`
	WindGustMph  float64 `url:"windgustmph"`
}

// Sink uploads wind reports to the Met Office Weather Observations Website.
// Reports closer together than MinInterval are skipped.
type Sink struct {
	SiteID      string
	AuthKey     string
	Software    string
	BaseURL     string
	MinInterval time.Duration
	Client      *http.Client
	Clock       clockwork.Clock

	lock     sync.Mutex
	lastSent time.Time
}

func (s *Sink) Name() string {
	return "wow"
}

func (s *Sink) Send(ctx context.Context, r report.Report) error {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now()

	s.lock.Lock()
	if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.MinInterval {
		s.lock.Unlock()
		logger.Debugf("Skipping WOW upload, last sent [%v]", s.lastSent.Format(time.RFC822))
		return nil
	}
	s.lock.Unlock()

	data := windData{
		SiteId:       s.SiteID,
		AuthKey:      s.AuthKey,
		DateString:   now.UTC().Format("2006-01-02 15:04:05"),
		SoftwareType: s.Software,
		WindDir:      r.AvgDirection,
		WindSpeedMph: r.AvgSpeed * kmhToMph,
		WindGustDir:  r.AvgDirection,
		WindGustMph:  r.GustSpeed * kmhToMph,
	}
	vals, err := query.Values(data)
	if err != nil {
		return err
	}

	base := s.BaseURL
	if base == "" {
		base = BaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+vals.Encode(), nil)
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: time.Second * 30}
	}
	logger.Info("Sending data to met office")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send WOW data: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send WOW data HTTP [%v]", resp.Status)
	}

	s.lock.Lock()
	s.lastSent = now
	s.lock.Unlock()
	return nil
}
