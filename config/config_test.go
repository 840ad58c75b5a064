package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gr-butler/anemometer/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "anemometer.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	t.Setenv("WOWSITEID", "")
	t.Setenv("WOWPIN", "")
	cfg, err := Load(writeConfig(t, "device:\n  id: anemometer-01\n"))
	require.NoError(t, err)

	assert.Equal(t, ProfileStatistics, cfg.Device.Profile)
	assert.Equal(t, env.MeasurementInterval, cfg.Sampler.Interval)
	assert.Equal(t, env.WindBufferLength, cfg.Sampler.SpeedLength)
	assert.Equal(t, env.GustBufferLength, cfg.Sampler.GustLength)
	assert.Equal(t, env.DataReportingInterval, cfg.Report.Interval)
	assert.Equal(t, "anemometer-01", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "$aws/things/anemometer-01/shadow/update", cfg.MQTT.ReportTopic)
	assert.Equal(t, env.OtaURLLifetime, cfg.OTA.URLLifetime)
}

func TestSimpleProfileInterval(t *testing.T) {
	cfg, err := Load(writeConfig(t, "device:\n  id: a\n  profile: simple\n"))
	require.NoError(t, err)
	assert.Equal(t, env.CalibrationInterval, cfg.Sampler.Interval)
}

func TestSetProfile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "device:\n  id: a\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.SetProfile(ProfileSimple))
	assert.Equal(t, ProfileSimple, cfg.Device.Profile)
	assert.Equal(t, env.CalibrationInterval, cfg.Sampler.Interval)

	// an interval from the file wins over the profile default
	cfg, err = Load(writeConfig(t, "device:\n  id: a\nsampler:\n  interval: 2s\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.SetProfile(ProfileSimple))
	assert.Equal(t, 2*time.Second, cfg.Sampler.Interval)

	assert.Error(t, cfg.SetProfile("fast"))
}

func TestDurationsAndOverrides(t *testing.T) {
	t.Setenv("WOWSITEID", "1234")
	t.Setenv("WOWPIN", "secret")
	t.Setenv("PGDSN", "postgres://weather@localhost/weather")
	cfg, err := Load(writeConfig(t, `
device:
  id: a
sampler:
  interval: 250ms
report:
  interval: 1m
wow:
  site_id: file
  auth_key: file
`))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Sampler.Interval)
	assert.Equal(t, time.Minute, cfg.Report.Interval)
	assert.Equal(t, "1234", cfg.WOW.SiteID)
	assert.Equal(t, "secret", cfg.WOW.AuthKey)
	assert.Equal(t, "postgres://weather@localhost/weather", cfg.Postgres.DSN)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Device: DeviceConfig{ID: "a"}}
		ApplyDefaults(c)
		return c
	}
	require.NoError(t, Validate(base()))

	tests := map[string]func(c *Config){
		"profile":     func(c *Config) { c.Device.Profile = "fast" },
		"gust":        func(c *Config) { c.Sampler.GustLength = c.Sampler.SpeedLength + 1 },
		"calibration": func(c *Config) { c.Sampler.Calibration = -1 },
		"qos":         func(c *Config) { c.MQTT.QoS = 3 },
		"mqtt cert":   func(c *Config) { c.MQTT.CertFile = "cert.pem" },
		"ota region":  func(c *Config) { c.OTA.Bucket = "fw" },
		"wow pair":    func(c *Config) { c.WOW.SiteID = "1" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, Validate(c))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "device: [\n"))
	assert.Error(t, err)
}
