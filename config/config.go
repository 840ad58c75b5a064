package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gr-butler/anemometer/env"
	"gopkg.in/yaml.v3"
)

const (
	ProfileSimple     = "simple"
	ProfileStatistics = "statistics"
)

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Report   ReportConfig   `yaml:"report"`
	HTTP     HTTPConfig     `yaml:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	OTA      OTAConfig      `yaml:"ota"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	WOW      WOWConfig      `yaml:"wow"`
}

type DeviceConfig struct {
	ID             string        `yaml:"id"`
	Profile        string        `yaml:"profile"`
	Interface      string        `yaml:"interface"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	FirmwareDir    string        `yaml:"firmware_dir"`
	RestartCommand []string      `yaml:"restart_command"`
	WindPin        string        `yaml:"wind_pin"`
	LedPin         string        `yaml:"led_pin"`
	I2CBus         string        `yaml:"i2c_bus"`
}

type SamplerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Calibration     float64       `yaml:"calibration"`
	GustLength      int           `yaml:"gust_length"`
	SpeedLength     int           `yaml:"speed_length"`
	DirectionLength int           `yaml:"direction_length"`

	// interval came from the file rather than the profile default
	intervalSet bool
}

type ReportConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ReportTopic string `yaml:"report_topic"`
	QoS         byte   `yaml:"qos"`
	CAFile      string `yaml:"ca_file"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
}

type OTAConfig struct {
	Bucket             string        `yaml:"bucket"`
	Region             string        `yaml:"region"`
	CredentialEndpoint string        `yaml:"credential_endpoint"`
	RoleAlias          string        `yaml:"role_alias"`
	ThingName          string        `yaml:"thing_name"`
	CAFile             string        `yaml:"ca_file"`
	CertFile           string        `yaml:"cert_file"`
	KeyFile            string        `yaml:"key_file"`
	URLLifetime        time.Duration `yaml:"url_lifetime"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type WOWConfig struct {
	SiteID      string        `yaml:"site_id"`
	AuthKey     string        `yaml:"auth_key"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// Load reads the YAML file at path. An empty path gives the defaults. The
// secrets WOWSITEID, WOWPIN and PGDSN override the file when set.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parsing %v: %w", path, err)
		}
	}
	cfg.Sampler.intervalSet = cfg.Sampler.Interval != 0
	applyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetProfile switches the sampler profile after loading. A sampling interval
// set in the file is kept, otherwise the new profile's default applies.
func (c *Config) SetProfile(profile string) error {
	c.Device.Profile = profile
	if !c.Sampler.intervalSet {
		c.Sampler.Interval = 0
	}
	ApplyDefaults(c)
	return Validate(c)
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("WOWSITEID"); ok {
		cfg.WOW.SiteID = v
	}
	if v, ok := os.LookupEnv("WOWPIN"); ok {
		cfg.WOW.AuthKey = v
	}
	if v, ok := os.LookupEnv("PGDSN"); ok {
		cfg.Postgres.DSN = v
	}
}

func ApplyDefaults(cfg *Config) {
	d := &cfg.Device
	if d.ID == "" {
		d.ID, _ = os.Hostname()
	}
	if d.Profile == "" {
		d.Profile = ProfileStatistics
	}
	if d.Interface == "" {
		d.Interface = "wlan0"
	}
	if d.PollInterval == 0 {
		d.PollInterval = time.Second * 5
	}
	if d.FirmwareDir == "" {
		d.FirmwareDir = "/var/lib/anemometer/firmware"
	}
	if d.WindPin == "" {
		d.WindPin = env.WindSensorIn
	}
	if d.LedPin == "" {
		d.LedPin = env.HeartbeatLed
	}

	s := &cfg.Sampler
	if s.Interval == 0 {
		if d.Profile == ProfileSimple {
			s.Interval = env.CalibrationInterval
		} else {
			s.Interval = env.MeasurementInterval
		}
	}
	if s.Calibration == 0 {
		s.Calibration = env.KmhPerRps
	}
	if s.GustLength == 0 {
		s.GustLength = env.GustBufferLength
	}
	if s.SpeedLength == 0 {
		s.SpeedLength = env.WindBufferLength
	}
	if s.DirectionLength == 0 {
		s.DirectionLength = env.DirectionBufferLength
	}

	if cfg.Report.Interval == 0 {
		cfg.Report.Interval = env.DataReportingInterval
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":80"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = d.ID
	}
	if cfg.MQTT.ReportTopic == "" {
		cfg.MQTT.ReportTopic = fmt.Sprintf("$aws/things/%v/shadow/update", d.ID)
	}
	if cfg.OTA.URLLifetime == 0 {
		cfg.OTA.URLLifetime = env.OtaURLLifetime
	}
	if cfg.OTA.ThingName == "" {
		cfg.OTA.ThingName = d.ID
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = time.Minute * 10
	}
	if cfg.WOW.MinInterval == 0 {
		cfg.WOW.MinInterval = time.Minute * 15
	}
}
