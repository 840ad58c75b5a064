package config

import (
	"fmt"
)

// Validate checks the configuration. It does not mutate it.
func Validate(cfg *Config) error {
	d := cfg.Device
	if d.Profile != ProfileSimple && d.Profile != ProfileStatistics {
		return fmt.Errorf("device: unknown profile %q", d.Profile)
	}
	if d.ID == "" {
		return fmt.Errorf("device: id is required")
	}

	s := cfg.Sampler
	if s.Interval <= 0 {
		return fmt.Errorf("sampler: interval must be positive")
	}
	if s.Calibration <= 0 {
		return fmt.Errorf("sampler: calibration must be positive")
	}
	if s.GustLength < 1 || s.SpeedLength < 1 || s.DirectionLength < 1 {
		return fmt.Errorf("sampler: buffer lengths must be at least 1")
	}
	if s.GustLength > s.SpeedLength {
		return fmt.Errorf("sampler: gust_length %d exceeds speed_length %d", s.GustLength, s.SpeedLength)
	}

	if cfg.Report.Interval <= 0 {
		return fmt.Errorf("report: interval must be positive")
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d out of range", cfg.MQTT.QoS)
	}
	if (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
		return fmt.Errorf("mqtt: cert_file and key_file must be set together")
	}

	o := cfg.OTA
	if o.Bucket != "" || o.CredentialEndpoint != "" {
		if o.Region == "" {
			return fmt.Errorf("ota: region is required for s3 updates")
		}
		if o.CredentialEndpoint == "" || o.RoleAlias == "" {
			return fmt.Errorf("ota: credential_endpoint and role_alias are required for s3 updates")
		}
		if o.CertFile == "" || o.KeyFile == "" {
			return fmt.Errorf("ota: cert_file and key_file are required for s3 updates")
		}
	}

	if (cfg.WOW.SiteID == "") != (cfg.WOW.AuthKey == "") {
		return fmt.Errorf("wow: site_id and auth_key must be set together")
	}
	return nil
}

// S3Enabled reports whether bucket keys can be resolved.
func (o OTAConfig) S3Enabled() bool {
	return o.CredentialEndpoint != ""
}
