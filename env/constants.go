package env

import "time"

const (
	GPIO20 = "GPIO20" // heartbeat LED
	GPIO27 = "GPIO27" // wind pin

	WindSensorIn = GPIO27
	HeartbeatLed = GPIO20

	// the reed switch closes twice per 360 degree rotation
	PulsesPerRotation = 2

	// rps to km/h, to be replaced once the cups are calibrated
	KmhPerRps = 1.0

	LEDFlashDuration = time.Millisecond * 100

	// WMO-No. 8 (2014 edition), section 1.3.2.4:
	// wind, except gusts, is reported as a 2 min average. Sampling at 2Hz
	// gives 240 samples, the gust is the highest 3 second average (6 samples).
	MeasurementInterval      = time.Millisecond * 500
	CalibrationInterval      = time.Second * 5
	GustBufferLength         = 6
	WindBufferLength         = 240
	DirectionBufferLength    = 240
	DataReportingInterval    = time.Second * 120
	NetworkEventCapacity     = 4
	ApplicationEventCapacity = 5
	ApplicationDataCapacity  = 5

	OtaReadBufferSize = 8196
	OtaGracePeriod    = time.Second * 2
	OtaRestartDelay   = time.Second * 5
	OtaURLLifetime    = time.Minute * 10 // presigned firmware url

	HeartbeatInterval = time.Second * 30
)
