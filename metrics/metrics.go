package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var Prom_windspeed = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "windspeed",
		Help: "Average Wind Speed km/h over the averaging window",
	},
)

var Prom_windgust = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "windgust",
		Help: "Highest 3 second average wind speed km/h since the last report",
	},
)

var Prom_windmax = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "windspeed_max",
		Help: "Highest single sample km/h in the averaging window",
	},
)

var Prom_windDirection = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "winddirection",
		Help: "Wind Direction Deg",
	},
)

var Prom_rps = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "anemometer_rps",
		Help: "Anemometer rotations per second, last interval",
	},
)

var Prom_reports = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wind_reports_total",
		Help: "Wind reports handed to each sink",
	},
	[]string{"sink", "status"},
)

var Prom_otaState = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ota_state",
		Help: "OTA update state machine state",
	},
)

var Prom_otaResult = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ota_attempts_total",
		Help: "OTA update attempts by outcome",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(
		Prom_windspeed,
		Prom_windgust,
		Prom_windmax,
		Prom_windDirection,
		Prom_rps,
		Prom_reports,
		Prom_otaState,
		Prom_otaResult)
}
