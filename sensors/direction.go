package sensors

import (
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

type DirectionSource interface {
	Direction() (float64, error)
}

// FixedDirection is used when no vane is fitted.
type FixedDirection float64

func (f FixedDirection) Direction() (float64, error) {
	return float64(f), nil
}

type adcReader interface {
	Read() (analog.Sample, error)
}

// Vane reads the wind vane resistor network through an ADS1115.
type Vane struct {
	pin adcReader
}

func NewVane(bus i2c.Bus) (*Vane, error) {
	logger.Infof("Starting Wind direction ADC I2C [%x]", ads1x15.DefaultOpts.I2cAddress)
	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	// Obtain an analog pin from the ADC.
	dirPin, err := adc.PinForChannel(ads1x15.Channel3, 5*physic.Volt, 1*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &Vane{pin: dirPin}, nil
}

func (v *Vane) Direction() (float64, error) {
	sample, err := v.pin.Read()
	if err != nil {
		logger.Debugf("Error reading wind direction value [%v]", err)
		return 0, err
	}
	deg, str := voltToDegrees(float64(sample.V) / float64(physic.Volt))
	logger.Debugf("Volts [%v], Deg [%v] : %s", float64(sample.V)/float64(physic.Volt), deg, str)
	return deg, nil
}

func voltToDegrees(v float64) (float64, string) {
	// this is based on actual measurements of output voltage for each cardinal point
	// threhold voltage is midway between the two recorded values.
	switch {
	case v < 1.19:
		return 135, "SE"
	case v < 1.46:
		return 180, "S"
	case v < 2.09:
		return 90, "E"
	case v < 2.8:
		return 45, "NE"
	case v < 3.56:
		return 225, "SW"
	case v < 4.2:
		return 0, "N"
	case v < 4.59:
		return 315, "NW"
	default:
		return 270.0, "W"
	}
}
