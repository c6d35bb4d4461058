package application

type TemperatureBand string

const (
	BandCold TemperatureBand = "cold"
	BandWarm TemperatureBand = "warm"
	BandHot  TemperatureBand = "hot"
)

const gaugeFullScale = 40.0

// TemperatureGauge is the thermometer reading a dashboard draws for the
// latest temperature.
type TemperatureGauge struct {
	Band        TemperatureBand `json:"band"`
	FillPercent float64         `json:"fillPercent"`
}

func NewTemperatureGauge(celsius float64) TemperatureGauge {
	band := BandHot
	switch {
	case celsius < 20:
		band = BandCold
	case celsius < 30:
		band = BandWarm
	}

	fill := celsius / gaugeFullScale * 100
	if fill < 0 {
		fill = 0
	} else if fill > 100 {
		fill = 100
	}

	return TemperatureGauge{Band: band, FillPercent: round2(fill)}
}
