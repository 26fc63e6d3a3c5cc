package hwc

import "math"

// Calibration of the heater power over the 4-20mA loop current, one
// breakpoint per milliamp from 6mA to 20mA.
var powerTable = [...]float64{
	6:  2.8,
	7:  5.7,
	8:  26,
	9:  48,
	10: 122,
	11: 257,
	12: 460,
	13: 716,
	14: 1045,
	15: 1292,
	16: 1553,
	17: 1730,
	18: 1870,
	19: 1935,
	20: 1950,
}

const (
	minMilliamps = 6
	maxMilliamps = 20
)

// MaxWatts is the power at 20mA
var MaxWatts = powerTable[maxMilliamps]

// WattsFromMilliamps interpolates the heater power for a loop current
func WattsFromMilliamps(mA float64) float64 {
	switch {
	case math.IsNaN(mA) || mA < minMilliamps:
		return 0
	case mA >= maxMilliamps:
		return powerTable[maxMilliamps]
	}
	i := int(math.Floor(mA))
	lo, hi := powerTable[i], powerTable[i+1]
	return lo + (hi-lo)*(mA-float64(i))
}

// MilliampsFromWatts interpolates the loop current for a heater power.
// Powers below the 6mA breakpoint switch the heater off (0mA).
func MilliampsFromWatts(w float64) float64 {
	switch {
	case math.IsNaN(w) || w < powerTable[minMilliamps]:
		return 0
	case w >= powerTable[maxMilliamps]:
		return maxMilliamps
	}
	for i := minMilliamps; i < maxMilliamps; i++ {
		lo, hi := powerTable[i], powerTable[i+1]
		if w >= lo && w < hi {
			return float64(i) + (w-lo)/(hi-lo)
		}
	}
	return maxMilliamps
}
