package tapefour

import "math"

// The fader law splits the 0..100 travel at 80: below it the position maps
// through a fourth-root taper onto -60 dB..0 dB, above it linearly onto
// 0 dB..+12 dB. 0 is exactly silent rather than -60 dB.
const (
	faderUnity = 80
	faderMinDb = -60
	faderMaxDb = 12
)

// FaderToGain maps a 0..100 fader position to a linear gain. FaderToGain(0)
// is exactly 0 and FaderToGain(80) is exactly 1 (0 dB).
func FaderToGain(value int) float64 {
	if value <= 0 {
		return 0
	}
	if value > 100 {
		value = 100
	}
	if value <= faderUnity {
		norm := float64(value) / faderUnity
		db := faderMinDb * (1 - math.Pow(norm, 0.25))
		return math.Pow(10, db/20)
	}
	db := float64(value-faderUnity) / (100 - faderUnity) * faderMaxDb
	return math.Pow(10, db/20)
}

// GainToDb converts a linear gain to decibels. 0 dB = gain of 1.
func GainToDb(gain float64) float64 {
	return 20 * math.Log10(gain)
}

// PanToCoefficient maps a 0..100 pan position to a stereo pan coefficient in
// [-1, 1], with 50 = center = 0.
func PanToCoefficient(value int) float64 {
	return float64(value-50) / 50
}
