package logic

import "golang.org/x/exp/constraints"

// Calibration converts averaged ADC codes to pack voltage and charge percent.
// The pack is measured through a resistive divider: Vin -> R1 -> ADC -> R2 -> GND.
type Calibration struct {
	VRef      float64 // ADC reference voltage
	FullScale float64 // ADC code at VRef (1023 for a 10-bit converter)
	R1        float64
	R2        float64

	EmptyVolts float64 // maps to 0%
	FullVolts  float64 // maps to 100%
}

// DefaultCalibration matches a 0-25V divider module on a 5V 10-bit ADC and a
// 2S lead-acid style pack.
var DefaultCalibration = Calibration{
	VRef:       5.0,
	FullScale:  1023,
	R1:         30000,
	R2:         7500,
	EmptyVolts: 5.5,
	FullVolts:  8.8,
}

// Voltage returns the pack voltage for an averaged ADC code.
func (c Calibration) Voltage(code uint16) float64 {
	return float64(code) * c.VRef / c.FullScale * (c.R1 + c.R2) / c.R2
}

// Percent maps a pack voltage onto 0..100, truncating toward zero and
// clamping outside the calibrated range.
func (c Calibration) Percent(v float64) uint8 {
	span := c.FullVolts - c.EmptyVolts
	if span <= 0 {
		return 0
	}
	pct := (v - c.EmptyVolts) * 100 / span
	return uint8(Clamp(pct, 0, 100))
}

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
