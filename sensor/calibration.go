package sensor

import "math"

// filter applies the moving-average then EMA chain described in §4.4 step 2.
// With MovingAverageWindow==1 and EMAAlpha==1, filtered==raw exactly (§8).
func (d *Descriptor) filter(raw float32) float32 {
	avg := d.movingAverage(raw)

	if !d.emaInit {
		d.FilteredRaw = avg
		d.emaInit = true
		return d.FilteredRaw
	}
	alpha := d.Filter.EMAAlpha
	d.FilteredRaw = alpha*avg + (1-alpha)*d.FilteredRaw
	return d.FilteredRaw
}

func (d *Descriptor) movingAverage(raw float32) float32 {
	window := d.Filter.MovingAverageWindow
	if window <= 1 {
		return raw
	}
	if d.maSamples == nil {
		d.maSamples = make([]float32, window)
	}
	d.maSamples[d.maIdx] = raw
	d.maIdx = (d.maIdx + 1) % window
	if d.maFilled < window {
		d.maFilled++
	}
	var sum float32
	for i := 0; i < d.maFilled; i++ {
		sum += d.maSamples[i]
	}
	return sum / float32(d.maFilled)
}

// calibrate applies the configured calibration kind to a voltage in volts,
// per §4.4 step 3.
func (d *Descriptor) calibrate(voltage float32) float32 {
	switch d.Calibration {
	case CalLinear:
		c := d.Linear
		if c.B == c.A {
			return c.C
		}
		return c.C + (voltage-c.A)*(c.D-c.C)/(c.B-c.A)

	case CalNTC:
		return d.calibrateNTC(voltage)

	case CalVoltageDivider:
		return voltage * d.Divider.Ratio

	case CalTwoPoint:
		c := d.TwoPoint
		if voltage <= 0 {
			return c.AfrAt0
		}
		if voltage >= 5 {
			return c.AfrAt5
		}
		return c.AfrAt0 + (c.AfrAt5-c.AfrAt0)*(voltage/5)

	default: // CalNone: raw passthrough.
		return voltage
	}
}

// calibrateNTC implements the Beta-equation thermistor conversion, returning
// degrees Fahrenheit (CLT/IAT use °F per §3's EngineState fields).
func (d *Descriptor) calibrateNTC(voltage float32) float32 {
	c := d.NTC
	if voltage <= 0 || voltage >= c.RefVoltage {
		voltage = clampf(voltage, 0.001, c.RefVoltage-0.001)
	}
	r := c.PullupOhms * float64ToF32(float64(voltage)/float64(c.RefVoltage-voltage))
	invT := 1/c.T0Kelvin + (1/c.BetaK)*float32(math.Log(float64(r/c.R0Ohms)))
	tKelvin := 1 / invT
	tCelsius := tKelvin - 273.15
	tFahrenheit := tCelsius*9/5 + 32
	return tFahrenheit
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func float64ToF32(v float64) float32 { return float32(v) }

// validate evaluates error/warn bounds per §4.4 step 4: validation only
// fires when the engine is in an active phase AND the raw reading exceeds
// the settle guard.
func (d *Descriptor) validate(phase EnginePhase, raw float32) {
	v := d.Validation
	active := v.ActiveStates&phase != 0 && absf(raw) > v.SettleGuard
	if !active {
		d.InError = false
		d.InWarning = false
		return
	}
	if v.HasErrorBounds {
		d.InError = d.Value < v.ErrorMin || d.Value > v.ErrorMax
	} else {
		d.InError = false
	}
	if v.HasWarnBounds {
		d.InWarning = d.Value < v.WarnMin || d.Value > v.WarnMax
	} else {
		d.InWarning = false
	}
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
