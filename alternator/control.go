// Package alternator implements the alternator field-drive PID named in
// §3's "alternator PID terms" and §7's designed operating response
// ("alternator field forced low above overvoltage cutoff"). It is a direct
// port of original_source's AlternatorControl: a PID loop holding battery
// voltage at a target by driving the field PWM, with a hard cutoff that
// forces the field off above overvoltageCutoff (15.0V) rather than trying to
// regulate through it.
package alternator

import "ecmcore/hal"

const (
	defaultTargetVoltage = 13.6
	overvoltageCutoff    = 15.0
	maxDutyPercent       = 95.0
	pwmFreqHz            = 25000
	pwmResolutionBits    = 8
)

// Params groups ProjectConfig's alternator tunables.
type Params struct {
	Kp, Ki, Kd    float32
	TargetVoltage float32 // defaults to 13.6V when zero.
}

// Control drives one field PWM channel. It owns no GPIO of its own — the
// PWM channel is threaded in at construction, per §9's "pass an explicit
// capability handle through constructors" note.
type Control struct {
	pwm    hal.PwmChannel
	params Params

	integral    float32
	prevError   float32
	dutyPercent float32
	overvoltage bool
}

// New constructs a Control over pwm with the given PID params.
func New(pwm hal.PwmChannel, params Params) *Control {
	if params.TargetVoltage == 0 {
		params.TargetVoltage = defaultTargetVoltage
	}
	return &Control{pwm: pwm, params: params}
}

// Begin configures the field PWM channel's frequency/resolution.
func (c *Control) Begin() error {
	return c.pwm.Configure(pwmFreqHz, pwmResolutionBits)
}

// Update runs one PID step against the measured battery voltage. dtSec is
// the slow-loop tick period in seconds (the loop this is decimated from is
// the same one that drives FuelSparkCompute, so no separate decimation is
// needed here).
func (c *Control) Update(vbat, dtSec float32) {
	if vbat > overvoltageCutoff {
		c.overvoltage = true
		c.integral = 0
		c.setDuty(0)
		return
	}
	c.overvoltage = false

	if dtSec <= 0 {
		dtSec = 0.1
	}

	errVal := c.params.TargetVoltage - vbat

	c.integral += errVal * dtSec
	if c.params.Ki != 0 {
		iClamp := maxDutyPercent / c.params.Ki
		if iClamp < 0 {
			iClamp = -iClamp
		}
		if c.integral > iClamp {
			c.integral = iClamp
		}
		if c.integral < -iClamp {
			c.integral = -iClamp
		}
	}

	deriv := (errVal - c.prevError) / dtSec
	c.prevError = errVal

	output := c.params.Kp*errVal + c.params.Ki*c.integral + c.params.Kd*deriv
	c.setDuty(output)
}

func (c *Control) setDuty(percent float32) {
	if percent < 0 {
		percent = 0
	}
	if percent > maxDutyPercent {
		percent = maxDutyPercent
	}
	c.dutyPercent = percent

	maxCount := uint32(1)<<pwmResolutionBits - 1
	count := uint32(percent / 100 * float32(maxCount))
	_ = c.pwm.WriteDuty(count)
}

// DutyPercent returns the last commanded field duty cycle, 0..95.
func (c *Control) DutyPercent() float32 { return c.dutyPercent }

// Overvoltage reports whether the field is currently forced off because
// battery voltage exceeded overvoltageCutoff.
func (c *Control) Overvoltage() bool { return c.overvoltage }
