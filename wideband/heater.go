// Package wideband implements the per-bank wideband O2 heater state machine
// (§4.5): calibrate -> condensation -> ramp -> PID, driving a heater PWM and
// talking to the sensor IC over a SpiBus, the same "own a capability handle,
// advance a small state machine against wall-clock deadlines" shape as
// huskki's drivers.Driver, generalized from "decode a byte stream" to
// "drive a heater toward a setpoint".
package wideband

import (
	"context"

	"ecmcore/hal"
)

// State is the heater state machine's current state.
type State int

const (
	Idle State = iota
	WaitPower
	Calibrating
	Condensation
	RampUp
	PID
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case WaitPower:
		return "WAIT_POWER"
	case Calibrating:
		return "CALIBRATING"
	case Condensation:
		return "CONDENSATION"
	case RampUp:
		return "RAMP_UP"
	case PID:
		return "PID"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Wire-level SPI command words (§6).
const (
	cmdIdentifyRequest   uint16 = 0x4800
	cmdDiagnosticRequest uint16 = 0x7800
	cmdSetModeCalibrate  uint16 = 0x569D
	cmdSetModeNormalV8   uint16 = 0x5688
	diagOKResponse       uint16 = 0x28FF
)

const (
	minBatteryVoltage = 11.0
	calibrateSettleMs = 50
	condensationMs    = 5000
	condensationV     = 2.0
	rampStartV        = 8.5
	rampEndV          = 13.0
	rampRateVPerSec   = 0.4
	tickPeriodMs      = 100

	integralClamp = 250
	pwmMax        = 255
	kP            = 120.0
	kI            = 0.8
	kD            = 10.0
)

// Bank is one WidebandHeaterSM instance for one sensor bank.
type Bank struct {
	pwm hal.PwmChannel
	spi hal.SpiBus

	state        State
	uaRef, urRef float32
	uaValue      float32
	urValue      float32

	integral  float32
	prevError float32
	heaterPwm uint32
	rampV     float32

	stateStartMs int64

	lambda, afr, oxygenPct float32

	calibrateDeadlineMs int64
	diagErrStreak       int
}

// NewBank constructs a Bank; initial state is Idle per §3's lifecycle.
func NewBank(pwm hal.PwmChannel, spi hal.SpiBus) *Bank {
	return &Bank{state: Idle, pwm: pwm, spi: spi}
}

// Begin transitions Idle -> WaitPower, as required at startup / re-begin
// after Error.
func (b *Bank) Begin(nowMs int64) {
	b.state = WaitPower
	b.stateStartMs = nowMs
	b.integral = 0
	b.prevError = 0
}

// State returns the current state.
func (b *Bank) State() State { return b.state }

// Ready reports whether closed-loop lambda/AFR output is meaningful.
func (b *Bank) Ready() bool { return b.state == PID }

// Lambda, AFR, OxygenPct are meaningful only while Ready().
func (b *Bank) Lambda() float32     { return b.lambda }
func (b *Bank) AFR() float32        { return b.afr }
func (b *Bank) OxygenPct() float32  { return b.oxygenPct }

// Tick advances the state machine by one 100ms decimated tick. vbat is the
// current battery voltage; pwm.Configure is assumed already called by the
// owner at start-up.
func (b *Bank) Tick(ctx context.Context, nowMs int64, vbat float32) {
	switch b.state {
	case Idle:
		// Do nothing until Begin is called.

	case WaitPower:
		if vbat >= minBatteryVoltage {
			b.state = Calibrating
			b.stateStartMs = nowMs
			_, _ = b.spi.Transfer16(ctx, cmdSetModeCalibrate)
			b.calibrateDeadlineMs = nowMs + calibrateSettleMs
		}
		b.driveHeater(ctx, 0, vbat)

	case Calibrating:
		if nowMs >= b.calibrateDeadlineMs {
			ua, _ := b.spi.Transfer16(ctx, cmdDiagnosticRequest)
			ur, _ := b.spi.Transfer16(ctx, cmdDiagnosticRequest)
			b.uaRef = float32(ua)
			b.urRef = float32(ur)
			_, _ = b.spi.Transfer16(ctx, cmdSetModeNormalV8)
			b.state = Condensation
			b.stateStartMs = nowMs
		}
		b.driveHeater(ctx, 0, vbat)

	case Condensation:
		b.driveHeater(ctx, condensationV, vbat)
		if nowMs-b.stateStartMs >= condensationMs {
			b.state = RampUp
			b.stateStartMs = nowMs
			b.rampV = rampStartV
		}

	case RampUp:
		elapsedSec := float32(nowMs-b.stateStartMs) / 1000
		b.rampV = rampStartV + elapsedSec*rampRateVPerSec
		if b.rampV >= rampEndV {
			b.rampV = rampEndV
			b.state = PID
			b.stateStartMs = nowMs
			b.integral = 0
			b.prevError = 0
		}
		b.driveHeater(ctx, b.rampV, vbat)

	case PID:
		b.readSensor(ctx)
		if b.checkDiagnostic(ctx) {
			b.state = Error
			b.heaterPwm = 0
			_ = b.pwm.WriteDuty(0)
			return
		}
		b.runPID()
		b.updateLambdaAFR()

	case Error:
		b.heaterPwm = 0
		_ = b.pwm.WriteDuty(0)
	}
}

// driveHeater fixes/ramps the target heater voltage and derives a duty
// cycle as a fraction of battery voltage, per §4.5.
func (b *Bank) driveHeater(ctx context.Context, targetV, vbat float32) {
	duty := float32(0)
	if vbat > 0 {
		duty = targetV / vbat
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	b.heaterPwm = uint32(duty * pwmMax)
	_ = b.pwm.WriteDuty(b.heaterPwm)
}

func (b *Bank) readSensor(ctx context.Context) {
	ua, _ := b.spi.Transfer16(ctx, cmdDiagnosticRequest)
	b.uaValue = float32(ua)
	ur, _ := b.spi.Transfer16(ctx, cmdDiagnosticRequest)
	b.urValue = float32(ur)
}

// checkDiagnostic issues a diagnostic request and classifies the response:
// the exact 0x28FF pattern is OK; any other 0x28xx pattern is informational
// (not an error); a persistently-seen non-zero, non-0x28xx status is a
// fault (§4.5, §9 open question).
func (b *Bank) checkDiagnostic(ctx context.Context) bool {
	resp, err := b.spi.Transfer16(ctx, cmdDiagnosticRequest)
	if err != nil {
		return false
	}
	if resp == diagOKResponse {
		b.diagErrStreak = 0
		return false
	}
	if resp&0xFF00 == 0x2800 {
		// Informational high-byte pattern, not itself an error.
		b.diagErrStreak = 0
		return false
	}
	if resp != 0 {
		b.diagErrStreak++
	} else {
		b.diagErrStreak = 0
	}
	return b.diagErrStreak >= 3
}

// runPID runs the Nernst-voltage PID loop described in §4.5, matching the
// original CJ125Controller::updateBank PID step literally: the integral
// accumulates the raw (unscaled-by-dt) error, the derivative is a plain
// error delta, and the output increments the existing duty rather than
// replacing it outright.
func (b *Bank) runPID() {
	errVal := b.urValue - b.urRef
	b.integral += errVal
	if b.integral > integralClamp {
		b.integral = integralClamp
	}
	if b.integral < -integralClamp {
		b.integral = -integralClamp
	}
	deriv := errVal - b.prevError
	b.prevError = errVal

	pidOutput := kP*errVal + kI*b.integral + kD*deriv
	duty := int32(b.heaterPwm) + int32(pidOutput)
	if duty < 0 {
		duty = 0
	}
	if duty > pwmMax {
		duty = pwmMax
	}
	b.heaterPwm = uint32(duty)
	_ = b.pwm.WriteDuty(b.heaterPwm)
}

func (b *Bank) updateLambdaAFR() {
	b.lambda = lambdaFromUA(b.uaValue - b.uaRef)
	b.afr = b.lambda * 14.7
	if b.lambda > 1 {
		b.oxygenPct = (1 - 1/b.lambda) * 20.95
	} else {
		b.oxygenPct = 0
	}
}
