package wideband

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ecmcore/hal"
)

func TestProgressionIdleToPID(t *testing.T) {
	pwm := hal.NewSimPwm()
	spi := hal.NewSimSpi()
	spi.OnTransfer(func(sent uint16) uint16 { return diagOKResponse })

	b := NewBank(pwm, spi)
	require.Equal(t, Idle, b.State())

	b.Begin(0)
	require.Equal(t, WaitPower, b.State())

	ctx := context.Background()
	b.Tick(ctx, 0, 12.0) // vbat >= 11.0 -> CALIBRATING
	require.Equal(t, Calibrating, b.State())

	b.Tick(ctx, 60, 12.0) // past the 50ms calibrate settle -> CONDENSATION
	require.Equal(t, Condensation, b.State())

	b.Tick(ctx, 60+5000, 12.0) // 5s in CONDENSATION -> RAMP_UP
	require.Equal(t, RampUp, b.State())

	// (13.0-8.5)/0.4 = 11.25s of ramping.
	rampDoneMs := int64(60+5000) + 11250
	b.Tick(ctx, rampDoneMs, 12.0)
	require.Equal(t, PID, b.State())
	require.True(t, b.Ready())
}

func TestErrorOnPersistentBadDiagnostic(t *testing.T) {
	pwm := hal.NewSimPwm()
	spi := hal.NewSimSpi()
	spi.OnTransfer(func(sent uint16) uint16 { return 0x1234 }) // persistent non-OK, non-0x28xx

	b := NewBank(pwm, spi)
	b.Begin(0)
	ctx := context.Background()
	b.Tick(ctx, 0, 12.0)
	b.Tick(ctx, 60, 12.0)
	b.Tick(ctx, 5060, 12.0)
	b.Tick(ctx, 16310, 12.0) // now in PID

	for i := 0; i < 5; i++ {
		b.Tick(ctx, 16310+int64(i)*100, 12.0)
	}
	require.Equal(t, Error, b.State())
	require.False(t, b.Ready())
	require.Equal(t, uint32(0), pwm.Duty())
}

func TestInformational28xxPatternIsNotAnError(t *testing.T) {
	pwm := hal.NewSimPwm()
	spi := hal.NewSimSpi()
	spi.OnTransfer(func(sent uint16) uint16 { return 0x2801 }) // 0x28xx, not the exact OK value

	b := NewBank(pwm, spi)
	b.Begin(0)
	ctx := context.Background()
	b.Tick(ctx, 0, 12.0)
	b.Tick(ctx, 60, 12.0)
	b.Tick(ctx, 5060, 12.0)
	b.Tick(ctx, 16310, 12.0)
	for i := 0; i < 5; i++ {
		b.Tick(ctx, 16310+int64(i)*100, 12.0)
	}
	require.Equal(t, PID, b.State())
}

func TestReadyIffStatePID(t *testing.T) {
	pwm := hal.NewSimPwm()
	spi := hal.NewSimSpi()
	b := NewBank(pwm, spi)
	require.False(t, b.Ready())
	b.Begin(0)
	require.False(t, b.Ready())
}
