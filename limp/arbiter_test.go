package limp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		NormalRevLimit: 6000,
		LimpRevLimit:   3000,
		LimpAdvanceCap: 10,
		LimpRecoveryMs: 5000,
	}
}

func TestLimpEntersWithinOneTickOnAnyFault(t *testing.T) {
	a := New(testParams())
	out := a.Tick(Inputs{SensorLimpBits: 1 << 3}, 0)
	require.True(t, out.LimpMode)
	require.True(t, out.CEL)
	require.Equal(t, float32(3000), out.RevLimit)
	require.True(t, out.HasAdvanceCap)
	require.Equal(t, float32(10), out.AdvanceCap)
}

func TestLimpExitsAfterRecoveryDwell(t *testing.T) {
	a := New(testParams())
	a.Tick(Inputs{SensorLimpBits: 1}, 0)

	out := a.Tick(Inputs{ExpanderHealthy: true}, 1000) // clear, but dwell not yet elapsed
	require.True(t, out.LimpMode)

	out = a.Tick(Inputs{ExpanderHealthy: true}, 4999)
	require.True(t, out.LimpMode)

	out = a.Tick(Inputs{ExpanderHealthy: true}, 6001) // 5001ms after the first clear tick
	require.False(t, out.LimpMode)
	require.False(t, out.CEL)
	require.Equal(t, float32(6000), out.RevLimit)
}

func TestLimpRecoveryRestartsOnRelapse(t *testing.T) {
	a := New(testParams())
	a.Tick(Inputs{SensorLimpBits: 1}, 0)
	a.Tick(Inputs{ExpanderHealthy: true}, 1000) // clear begins ticking

	a.Tick(Inputs{SensorLimpBits: 1}, 2000)           // relapse before dwell elapses
	out := a.Tick(Inputs{ExpanderHealthy: true}, 6000) // would have cleared under the old timer
	require.True(t, out.LimpMode, "relapse should restart the recovery dwell")
}

func TestOilPressureGatedByStartupDelay(t *testing.T) {
	p := testParams()
	p.OilStartupDelayMs = 3000
	a := New(p)

	out := a.Tick(Inputs{ExpanderHealthy: true, OilPressureLow: true, Running: true, RunningElapsedMs: 1000}, 0)
	require.False(t, out.LimpMode, "oil fault suppressed during startup delay")

	out = a.Tick(Inputs{ExpanderHealthy: true, OilPressureLow: true, Running: true, RunningElapsedMs: 3001}, 100)
	require.True(t, out.LimpMode)
}

func TestExpanderAndWidebandHealthFeedLimp(t *testing.T) {
	a := New(testParams())
	out := a.Tick(Inputs{ExpanderHealthy: false}, 0)
	require.True(t, out.LimpMode)

	a2 := New(testParams())
	out2 := a2.Tick(Inputs{ExpanderHealthy: true, WidebandError: [2]bool{true, false}}, 0)
	require.True(t, out2.LimpMode)
}
