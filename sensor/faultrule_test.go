package sensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuleGTWithDebounce(t *testing.T) {
	r := &Rule{Operator: OpGT, ThresholdA: 280, DebounceMs: 500}
	gates := GateInputs{Running: true}

	r.PrimaryValue = 300
	require.False(t, r.Evaluate(gates, 0), "condition true but debounce not yet elapsed")
	require.False(t, r.Evaluate(gates, 400))
	require.True(t, r.Evaluate(gates, 600), "debounce elapsed")
}

func TestRuleClearsOnConditionFalse(t *testing.T) {
	r := &Rule{Operator: OpGT, ThresholdA: 280, DebounceMs: 0}
	gates := GateInputs{Running: true}
	r.PrimaryValue = 300
	require.True(t, r.Evaluate(gates, 0))
	r.PrimaryValue = 100
	require.False(t, r.Evaluate(gates, 1))
}

func TestRuleHysteresisKeepsActiveUntilPastBand(t *testing.T) {
	r := &Rule{Operator: OpGT, ThresholdA: 280, Hysteresis: 10, DebounceMs: 0}
	gates := GateInputs{Running: true}
	r.PrimaryValue = 285
	require.True(t, r.Evaluate(gates, 0))

	// Drops below 280 but still above 280-10=270: stays active due to hysteresis.
	r.PrimaryValue = 275
	require.True(t, r.Evaluate(gates, 1))

	r.PrimaryValue = 265
	require.False(t, r.Evaluate(gates, 2))
}

func TestRuleRequireRunningGate(t *testing.T) {
	r := &Rule{Operator: OpGT, ThresholdA: 1, RequireRunning: true, DebounceMs: 0}
	r.PrimaryValue = 100
	require.False(t, r.Evaluate(GateInputs{Running: false}, 0))
	require.True(t, r.Evaluate(GateInputs{Running: true}, 1))
}

func TestRuleRPMGate(t *testing.T) {
	r := &Rule{Operator: OpGT, ThresholdA: 1, HasRPMGate: true, RPMMin: 1000, RPMMax: 5000, DebounceMs: 0}
	r.PrimaryValue = 100
	require.False(t, r.Evaluate(GateInputs{Running: true, RPM: 500}, 0))
	require.True(t, r.Evaluate(GateInputs{Running: true, RPM: 2000}, 1))
}

func TestRuleOutsideRange(t *testing.T) {
	r := &Rule{Operator: OpOutsideRange, ThresholdA: 10, ThresholdB: 20, DebounceMs: 0}
	r.PrimaryValue = 5
	require.True(t, r.Evaluate(GateInputs{Running: true}, 0))
	r.PrimaryValue = 15
	require.False(t, r.Evaluate(GateInputs{Running: true}, 1))
}

func TestRuleDeltaOperator(t *testing.T) {
	r := &Rule{Operator: OpDelta, ThresholdA: 5, DebounceMs: 0, HasSecondary: true}
	r.PrimaryValue = 100
	r.SecondaryValue = 92
	require.True(t, r.Evaluate(GateInputs{Running: true}, 0))
}

func TestRuleCurveReplacesStaticThreshold(t *testing.T) {
	r := &Rule{
		Operator: OpGT, DebounceMs: 0,
		HasCurve: true,
		Curve: Curve{X: [6]float32{0, 1000, 2000, 3000, 4000, 5000}, Y: [6]float32{50, 60, 70, 80, 90, 100}, N: 6},
		CurveX: 1000,
	}
	r.PrimaryValue = 65
	require.True(t, r.Evaluate(GateInputs{Running: true}, 0), "threshold interpolated to 60 at x=1000")
}
