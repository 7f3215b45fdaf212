package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdc struct{ mv float32 }

func (f *fakeAdc) StartConversion(int) error              { return nil }
func (f *fakeAdc) ConversionReady(int) (bool, error)       { return true, nil }
func (f *fakeAdc) ReadMillivolts(context.Context, int) (float32, error) {
	return f.mv, nil
}

func TestLayerTickAppliesFaultAction(t *testing.T) {
	adc := &fakeAdc{mv: 4800} // 4.8V, above the 4.5V top of a 0.5-4.5V -> 0-100kPa MAP range: 107.5kPa
	slots := []*Descriptor{
		{
			Name: "map", Source: SourceExternalADC16, DeviceIndex: 0, Channel: 0,
			Calibration: CalLinear, Linear: LinearCal{A: 0.5, B: 4.5, C: 0, D: 100},
			Validation: ValidationSpec{HasErrorBounds: true, ErrorMax: 105, SettleGuard: 0, ActiveStates: PhaseRunning},
			FaultBit:   3, FaultAction: FaultActionLimp,
			Filter: FilterSpec{MovingAverageWindow: 1, EMAAlpha: 1},
		},
	}
	layer := NewLayer(slots, nil, map[int]AdcDevice{0: adc}, nil, nil)

	_, limpBits := layer.Tick(context.Background(), PhaseRunning, true, 2000, 50)
	require.Equal(t, uint32(1<<3), limpBits)
}

func TestLayerTickNoFaultWhenWithinBounds(t *testing.T) {
	adc := &fakeAdc{mv: 2500}
	slots := []*Descriptor{
		{
			Name: "map", Source: SourceExternalADC16, DeviceIndex: 0, Channel: 0,
			Calibration: CalLinear, Linear: LinearCal{A: 0, B: 5, C: 0, D: 100},
			Validation: ValidationSpec{HasErrorBounds: true, ErrorMax: 105, SettleGuard: 0, ActiveStates: PhaseRunning},
			FaultBit:   3, FaultAction: FaultActionLimp,
			Filter: FilterSpec{MovingAverageWindow: 1, EMAAlpha: 1},
		},
	}
	layer := NewLayer(slots, nil, map[int]AdcDevice{0: adc}, nil, nil)

	_, limpBits := layer.Tick(context.Background(), PhaseRunning, true, 2000, 50)
	require.Equal(t, uint32(0), limpBits)
}

func TestLayerMarksDisconnectedAdcSlotStale(t *testing.T) {
	slots := []*Descriptor{{Name: "orphan", Source: SourceExternalADC16, DeviceIndex: 99}}
	layer := NewLayer(slots, nil, map[int]AdcDevice{}, nil, nil)
	layer.Tick(context.Background(), PhaseRunning, true, 0, 0)
	require.True(t, slots[0].Stale)
}

func TestLayerFaultRulesFoldIntoBitmask(t *testing.T) {
	rule := &Rule{Name: "oil-low", Operator: OpLT, ThresholdA: 10, DebounceMs: 0, FaultBit: 7, FaultAction: FaultActionLimp, RequireRunning: true}
	rule.PrimaryValue = 2
	layer := NewLayer(nil, []*Rule{rule}, nil, nil, nil)
	_, limpBits := layer.Tick(context.Background(), PhaseRunning, true, 2000, 50)
	require.Equal(t, uint32(1<<7), limpBits)
}
