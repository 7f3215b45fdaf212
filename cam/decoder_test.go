package cam

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhaseResolvesFromLatchedTooth(t *testing.T) {
	tooth := uint32(5)
	d := New(36, func() uint32 { return tooth })

	d.OnEdge(0)
	require.Equal(t, Phase0, d.Poll(1_000_000))

	tooth = 30
	d.OnEdge(1_000_000)
	require.Equal(t, Phase1, d.Poll(2_000_000))
}

func TestPhaseUnknownOnTimeout(t *testing.T) {
	d := New(36, func() uint32 { return 0 })
	d.OnEdge(0)
	// 2s + 1us later, beyond the 2s timeout.
	require.Equal(t, PhaseUnknown, d.Poll(2_000_001))
	require.False(t, HasCamSignal(d.Poll(2_000_001)))
}

func TestPhaseUnknownBeforeFirstEdge(t *testing.T) {
	d := New(36, func() uint32 { return 10 })
	require.Equal(t, PhaseUnknown, d.Poll(0))
}
