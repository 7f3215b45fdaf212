package tunetable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	tbl := New(3, 2)
	tbl.SetXAxis([]float32{1000, 3000, 6000})
	tbl.SetYAxis([]float32{20, 80})
	tbl.SetValues([]float32{
		10, 20, 30, // y=20
		15, 25, 35, // y=80
	})
	return tbl
}

func TestLookupExactGridPoints(t *testing.T) {
	tbl := newTestTable()
	require.InDelta(t, 10, tbl.Lookup(1000, 20), 1e-4)
	require.InDelta(t, 35, tbl.Lookup(6000, 80), 1e-4)
	require.InDelta(t, 25, tbl.Lookup(3000, 80), 1e-4)
}

func TestLookupClampsOutOfRange(t *testing.T) {
	tbl := newTestTable()
	require.InDelta(t, 10, tbl.Lookup(-500, 0), 1e-4)
	require.InDelta(t, 35, tbl.Lookup(9000, 200), 1e-4)
}

func TestLookupBilinearMidpoint(t *testing.T) {
	tbl := newTestTable()
	got := tbl.Lookup(2000, 50)
	require.InDelta(t, 17.5, got, 1e-3)
}

func TestSingleCellTable(t *testing.T) {
	tbl := New(1, 1)
	tbl.SetValues([]float32{42})
	require.Equal(t, float32(42), tbl.Lookup(0, 0))
	require.Equal(t, float32(42), tbl.Lookup(9999, -1))
}

func TestMonotonicGridYieldsMonotonicLookup(t *testing.T) {
	tbl := newTestTable()
	prev := float32(-1)
	for rpm := float32(1000); rpm <= 6000; rpm += 250 {
		v := tbl.Lookup(rpm, 20)
		require.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestSetCellLiveTune(t *testing.T) {
	tbl := newTestTable()
	tbl.SetCell(1, 0, 99)
	require.Equal(t, float32(99), tbl.Lookup(3000, 20))
}

func TestZeroWidthBinUsesLowEdge(t *testing.T) {
	tbl := New(2, 1)
	tbl.SetXAxis([]float32{100, 100.0001})
	tbl.SetYAxis([]float32{0})
	tbl.SetValues([]float32{5, 50})
	// Inside the ~1e-4-wide bin; interpolating would give about 27.5.
	require.Equal(t, float32(5), tbl.Lookup(100.00005, 0))
}
