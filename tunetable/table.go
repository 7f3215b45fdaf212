// Package tunetable implements the 2D interpolating lookup table (§4.3)
// used for VE, target AFR, and spark advance against RPM x MAP, plus the 1D
// axis search it shares with huskki's DID scaling functions (ecus/k701.go)
// generalized from a fixed linear scale to an arbitrary monotonic axis.
package tunetable

const zeroWidthEpsilon = 1e-3

// Table is a row-major value grid indexed by two monotonic axes.
type Table struct {
	xAxis  []float32
	yAxis  []float32
	values []float32 // values[y*xSize+x]
	xSize  int
	ySize  int
}

// New allocates an xSize x ySize table. Allocation happens once, at startup,
// per the arena strategy in §9 — the fast path (Lookup) never allocates.
func New(xSize, ySize int) *Table {
	return &Table{
		xAxis:  make([]float32, xSize),
		yAxis:  make([]float32, ySize),
		values: make([]float32, xSize*ySize),
		xSize:  xSize,
		ySize:  ySize,
	}
}

// SetXAxis bulk-loads the X axis (must be monotonically non-decreasing).
func (t *Table) SetXAxis(values []float32) {
	copy(t.xAxis, values)
}

// SetYAxis bulk-loads the Y axis.
func (t *Table) SetYAxis(values []float32) {
	copy(t.yAxis, values)
}

// SetValues bulk-loads the row-major value grid.
func (t *Table) SetValues(values []float32) {
	copy(t.values, values)
}

// SetCell live-tunes a single cell (§5's "one cell at a time" re-tune path);
// the fast loop tolerates one stale lookup, which is satisfied here by this
// being a single word-granularity write.
func (t *Table) SetCell(x, y int, value float32) {
	if x < 0 || x >= t.xSize || y < 0 || y >= t.ySize {
		return
	}
	t.values[y*t.xSize+x] = value
}

// SetAxis live-tunes one axis point.
func (t *Table) SetAxis(axis string, index int, value float32) {
	switch axis {
	case "x":
		if index >= 0 && index < t.xSize {
			t.xAxis[index] = value
		}
	case "y":
		if index >= 0 && index < t.ySize {
			t.yAxis[index] = value
		}
	}
}

// Lookup returns the bilinearly interpolated value at (x, y). Out-of-range
// inputs clamp to the nearest edge; a 1x1 table returns its single value.
func (t *Table) Lookup(x, y float32) float32 {
	if t.xSize == 1 && t.ySize == 1 {
		return t.values[0]
	}

	xi, xf := findBin(t.xAxis, x)
	yi, yf := findBin(t.yAxis, y)

	v00 := t.at(xi, yi)
	v10 := t.at(xi+1, yi)
	v01 := t.at(xi, yi+1)
	v11 := t.at(xi+1, yi+1)

	top := lerp(v00, v10, xf)
	bottom := lerp(v01, v11, xf)
	return lerp(top, bottom, yf)
}

func (t *Table) at(x, y int) float32 {
	if x < 0 {
		x = 0
	}
	if x >= t.xSize {
		x = t.xSize - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= t.ySize {
		y = t.ySize - 1
	}
	return t.values[y*t.xSize+x]
}

// findBin locates the bin containing v (axis[i] <= v <= axis[i+1]) and
// returns the lower index plus the fractional position within the bin.
// Below the first point or above the last, it clamps (fraction 0) to the
// nearest edge. A zero-width bin uses the low edge without division.
func findBin(axis []float32, v float32) (idx int, frac float32) {
	n := len(axis)
	if n == 0 {
		return 0, 0
	}
	if n == 1 || v <= axis[0] {
		return 0, 0
	}
	if v >= axis[n-1] {
		return n - 2, 1
	}
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if axis[mid] <= v {
			lo = mid
		} else {
			hi = mid
		}
	}
	width := axis[hi] - axis[lo]
	if width < zeroWidthEpsilon {
		return lo, 0
	}
	return lo, (v - axis[lo]) / width
}

func lerp(a, b, f float32) float32 {
	return a + (b-a)*f
}

// XSize reports the table's X axis length.
func (t *Table) XSize() int { return t.xSize }

// YSize reports the table's Y axis length.
func (t *Table) YSize() int { return t.ySize }
