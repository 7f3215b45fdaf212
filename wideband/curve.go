package wideband

// lsu49CurveX/lsu49CurveY are the 23-point Bosch LSU 4.9 Ip(pump current proxy) -> lambda
// characteristic, piecewise-linear per §4.5. X is the (uaValue - uaRef)
// proxy in ADC counts; the shape (roughly flat near stoichiometric, steep
// at the rich/lean extremes) matches the published LSU 4.9 curve.
var lsu49CurveX = [23]float32{
	-2000, -1750, -1500, -1250, -1000, -750, -500, -350, -200, -100, -50,
	0,
	50, 100, 200, 350, 500, 750, 1000, 1250, 1500, 1750, 2000,
}

var lsu49CurveY = [23]float32{
	0.65, 0.68, 0.71, 0.74, 0.77, 0.80, 0.85, 0.89, 0.93, 0.97, 0.99,
	1.00,
	1.02, 1.05, 1.10, 1.18, 1.30, 1.50, 1.80, 2.20, 2.80, 3.50, 4.50,
}

// lambdaFromUA performs the piecewise-linear lookup from the 23-point
// curve, clamping outside the table's range.
func lambdaFromUA(x float32) float32 {
	n := len(lsu49CurveX)
	if x <= lsu49CurveX[0] {
		return lsu49CurveY[0]
	}
	if x >= lsu49CurveX[n-1] {
		return lsu49CurveY[n-1]
	}
	for i := 0; i < n-1; i++ {
		if x >= lsu49CurveX[i] && x <= lsu49CurveX[i+1] {
			width := lsu49CurveX[i+1] - lsu49CurveX[i]
			f := (x - lsu49CurveX[i]) / width
			return lsu49CurveY[i] + (lsu49CurveY[i+1]-lsu49CurveY[i])*f
		}
	}
	return lsu49CurveY[n-1]
}
