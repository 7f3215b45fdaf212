// Package fuelspark implements FuelSparkCompute (§4.6): VE/AFR/spark table
// lookups plus warmup, acceleration, after-start, closed-loop O2 trim, and
// DFCO layered on top of a base pulse width, run once per 10ms slow-loop
// tick.
package fuelspark

import "ecmcore/tunetable"

const (
	defaultCrankingPwUs = 5000
	defaultCrankingAFR  = 12.0

	defaultVEPct = 80.0
	defaultAFR   = 14.7

	stoichAFR = 14.7

	warmupLowF     = 32.0
	warmupHighF    = 160.0
	warmupMaxPct   = 40.0

	accelThresholdPct = 5.0
	accelGainUsPerPct = 50.0
	accelDecayFactor  = 0.8
	accelFloorUs      = 10.0

	closedLoopClamp = 0.25

	pwMin = 0.0
	pwMax = 25000.0
)

// Tables groups the three tunable lookup tables FuelSparkCompute reads.
type Tables struct {
	VE    *tunetable.Table
	AFR   *tunetable.Table
	Spark *tunetable.Table
}

// Params is the slice of ProjectConfig FuelSparkCompute needs.
type Params struct {
	ReqFuelMs float32 // (displacement/cyl) / flow_cc_per_min * 60000, precomputed

	AseInitialPct  float32
	AseDurationMs  float32
	AseMinCltF     float32

	ClosedMinRPM float32
	ClosedMaxRPM float32
	ClosedMaxMAP float32
	ClosedKp     float32
	ClosedKi     float32

	DfcoRPM          float32
	DfcoTPS          float32
	DfcoEntryDelayMs float32
	DfcoExitRPM      float32
	DfcoExitTPS      float32
}

// Inputs is the per-tick engine state FuelSparkCompute reads.
type Inputs struct {
	Cranking bool
	Running  bool
	RPM      float32
	MapKpa   float32
	TpsPct   float32
	CltF     float32

	// Bank AFR readings, authoritative source already resolved by the
	// caller per §9's wideband-priority rule.
	BankAFR    [2]float32
	BankReady  [2]bool

	DtMs float32 // tick period, for decay/ramp integration
}

// Outputs is what FuelSparkCompute publishes into EngineState this tick.
type Outputs struct {
	TargetAFR       float32
	SparkAdvanceDeg float32
	InjPwUs         float32
	FuelCut         bool
}

// Compute holds the cross-tick state (accel enrichment decay, ASE timer,
// closed-loop integrators, DFCO debounce) that §4.6's per-tick steps read
// and mutate.
type Compute struct {
	tables Tables
	params Params

	prevTps       float32
	haveTps       bool
	accelAddUs    float32

	aseActive   bool
	aseElapsed  float32
	wasRunning  bool

	clIntegral [2]float32

	dfcoEntryElapsed float32
	fuelCut          bool
}

// New constructs a Compute over the given tables and tunable parameters.
func New(tables Tables, params Params) *Compute {
	return &Compute{tables: tables, params: params}
}

// Tick runs one FuelSparkCompute pass (§4.6, steps 1-9).
func (c *Compute) Tick(in Inputs) Outputs {
	if in.Cranking {
		return Outputs{
			TargetAFR: defaultCrankingAFR,
			InjPwUs:   defaultCrankingPwUs,
		}
	}

	ve := float32(defaultVEPct)
	targetAFR := float32(defaultAFR)
	sparkAdv := float32(0)
	if c.tables.VE != nil {
		ve = c.tables.VE.Lookup(in.RPM, in.MapKpa)
	}
	if c.tables.AFR != nil {
		targetAFR = c.tables.AFR.Lookup(in.RPM, in.MapKpa)
	}
	if c.tables.Spark != nil {
		sparkAdv = c.tables.Spark.Lookup(in.RPM, in.MapKpa)
	}

	pw := c.params.ReqFuelMs * 1000 * (ve / 100) * (stoichAFR / targetAFR)

	pw *= 1 + c.warmupPct(in.CltF)/100

	pw += c.accelEnrichmentUs(in.TpsPct)

	pw *= 1 + c.asePct(in) / 100

	trim := c.closedLoopTrim(in, targetAFR)
	pw *= 1 + trim

	c.updateDFCO(in)
	if c.fuelCut {
		pw = 0
	}

	if pw < pwMin {
		pw = pwMin
	}
	if pw > pwMax {
		pw = pwMax
	}

	return Outputs{
		TargetAFR:       targetAFR,
		SparkAdvanceDeg: sparkAdv,
		InjPwUs:         pw,
		FuelCut:         c.fuelCut,
	}
}

// warmupPct implements §4.6 step 4: linear 40% -> 0% as CLT climbs
// 32F -> 160F, clamped at the endpoints.
func (c *Compute) warmupPct(cltF float32) float32 {
	if cltF <= warmupLowF {
		return warmupMaxPct
	}
	if cltF >= warmupHighF {
		return 0
	}
	frac := (cltF - warmupLowF) / (warmupHighF - warmupLowF)
	return warmupMaxPct * (1 - frac)
}

// accelEnrichmentUs implements §4.6 step 5.
func (c *Compute) accelEnrichmentUs(tpsPct float32) float32 {
	if !c.haveTps {
		c.prevTps = tpsPct
		c.haveTps = true
		return 0
	}
	delta := tpsPct - c.prevTps
	c.prevTps = tpsPct

	if delta > accelThresholdPct {
		c.accelAddUs += delta * accelGainUsPerPct
	} else {
		c.accelAddUs *= accelDecayFactor
		if c.accelAddUs < accelFloorUs {
			c.accelAddUs = 0
		}
	}
	return c.accelAddUs
}

// asePct implements §4.6 step 6: after-start enrichment begins when Running
// transitions true with CLT below AseMinCltF, decaying linearly to 0 over
// AseDurationMs, and terminates at 0 pct or engine stop.
func (c *Compute) asePct(in Inputs) float32 {
	justStarted := in.Running && !c.wasRunning
	c.wasRunning = in.Running

	if !in.Running {
		c.aseActive = false
		c.aseElapsed = 0
		return 0
	}

	if justStarted && in.CltF < c.params.AseMinCltF {
		c.aseActive = true
		c.aseElapsed = 0
	}

	if !c.aseActive {
		return 0
	}

	c.aseElapsed += in.DtMs
	if c.params.AseDurationMs <= 0 || c.aseElapsed >= c.params.AseDurationMs {
		c.aseActive = false
		return 0
	}
	remaining := 1 - c.aseElapsed/c.params.AseDurationMs
	return c.params.AseInitialPct * remaining
}

// closedLoopTrim implements §4.6 step 7: active only within the closed-loop
// window, averaging the PI-corrected trim of the banks that are ready. Each
// bank's integrator is frozen (neither updated nor reset) while the window
// is inactive or the bank is not ready, and resumes from its held value on
// re-entry.
func (c *Compute) closedLoopTrim(in Inputs, targetAFR float32) float32 {
	active := in.RPM >= c.params.ClosedMinRPM && in.RPM <= c.params.ClosedMaxRPM && in.MapKpa <= c.params.ClosedMaxMAP
	if !active {
		return 0
	}

	var sum float32
	var n int
	for bank := 0; bank < 2; bank++ {
		if !in.BankReady[bank] {
			continue
		}
		e := targetAFR - in.BankAFR[bank]
		c.clIntegral[bank] += e * c.params.ClosedKi
		c.clIntegral[bank] = clampf(c.clIntegral[bank], -closedLoopClamp, closedLoopClamp)
		correction := clampf(c.params.ClosedKp*e+c.clIntegral[bank], -closedLoopClamp, closedLoopClamp)
		sum += correction
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// updateDFCO implements §4.6 step 8: rpm > dfco_rpm && tps < dfco_tps must
// persist for DfcoEntryDelayMs before fuel cut engages; exit is immediate
// once either exit condition is met (no debounce specified for exit).
func (c *Compute) updateDFCO(in Inputs) {
	entryCondition := in.RPM > c.params.DfcoRPM && in.TpsPct < c.params.DfcoTPS

	if !c.fuelCut {
		if entryCondition {
			c.dfcoEntryElapsed += in.DtMs
			if c.dfcoEntryElapsed >= c.params.DfcoEntryDelayMs {
				c.fuelCut = true
			}
		} else {
			c.dfcoEntryElapsed = 0
		}
		return
	}

	exitCondition := in.RPM < c.params.DfcoExitRPM || in.TpsPct > c.params.DfcoExitTPS
	if exitCondition {
		c.fuelCut = false
		c.dfcoEntryElapsed = 0
	}
}
