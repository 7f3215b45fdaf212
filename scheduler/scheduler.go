// Package scheduler implements RealtimeScheduler (§4.7): the fast-loop
// angle-domain driver for coil dwell/spark and injector open/close, run
// once per fast-loop iteration against the latest published crank angle and
// the latest slow-loop fuel/spark outputs. It never blocks and never
// retries — a stale EngineState snapshot just yields slightly stale
// advance/pulse width, the same level-driven discipline huskki's
// drivers.Replayer uses when it falls behind a recorded stream.
package scheduler

import (
	"ecmcore/enginestate"
	"ecmcore/hal"
)

const (
	sequentialPeriodDeg = 720.0
	batchPeriodDeg      = 360.0
)

// Params is the slice of ProjectConfig RealtimeScheduler needs, fixed for
// the life of the process.
type Params struct {
	Cylinders  int
	FiringOrder []int // 1-indexed cylinder numbers, len == Cylinders

	TotalTeeth uint32

	DwellMs    float32
	MaxDwellMs float32
	DeadTimeUs float32
	RevLimit   float32
	Sequential bool

	CoilPins     [enginestate.NumCylinders]int
	InjectorPins [enginestate.NumCylinders]int
}

// Inputs is the per-iteration state RealtimeScheduler reads. RPM,
// ToothPosition and Synced come from CrankDecoder's atomics; AdvanceDeg,
// BasePwUs, Trim and FuelCut come from the latest published EngineState.
type Inputs struct {
	RPM           uint32
	ToothPosition uint32
	Synced        bool

	AdvanceDeg float32
	BasePwUs   float32
	Trim       [enginestate.NumCylinders]float32
	FuelCut    bool

	NowUs int64
}

type cylinderState struct {
	charging     bool
	dwellStartUs int64

	injecting     bool
	injectStartUs int64
}

// Scheduler holds RealtimeScheduler's cross-iteration state: one
// cylinderState per cylinder plus the batch-mode injector arming latch.
type Scheduler struct {
	params    Params
	coils     hal.GpioPort
	injectors hal.GpioPort

	cyl []cylinderState

	batchArmed    bool
	batchFiring   bool
	batchStartUs  int64
}

// New constructs a Scheduler driving coil outputs on coils and injector
// outputs on injectors. The two may be the same hal.GpioPort if the board
// multiplexes both banks of pins off one port.
func New(params Params, coils, injectors hal.GpioPort) *Scheduler {
	return &Scheduler{
		params:    params,
		coils:     coils,
		injectors: injectors,
		cyl:       make([]cylinderState, enginestate.NumCylinders),
	}
}

// Tick runs one RealtimeScheduler pass (§4.7, steps 1-7).
func (s *Scheduler) Tick(in Inputs) {
	if !in.Synced || in.RPM == 0 {
		s.allLow()
		return
	}

	period := float32(batchPeriodDeg)
	if s.params.Sequential {
		period = sequentialPeriodDeg
	}

	toothDeg := 360.0 / float32(s.params.TotalTeeth)
	thetaNow := float32(in.ToothPosition) * toothDeg
	degPerUs := float32(in.RPM) * 360.0 / 60_000_000.0
	delta := 720.0 / float32(s.params.Cylinders)
	dwellDeg := s.params.DwellMs * 1000.0 * degPerUs
	armingWindow := toothDeg * 1.5

	if float32(in.RPM) > s.params.RevLimit {
		s.allCoilsLow()
	} else {
		s.scheduleCoils(in, thetaNow, delta, dwellDeg, period, armingWindow)
	}

	if in.FuelCut {
		s.allInjectorsLow()
	} else if s.params.Sequential {
		s.scheduleSequentialInjectors(in, thetaNow, delta, armingWindow)
	} else {
		s.scheduleBatchInjectors(in)
	}
}

func (s *Scheduler) scheduleCoils(in Inputs, thetaNow, delta, dwellDeg, period, armingWindow float32) {
	for pos, cylNum := range s.params.FiringOrder {
		cylIdx := cylNum - 1
		st := &s.cyl[cylIdx]

		thetaSpark := wrap(float32(pos)*delta-in.AdvanceDeg, period)
		thetaDwell := wrap(thetaSpark-dwellDeg, period)

		if !st.charging && inWindow(thetaNow, thetaDwell, armingWindow, period) {
			_ = s.coils.Write(s.params.CoilPins[cylIdx], hal.High)
			st.charging = true
			st.dwellStartUs = in.NowUs
		}

		if st.charging && inWindow(thetaNow, thetaSpark, armingWindow, period) {
			_ = s.coils.Write(s.params.CoilPins[cylIdx], hal.Low)
			st.charging = false
		}

		if st.charging && in.NowUs-st.dwellStartUs > int64(s.params.MaxDwellMs*1000) {
			_ = s.coils.Write(s.params.CoilPins[cylIdx], hal.Low)
			st.charging = false
		}
	}
}

func (s *Scheduler) scheduleSequentialInjectors(in Inputs, thetaNow, delta, armingWindow float32) {
	for pos, cylNum := range s.params.FiringOrder {
		cylIdx := cylNum - 1
		st := &s.cyl[cylIdx]

		openAngle := wrap(float32(pos)*delta+360.0, sequentialPeriodDeg)
		effectivePwUs := in.BasePwUs*in.Trim[cylIdx] + s.params.DeadTimeUs

		if !st.injecting && inWindow(thetaNow, openAngle, armingWindow, sequentialPeriodDeg) {
			_ = s.injectors.Write(s.params.InjectorPins[cylIdx], hal.High)
			st.injecting = true
			st.injectStartUs = in.NowUs
		}

		if st.injecting && in.NowUs-st.injectStartUs >= int64(effectivePwUs) {
			_ = s.injectors.Write(s.params.InjectorPins[cylIdx], hal.Low)
			st.injecting = false
		}
	}
}

// scheduleBatchInjectors fires every injector together at tooth 0, open for
// half the scheduled pulse width per §4.7 step 5's batch-mode clause.
func (s *Scheduler) scheduleBatchInjectors(in Inputs) {
	if in.ToothPosition == 0 {
		if !s.batchArmed {
			s.batchArmed = true
			s.batchFiring = true
			s.batchStartUs = in.NowUs
			for _, cylNum := range s.params.FiringOrder {
				_ = s.injectors.Write(s.params.InjectorPins[cylNum-1], hal.High)
			}
		}
	} else {
		s.batchArmed = false
	}

	if !s.batchFiring {
		return
	}

	maxEffectivePwUs := float32(0)
	for _, cylNum := range s.params.FiringOrder {
		pw := in.BasePwUs*in.Trim[cylNum-1] + s.params.DeadTimeUs
		if pw > maxEffectivePwUs {
			maxEffectivePwUs = pw
		}
	}

	if in.NowUs-s.batchStartUs >= int64(maxEffectivePwUs/2) {
		for _, cylNum := range s.params.FiringOrder {
			_ = s.injectors.Write(s.params.InjectorPins[cylNum-1], hal.Low)
		}
		s.batchFiring = false
	}
}

func (s *Scheduler) allLow() {
	s.allCoilsLow()
	s.allInjectorsLow()
}

func (s *Scheduler) allCoilsLow() {
	for _, cylNum := range s.params.FiringOrder {
		cylIdx := cylNum - 1
		_ = s.coils.Write(s.params.CoilPins[cylIdx], hal.Low)
		s.cyl[cylIdx].charging = false
	}
}

func (s *Scheduler) allInjectorsLow() {
	for _, cylNum := range s.params.FiringOrder {
		cylIdx := cylNum - 1
		_ = s.injectors.Write(s.params.InjectorPins[cylIdx], hal.Low)
		s.cyl[cylIdx].injecting = false
	}
	s.batchArmed = false
	s.batchFiring = false
}

// wrap folds v into [0, period).
func wrap(v, period float32) float32 {
	r := v
	for r < 0 {
		r += period
	}
	for r >= period {
		r -= period
	}
	return r
}

// inWindow reports whether (now - start) mod period lies in [0, width).
func inWindow(now, start, width, period float32) bool {
	d := wrap(now-start, period)
	return d < width
}
