package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecmcore/enginestate"
	"ecmcore/hal"
)

func fourCylParams() Params {
	p := Params{
		Cylinders:   4,
		FiringOrder: []int{1, 3, 4, 2},
		TotalTeeth:  60,
		DwellMs:     3,
		MaxDwellMs:  15,
		DeadTimeUs:  1000,
		RevLimit:    6000,
		Sequential:  true,
	}
	for i := 0; i < enginestate.NumCylinders; i++ {
		p.CoilPins[i] = 100 + i
		p.InjectorPins[i] = 200 + i
	}
	return p
}

func TestUnsyncedOrZeroRPMDrivesAllLow(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	s := New(fourCylParams(), coils, injectors)

	coils.Write(100, hal.High)
	injectors.Write(200, hal.High)

	s.Tick(Inputs{Synced: false, RPM: 3000})
	lvl, _ := coils.Read(100)
	require.Equal(t, hal.Low, lvl)
	lvl, _ = injectors.Read(200)
	require.Equal(t, hal.Low, lvl)

	coils.Write(101, hal.High)
	s.Tick(Inputs{Synced: true, RPM: 0})
	lvl, _ = coils.Read(101)
	require.Equal(t, hal.Low, lvl)
}

func TestRevLimitForcesCoilsLowAndSkipsScheduling(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	s := New(p, coils, injectors)

	// cylinder 1 (position 0) dwell-start angle near tooth 0 with no advance.
	toothDeg := float32(6) // 360/60
	degPerUs := float32(6001) * 360.0 / 60_000_000.0
	dwellDeg := p.DwellMs * 1000 * degPerUs
	thetaDwell := wrap(0-dwellDeg, 720)
	tooth := uint32(thetaDwell / toothDeg)

	s.Tick(Inputs{Synced: true, RPM: 6001, ToothPosition: tooth, NowUs: 0})
	lvl, _ := coils.Read(p.CoilPins[0])
	require.Equal(t, hal.Low, lvl, "no coil should go high above rev limit")
}

func TestCoilFiresDwellThenSparkBelowRevLimit(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	s := New(p, coils, injectors)

	toothDeg := float32(6)
	degPerUs := float32(3000) * 360.0 / 60_000_000.0
	dwellDeg := p.DwellMs * 1000 * degPerUs
	thetaDwell := wrap(0-dwellDeg, 720)
	dwellTooth := uint32(thetaDwell / toothDeg)

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: dwellTooth, NowUs: 1000})
	lvl, _ := coils.Read(p.CoilPins[0])
	require.Equal(t, hal.High, lvl, "coil 1 should start charging at its dwell angle")

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: 0, NowUs: 2000})
	lvl, _ = coils.Read(p.CoilPins[0])
	require.Equal(t, hal.Low, lvl, "coil 1 should fire at its spark angle (tooth 0)")
}

func TestMaxDwellSafetyForcesCoilLow(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	s := New(p, coils, injectors)

	toothDeg := float32(6)
	degPerUs := float32(3000) * 360.0 / 60_000_000.0
	dwellDeg := p.DwellMs * 1000 * degPerUs
	thetaDwell := wrap(0-dwellDeg, 720)
	dwellTooth := uint32(thetaDwell / toothDeg)

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: dwellTooth, NowUs: 0})
	lvl, _ := coils.Read(p.CoilPins[0])
	require.Equal(t, hal.High, lvl)

	// stay parked on the same tooth well past max dwell without reaching spark angle.
	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: dwellTooth, NowUs: int64(p.MaxDwellMs*1000) + 1})
	lvl, _ = coils.Read(p.CoilPins[0])
	require.Equal(t, hal.Low, lvl, "stuck coil must force low once max dwell is exceeded")
}

func TestFuelCutDrivesInjectorsLow(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	s := New(p, coils, injectors)
	for i, cylNum := range p.FiringOrder {
		injectors.Write(p.InjectorPins[cylNum-1], hal.High)
		_ = i
	}

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: 0, FuelCut: true, NowUs: 0})
	for _, cylNum := range p.FiringOrder {
		lvl, _ := injectors.Read(p.InjectorPins[cylNum-1])
		require.Equal(t, hal.Low, lvl)
	}
}

func TestSequentialInjectorOpensAndClosesOnSchedule(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	s := New(p, coils, injectors)

	toothDeg := float32(6)
	openAngle := wrap(0+360.0, sequentialPeriodDeg) // position 0 -> cylinder 1
	openTooth := uint32(openAngle / toothDeg)

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: openTooth, BasePwUs: 4000, Trim: [enginestate.NumCylinders]float32{1, 1, 1, 1}, NowUs: 0})
	lvl, _ := injectors.Read(p.InjectorPins[0])
	require.Equal(t, hal.High, lvl)

	effectivePw := int64(4000*1 + p.DeadTimeUs)
	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: openTooth, BasePwUs: 4000, Trim: [enginestate.NumCylinders]float32{1, 1, 1, 1}, NowUs: effectivePw})
	lvl, _ = injectors.Read(p.InjectorPins[0])
	require.Equal(t, hal.Low, lvl)
}

func TestBatchModeFiresAllInjectorsAtToothZero(t *testing.T) {
	coils := hal.NewSimGpio()
	injectors := hal.NewSimGpio()
	p := fourCylParams()
	p.Sequential = false
	s := New(p, coils, injectors)

	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: 0, BasePwUs: 4000, Trim: [enginestate.NumCylinders]float32{1, 1, 1, 1}, NowUs: 0})
	for _, cylNum := range p.FiringOrder {
		lvl, _ := injectors.Read(p.InjectorPins[cylNum-1])
		require.Equal(t, hal.High, lvl)
	}

	halfPw := int64((4000.0 + p.DeadTimeUs) / 2)
	s.Tick(Inputs{Synced: true, RPM: 3000, ToothPosition: 1, BasePwUs: 4000, Trim: [enginestate.NumCylinders]float32{1, 1, 1, 1}, NowUs: halfPw})
	for _, cylNum := range p.FiringOrder {
		lvl, _ := injectors.Read(p.InjectorPins[cylNum-1])
		require.Equal(t, hal.Low, lvl)
	}
}
