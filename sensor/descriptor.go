// Package sensor implements SensorLayer (§4.4): periodic read -> filter
// -> calibrate -> validate -> fault-map for each configured slot, plus the
// cross-sensor FaultRule evaluation that follows it. The source-kind /
// calibration-kind tagged-variant dispatch follows the re-architecture note
// in §9 ("model as a tagged variant ... dispatch is a single match over the
// tag"), the same shape huskki's ecu.Processor uses to dispatch on a DID
// rather than on an inheritance hierarchy.
package sensor

import "context"

// SourceKind selects where a slot's raw reading comes from.
type SourceKind int

const (
	SourceDisabled SourceKind = iota
	SourceOnChipADC
	SourceExternalADC16
	SourceExternalADC12SPI
	SourceDigital
	SourceVirtual
)

// CalibrationKind selects how a raw voltage becomes an engineering value.
type CalibrationKind int

const (
	CalNone CalibrationKind = iota
	CalLinear
	CalNTC
	CalVoltageDivider
	CalTwoPoint
)

// FaultAction selects how a sensor's fault bit is folded into the
// diagnostic bitmasks.
type FaultAction int

const (
	FaultActionNone FaultAction = iota
	FaultActionLimp
	FaultActionShutdown
	FaultActionCELOnly
)

// Canonical slot names for the channels EngineState publishes directly
// (§3's map_kpa/tps_pct/clt_f/iat_f/vbat_v/oil_psi fields), so callers can
// look a channel up by name instead of walking Slots() by hand.
const (
	NameMAP    = "map"
	NameTPS    = "tps"
	NameCLT    = "clt"
	NameIAT    = "iat"
	NameVBAT   = "vbat"
	NameOilPsi = "oil_psi"
)

// EnginePhase is a bitmask of phases validation may be active in.
type EnginePhase uint8

const (
	PhaseCranking EnginePhase = 1 << iota
	PhaseRunning
	PhaseOff
)

// LinearCal holds the four-point linear calibration constants: voltage a..b
// maps onto engineering value c..d.
type LinearCal struct{ A, B, C, D float32 }

// NTCCal holds thermistor calibration constants.
type NTCCal struct {
	PullupOhms float32
	BetaK      float32
	RefVoltage float32
	R0Ohms     float32 // resistance at T0
	T0Kelvin   float32
}

// DividerCal holds a voltage-divider ratio.
type DividerCal struct{ Ratio float32 }

// TwoPointCal holds a narrowband-O2-style two point linear calibration
// between (0V, AfrAt0) and (5V, AfrAt5).
type TwoPointCal struct{ AfrAt0, AfrAt5 float32 }

// FilterSpec configures the moving-average + EMA filter chain.
type FilterSpec struct {
	MovingAverageWindow int     // 1..32; 1 disables the moving average.
	EMAAlpha            float32 // [0,1]; 1 disables the EMA.
}

// ValidationSpec configures error/warn bounds and the settle guard.
type ValidationSpec struct {
	HasErrorBounds bool
	ErrorMin       float32
	ErrorMax       float32
	HasWarnBounds  bool
	WarnMin        float32
	WarnMax        float32
	SettleGuard    float32
	ActiveStates   EnginePhase
}

// Descriptor is SensorDescriptor (§3): one configured logical sensor slot.
type Descriptor struct {
	Name string
	Unit string

	Source       SourceKind
	DeviceIndex  int
	Channel      int

	Calibration CalibrationKind
	Linear      LinearCal
	NTC         NTCCal
	Divider     DividerCal
	TwoPoint    TwoPointCal

	Filter     FilterSpec
	Validation ValidationSpec

	FaultBit    uint32
	FaultAction FaultAction

	// Runtime (mutated only by Layer.Tick for this slot).
	Value        float32
	RawVoltageMv float32
	FilteredRaw  float32
	InError      bool
	InWarning    bool
	Stale        bool

	maSamples []float32
	maIdx     int
	maFilled  int
	emaInit   bool
}

// VirtualReader supplies a sensor's raw value when Source == SourceVirtual,
// e.g. reading it back out of the EngineState snapshot being built this
// tick.
type VirtualReader func() float32

// DigitalReader supplies a raw high/low reading for SourceDigital slots.
type DigitalReader func() (bool, error)

// AdcDevice is the subset of hal.AdcReader a slot needs, keyed by the
// slot's own DeviceIndex/Channel — SensorLayer owns no hal.AdcReader
// directly, Layer threads one in per device index at construction.
type AdcDevice interface {
	StartConversion(channel int) error
	ConversionReady(channel int) (bool, error)
	ReadMillivolts(ctx context.Context, channel int) (float32, error)
}
