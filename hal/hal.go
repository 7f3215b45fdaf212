// Package hal declares the capability interfaces the core consumes from its
// surroundings (§6). The core never knows whether a GpioPort pin lives on
// native silicon or behind an I2C expander, whether an AdcReader is a 16-bit
// differential I2C part or a 12-bit SPI part, or whether a Clock is a real
// monotonic timer or a recorded-log replay. Concrete implementations are
// constructed once at start-up and threaded through component constructors —
// no package-level singletons, no global device handles.
package hal

import (
	"context"
	"time"
)

// Edge selects which transition an interrupt handler fires on.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// PinMode selects a GPIO pin's direction/role.
type PinMode int

const (
	ModeInput PinMode = iota
	ModeOutput
	ModeInputPullup
)

// Level is a digital pin state.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// EdgeHandler is invoked from interrupt context. Implementations must be
// bounded and lock-free: touch only fields owned by the closure's receiver
// plus single-word atomics, same discipline as CrankDecoder's ISR (§4.1).
type EdgeHandler func(timestamp time.Duration)

// GpioPort is the capability a component uses to drive or sense a single
// digital pin. One GpioPort value may represent many physical pins — pin
// numbering is the implementation's concern, not the core's.
type GpioPort interface {
	SetMode(pin int, mode PinMode) error
	Write(pin int, level Level) error
	Read(pin int) (Level, error)
	AttachEdgeInterrupt(pin int, edge Edge, handler EdgeHandler) error
}

// AdcReader is the capability for both the 16-bit differential I2C and the
// 12-bit SPI external ADC variants named in §6. ReadMillivolts may block up
// to the CONV_TIMEOUT_MS budget (15 ms); callers must apply their own
// context deadline and treat ctx.Err() as "stale reading, skip this tick"
// rather than a fault.
type AdcReader interface {
	StartConversion(channel int) error
	ConversionReady(channel int) (bool, error)
	ReadMillivolts(ctx context.Context, channel int) (float32, error)
}

// PwmChannel drives the wideband heater (and, on hardware that lacks a
// discrete heater driver IC, other duty-cycle outputs).
type PwmChannel interface {
	Configure(freqHz uint32, resolutionBits uint8) error
	WriteDuty(count uint32) error
}

// SpiBus is the capability for the wideband controller IC: 16-bit transfers,
// 125 kHz, SPI mode 1, chip-select handled externally via a GpioPort pin so
// one bus can serve multiple banks.
type SpiBus interface {
	Transfer16(ctx context.Context, word uint16) (uint16, error)
}

// Clock is the monotonic microsecond time source every component reads
// instead of calling time.Now directly, so bench replay and tests can supply
// a synthetic clock without touching component logic.
type Clock interface {
	NowMicros() int64
}

// SystemClock is the Clock backed by the real monotonic clock.
type SystemClock struct{ start time.Time }

// NewSystemClock returns a Clock anchored to the moment it is constructed,
// matching the convention of threading one Clock instance through every
// component at start-up rather than reaching for time.Now ad hoc.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}
