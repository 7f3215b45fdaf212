package sensor

import (
	"context"
	"time"
)

// convTimeout is CONV_TIMEOUT_MS (§5): the budget for an external ADC read
// before the slot is marked stale for this tick.
const convTimeout = 15 * time.Millisecond

// Layer is SensorLayer: a fixed set of Descriptors plus FaultRules, polled
// once per slow-loop tick.
type Layer struct {
	slots []*Descriptor
	rules []*Rule

	adcDevices map[int]AdcDevice
	digital    map[int]DigitalReader
	virtual    map[int]VirtualReader
}

// NewLayer constructs a Layer over the given slots and rules. adcDevices is
// keyed by DeviceIndex (one hal.AdcReader per physical external part);
// digital and virtual are keyed by slot index for the Digital/Virtual
// source kinds.
func NewLayer(slots []*Descriptor, rules []*Rule, adcDevices map[int]AdcDevice, digital map[int]DigitalReader, virtual map[int]VirtualReader) *Layer {
	return &Layer{slots: slots, rules: rules, adcDevices: adcDevices, digital: digital, virtual: virtual}
}

// Slots returns the configured descriptors (read-only use by callers that
// want current values/fault states after Tick).
func (l *Layer) Slots() []*Descriptor { return l.slots }

// Rules returns the configured fault rules.
func (l *Layer) Rules() []*Rule { return l.rules }

// Value returns the current engineering-unit value of the named slot (see
// the Name* constants) and whether a slot with that name is configured.
// Callers that need a specific channel (MAP, TPS, CLT, IAT, VBAT, oil
// pressure) use this instead of walking Slots() themselves.
func (l *Layer) Value(name string) (float32, bool) {
	for _, slot := range l.slots {
		if slot.Name == name {
			return slot.Value, true
		}
	}
	return 0, false
}

// Tick runs one SensorLayer pass (§4.4): read -> filter -> calibrate ->
// validate -> fault-map for every slot, then evaluates the FaultRule list.
// It returns the combined (celBits, limpBits) fault bitmasks for this tick.
func (l *Layer) Tick(ctx context.Context, phase EnginePhase, running bool, rpm, mapKpa float32) (celBits, limpBits uint32) {
	for i, slot := range l.slots {
		l.readSlot(ctx, i, slot)
		filtered := slot.filter(slot.RawVoltageMv / 1000)
		slot.Value = slot.calibrate(filtered)
		slot.validate(phase, slot.RawVoltageMv/1000)

		if slot.InError {
			switch slot.FaultAction {
			case FaultActionLimp, FaultActionShutdown:
				limpBits |= 1 << slot.FaultBit
			case FaultActionCELOnly:
				celBits |= 1 << slot.FaultBit
			}
		}
	}

	nowMs := time.Now().UnixMilli()
	gates := GateInputs{Phase: phase, Running: running, RPM: rpm, MAP: mapKpa}
	for _, rule := range l.rules {
		if rule.Evaluate(gates, nowMs) {
			switch rule.FaultAction {
			case FaultActionLimp, FaultActionShutdown:
				limpBits |= 1 << rule.FaultBit
			case FaultActionCELOnly:
				celBits |= 1 << rule.FaultBit
			}
		}
	}

	return celBits, limpBits
}

func (l *Layer) readSlot(ctx context.Context, idx int, slot *Descriptor) {
	slot.Stale = false
	switch slot.Source {
	case SourceDisabled:
		return

	case SourceOnChipADC, SourceExternalADC16, SourceExternalADC12SPI:
		dev, ok := l.adcDevices[slot.DeviceIndex]
		if !ok {
			slot.Stale = true
			return
		}
		readCtx, cancel := context.WithTimeout(ctx, convTimeout)
		defer cancel()
		if err := dev.StartConversion(slot.Channel); err != nil {
			slot.Stale = true
			return
		}
		mv, err := dev.ReadMillivolts(readCtx, slot.Channel)
		if err != nil {
			slot.Stale = true
			return
		}
		slot.RawVoltageMv = mv

	case SourceDigital:
		read, ok := l.digital[idx]
		if !ok {
			slot.Stale = true
			return
		}
		high, err := read()
		if err != nil {
			slot.Stale = true
			return
		}
		if high {
			slot.RawVoltageMv = 5000
		} else {
			slot.RawVoltageMv = 0
		}

	case SourceVirtual:
		read, ok := l.virtual[idx]
		if !ok {
			slot.Stale = true
			return
		}
		slot.RawVoltageMv = read() * 1000
	}
}
