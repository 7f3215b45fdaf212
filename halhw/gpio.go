// Package halhw is the real-hardware backend for the hal capability
// interfaces (§6), built on periph.io/x/conn/v3 and periph.io/x/host/v3.
// None of the example repos talk to raw silicon, so this package is
// grounded on the periph.io host bring-up idiom referenced in the
// seedhammer-seedhammer manifest pulled into the retrieval pack: call
// host.Init() once, resolve named pins through gpioreg, and drive them
// through the conn/v3 gpio.PinIO interface. It plays the same "concrete
// implementation of a core-owned capability interface" role huskki's
// drivers.SocketCAN plays for ecus.ECUProcessor, just for physical pins
// instead of a vehicle bus.
package halhw

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"ecmcore/hal"
)

// Init brings up the periph.io host drivers once per process. Callers
// construct Gpio/Spi/Pwm only after Init succeeds.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("halhw: host.Init: %w", err)
	}
	return nil
}

// Gpio is a hal.GpioPort backed by named periph.io pins. Pin numbers in the
// hal.GpioPort API are resolved to periph pin names through the map given
// at construction, the same indirection ProjectConfig.PinMap gives the
// scheduler over injector/coil pin numbers.
type Gpio struct {
	names map[int]string

	mu   sync.Mutex
	pins map[int]gpio.PinIO

	stop map[int]chan struct{}
}

// NewGpio constructs a Gpio over a pin-number -> periph pin-name map, e.g.
// {0: "GPIO4", 1: "GPIO17"}.
func NewGpio(names map[int]string) *Gpio {
	return &Gpio{
		names: names,
		pins:  make(map[int]gpio.PinIO),
		stop:  make(map[int]chan struct{}),
	}
}

// openPin resolves a periph pin by name, shared by Gpio and Pwm.
func openPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("halhw: periph pin %q not found", name)
	}
	return p, nil
}

func (g *Gpio) resolve(pin int) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pins[pin]; ok {
		return p, nil
	}
	name, ok := g.names[pin]
	if !ok {
		return nil, fmt.Errorf("halhw: no periph pin name registered for pin %d", pin)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("halhw: periph pin %q not found", name)
	}
	g.pins[pin] = p
	return p, nil
}

// SetMode configures a pin's direction per hal.PinMode.
func (g *Gpio) SetMode(pin int, mode hal.PinMode) error {
	p, err := g.resolve(pin)
	if err != nil {
		return err
	}
	switch mode {
	case hal.ModeOutput:
		return p.Out(gpio.Low)
	case hal.ModeInput:
		return p.In(gpio.Float, gpio.NoEdge)
	case hal.ModeInputPullup:
		return p.In(gpio.PullUp, gpio.NoEdge)
	default:
		return fmt.Errorf("halhw: unknown pin mode %d", mode)
	}
}

// Write drives an output pin high or low.
func (g *Gpio) Write(pin int, level hal.Level) error {
	p, err := g.resolve(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

// Read returns a pin's current digital level.
func (g *Gpio) Read(pin int) (hal.Level, error) {
	p, err := g.resolve(pin)
	if err != nil {
		return hal.Low, err
	}
	return hal.Level(p.Read()), nil
}

// AttachEdgeInterrupt starts a goroutine that blocks on periph's
// WaitForEdge and invokes handler on every matching transition, the same
// "ISR calls a bounded handler" contract CrankDecoder/CamDecoder expect
// from hal.EdgeHandler.
func (g *Gpio) AttachEdgeInterrupt(pin int, edge hal.Edge, handler hal.EdgeHandler) error {
	p, err := g.resolve(pin)
	if err != nil {
		return err
	}

	periphEdge, err := toPeriphEdge(edge)
	if err != nil {
		return err
	}
	if err := p.In(gpio.PullNoChange, periphEdge); err != nil {
		return fmt.Errorf("halhw: configure edge interrupt on pin %d: %w", pin, err)
	}

	g.mu.Lock()
	if ch, ok := g.stop[pin]; ok {
		close(ch)
	}
	stop := make(chan struct{})
	g.stop[pin] = stop
	g.mu.Unlock()

	go g.watchEdges(p, stop, handler)
	return nil
}

func (g *Gpio) watchEdges(p gpio.PinIO, stop chan struct{}, handler hal.EdgeHandler) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if p.WaitForEdge(100 * time.Millisecond) {
			handler(time.Duration(time.Now().UnixNano()))
		}
	}
}

func toPeriphEdge(e hal.Edge) (gpio.Edge, error) {
	switch e {
	case hal.EdgeRising:
		return gpio.RisingEdge, nil
	case hal.EdgeFalling:
		return gpio.FallingEdge, nil
	case hal.EdgeBoth:
		return gpio.BothEdges, nil
	case hal.EdgeNone:
		return gpio.NoEdge, nil
	default:
		return gpio.NoEdge, fmt.Errorf("halhw: unknown edge selector %d", e)
	}
}
