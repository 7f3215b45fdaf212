package halhw

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"ecmcore/hal"
)

// Pwm is a hal.PwmChannel implemented as software PWM over a single periph
// pin. periph.io/x/conn/v3 has no generic hardware-PWM capability interface
// portable across boards, so duty cycle is bit-banged on a ticker, the
// same "drive the pin from a goroutine" shape halhw.Gpio's edge watcher
// uses for inputs, just for an output.
type Pwm struct {
	pin gpio.PinIO

	mu       sync.Mutex
	periodUs uint32
	maxCount uint32
	duty     uint32

	stop chan struct{}
}

// NewPwm constructs a Pwm driving the named periph pin.
func NewPwm(name string) (*Pwm, error) {
	p, err := openPin(name)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("halhw: configure pwm pin %q as output: %w", name, err)
	}
	return &Pwm{pin: p}, nil
}

// Configure sets the PWM frequency and duty-cycle resolution, starting (or
// restarting) the bit-bang goroutine.
func (p *Pwm) Configure(freqHz uint32, resolutionBits uint8) error {
	if freqHz == 0 {
		return fmt.Errorf("halhw: pwm frequency must be non-zero")
	}

	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
	}
	p.periodUs = 1_000_000 / freqHz
	p.maxCount = uint32(1) << resolutionBits
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	go p.run(stop)
	return nil
}

// WriteDuty sets the duty-cycle count out of the resolution configured by
// Configure.
func (p *Pwm) WriteDuty(count uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxCount == 0 {
		return fmt.Errorf("halhw: pwm written before Configure")
	}
	if count > p.maxCount {
		count = p.maxCount
	}
	p.duty = count
	return nil
}

func (p *Pwm) run(stop chan struct{}) {
	for {
		p.mu.Lock()
		periodUs := p.periodUs
		onUs := uint32(0)
		if p.maxCount > 0 {
			onUs = periodUs * p.duty / p.maxCount
		}
		p.mu.Unlock()

		if onUs > 0 {
			_ = p.pin.Out(gpio.High)
			select {
			case <-stop:
				return
			case <-time.After(time.Duration(onUs) * time.Microsecond):
			}
		}

		offUs := periodUs - onUs
		_ = p.pin.Out(gpio.Low)
		if offUs > 0 {
			select {
			case <-stop:
				return
			case <-time.After(time.Duration(offUs) * time.Microsecond):
			}
		}
	}
}

var _ hal.PwmChannel = (*Pwm)(nil)
