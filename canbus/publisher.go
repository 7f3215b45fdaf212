// Package canbus implements the socketcan-transport half of §4.9's
// telemetry publication boundary: go.einride.tech/can frames carrying
// EngineState and fault-bit DTC data, grounded on huskki's
// drivers/socket_can.go (same library, same frame-send helper), turned
// around from "read a DID off the bus" to "put a frame onto the bus".
package canbus

import (
	"context"
	"fmt"
	"io"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"ecmcore/telemetry"
)

// Frame IDs for the small DBC-shaped frame set this publisher emits. Real
// deployments would load these from a DBC file; a fixed small set is
// sufficient for the core's own diagnostic bus traffic.
const (
	frameIDEngineCore   uint32 = 0x500
	frameIDEngineAFR    uint32 = 0x501
	frameIDFaultBits    uint32 = 0x502
)

// Publisher is a telemetry.Publisher backed by a socketcan connection.
type Publisher struct {
	conn io.ReadWriteCloser
	tx   *socketcan.Transmitter
}

// Dial opens a socketcan connection on the given interface (e.g. "can0").
func Dial(ctx context.Context, iface string) (*Publisher, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: dial %s: %w", iface, err)
	}
	return &Publisher{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

// Close releases the underlying socketcan connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Publish emits the sample as a small set of fixed-ID CAN frames: core
// engine state, AFR/lambda, and the fault bitmask, the same "one DID maps
// to one frame" shape huskki reads off the bus turned around to write.
func (p *Publisher) Publish(ctx context.Context, sample telemetry.Sample) error {
	frames := []can.Frame{
		engineCoreFrame(sample),
		engineAFRFrame(sample),
		faultBitsFrame(sample),
	}
	for _, f := range frames {
		if err := p.tx.TransmitFrame(ctx, f); err != nil {
			return fmt.Errorf("canbus: transmit 0x%X: %w", f.ID, err)
		}
	}
	return nil
}

func engineCoreFrame(s telemetry.Sample) can.Frame {
	var f can.Frame
	f.ID = frameIDEngineCore
	f.Length = 8
	f.Data[0] = byte(s.RPM)
	f.Data[1] = byte(s.RPM >> 8)
	f.Data[2] = byte(uint16(s.MapKpa * 10))
	f.Data[3] = byte(uint16(s.MapKpa*10) >> 8)
	f.Data[4] = byte(uint16(s.TpsPct * 10))
	f.Data[5] = byte(uint16(s.CltF + 128))
	f.Data[6] = byte(uint16(s.InjPwUs) >> 8)
	f.Data[7] = byte(uint16(s.InjPwUs))
	return f
}

func engineAFRFrame(s telemetry.Sample) can.Frame {
	var f can.Frame
	f.ID = frameIDEngineAFR
	f.Length = 8
	f.Data[0] = byte(uint16(s.AFR[0] * 10))
	f.Data[1] = byte(uint16(s.AFR[0]*10) >> 8)
	f.Data[2] = byte(uint16(s.AFR[1] * 10))
	f.Data[3] = byte(uint16(s.AFR[1]*10) >> 8)
	f.Data[4] = byte(uint16(s.TargetAFR * 10))
	f.Data[5] = byte(uint16(s.TargetAFR*10) >> 8)
	if s.O2Ready[0] {
		f.Data[6] |= 1 << 0
	}
	if s.O2Ready[1] {
		f.Data[6] |= 1 << 1
	}
	return f
}

func faultBitsFrame(s telemetry.Sample) can.Frame {
	var f can.Frame
	f.ID = frameIDFaultBits
	f.Length = 8
	f.Data[0] = byte(s.FaultBits)
	f.Data[1] = byte(s.FaultBits >> 8)
	f.Data[2] = byte(s.FaultBits >> 16)
	f.Data[3] = byte(s.FaultBits >> 24)
	if s.LimpMode {
		f.Data[4] |= 1
	}
	return f
}
