package halhw

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"ecmcore/hal"
)

// Spi is a hal.SpiBus backed by a periph.io SPI port, opened once at the
// wideband controller's configured mode (125 kHz, mode 1, per §6).
type Spi struct {
	conn spi.Conn
}

// OpenSpi opens the named SPI port (e.g. "SPI0.0") at the wideband
// controller's wire parameters.
func OpenSpi(name string) (*Spi, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("halhw: open spi port %q: %w", name, err)
	}
	conn, err := port.Connect(125*physic.KiloHertz, spi.Mode1, 16)
	if err != nil {
		return nil, fmt.Errorf("halhw: connect spi port %q: %w", name, err)
	}
	return &Spi{conn: conn}, nil
}

// Transfer16 performs one 16-bit full-duplex transfer.
func (s *Spi) Transfer16(ctx context.Context, word uint16) (uint16, error) {
	w := []byte{byte(word >> 8), byte(word)}
	r := make([]byte, 2)
	if err := s.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("halhw: spi transfer: %w", err)
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

var _ hal.SpiBus = (*Spi)(nil)
