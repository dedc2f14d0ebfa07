package spinor

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"
)

// Periph adapts a periph.io SPI connection to drivers.SPI. If CS is set it
// is driven low for the duration of each Tx.
type Periph struct {
	Conn spi.Conn
	CS   gpio.PinOut
}

// Tx runs one full-duplex transaction.
func (p *Periph) Tx(w, r []byte) (err error) {
	if p.CS != nil {
		if err = p.CS.Out(gpio.Low); err != nil {
			return err
		}
		defer func() {
			if csErr := p.CS.Out(gpio.High); csErr != nil && err == nil {
				err = csErr
			}
		}()
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	return p.Conn.Tx(w, r)
}

// Transfer exchanges a single byte.
func (p *Periph) Transfer(b byte) (byte, error) {
	buf := []byte{b}
	if err := p.Tx(buf, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

var _ drivers.SPI = (*Periph)(nil)
