package main

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/ardnew/softflash/flash/hal/spinor"
	"github.com/ardnew/softflash/pkg"
)

// openFTDI connects to the part on the MPSSE SPI port of the first FT232H.
// The returned closer releases the port.
func openFTDI(g *Globals) (*spinor.Chip, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("host init: %w", err)
	}

	ft := findFT232H()
	if ft == nil {
		return nil, nil, fmt.Errorf("no FT232H found: %w", pkg.ErrNotIdentified)
	}

	cs, err := csPin(ft, g.CS)
	if err != nil {
		return nil, nil, err
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, nil, fmt.Errorf("chip select: %w", err)
	}

	port, err := ft.SPI()
	if err != nil {
		return nil, nil, fmt.Errorf("spi port: %w", err)
	}
	// Mode 0 is supported by every part in the device table.
	conn, err := port.Connect(physic.Frequency(g.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("spi connect: %w", err), port.Close())
	}

	pkg.LogInfo(pkg.ComponentCLI, "ftdi connected", "device", ft.String(), "cs", g.CS, "hz", g.SPIHz)
	return spinor.New(&spinor.Periph{Conn: conn, CS: cs}), port, nil
}

func findFT232H() *ftdi.FT232H {
	for _, dev := range ftdi.All() {
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft
		}
	}
	return nil
}

func csPin(ft *ftdi.FT232H, name string) (gpio.PinOut, error) {
	switch name {
	case "D3":
		return ft.D3, nil
	case "D4":
		return ft.D4, nil
	case "D5":
		return ft.D5, nil
	case "D6":
		return ft.D6, nil
	case "D7":
		return ft.D7, nil
	}
	return nil, fmt.Errorf("chip select %q: %w", name, pkg.ErrNotSupported)
}
