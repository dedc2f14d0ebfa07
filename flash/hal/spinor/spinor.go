package spinor

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

const (
	// SectorSize is the erase granule and the flash page size.
	SectorSize = 4096

	// ProgramPageSize is the largest span a single page program accepts.
	ProgramPageSize = 256

	// maxAddress is the end of the 24-bit address space.
	maxAddress = 1 << 24

	// maxTransfer bounds a single read transaction.
	maxTransfer = 65536 - 4

	// programTimeout bounds the busy wait between page programs.
	programTimeout = 50 * time.Millisecond
)

// DefaultPollInterval is the status polling period while busy.
const DefaultPollInterval = 100 * time.Microsecond

// Chip is a serial NOR part on an SPI bus.
type Chip struct {
	bus       drivers.SPI
	sel       func(bool) error
	table     jedec.Table
	blockSize uint32
	interval  time.Duration
	frame     []byte
	mutex     sync.Mutex
}

// Option configures a Chip.
type Option func(*Chip)

// WithSelect sets a chip-select function called with true before and
// false after each transaction. Leave unset if the bus drives CS itself.
func WithSelect(sel func(selected bool) error) Option {
	return func(c *Chip) { c.sel = sel }
}

// WithTable sets the table used by Probe.
func WithTable(t jedec.Table) Option {
	return func(c *Chip) { c.table = t }
}

// WithBlockSize sets the block size reported by Probe.
func WithBlockSize(n uint32) Option {
	return func(c *Chip) { c.blockSize = n }
}

// WithPollInterval sets the status polling period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Chip) { c.interval = d }
}

// New creates a driver for the part on bus.
func New(bus drivers.SPI, opts ...Option) *Chip {
	c := &Chip{
		bus:       bus,
		table:     jedec.DefaultTable,
		blockSize: flash.DefaultBlockSize,
		interval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Command implements jedec.Commander. The opcode and tx are clocked out,
// then len(rx) bytes are clocked in, all under one chip select.
func (c *Chip) Command(op byte, tx, rx []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.command(op, tx, rx)
}

func (c *Chip) command(op byte, tx, rx []byte) (err error) {
	n := 1 + len(tx) + len(rx)
	if cap(c.frame) < n {
		c.frame = make([]byte, n)
	}
	buf := c.frame[:n]
	buf[0] = op
	copy(buf[1:], tx)
	clear(buf[1+len(tx):])

	if c.sel != nil {
		if err = c.sel(true); err != nil {
			return err
		}
		defer func() {
			if serr := c.sel(false); serr != nil && err == nil {
				err = serr
			}
		}()
	}

	if err = c.bus.Tx(buf, buf); err != nil {
		return fmt.Errorf("spi opcode %#02x: %w", op, err)
	}
	copy(rx, buf[1+len(tx):])
	return nil
}

// ReadAt implements flash.Driver.
func (c *Chip) ReadAt(p []byte, off uint32) error {
	if err := check(off, len(p)); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for len(p) > 0 {
		n := min(len(p), maxTransfer)
		if err := c.command(jedec.CmdRead, address(off), p[:n]); err != nil {
			return err
		}
		p = p[n:]
		off += uint32(n)
	}
	return nil
}

// Erase implements flash.Driver. It starts a sector erase and returns;
// completion is reported by Wait.
func (c *Chip) Erase(page uint32) error {
	if page%SectorSize != 0 {
		return fmt.Errorf("erase %#x: %w", page, pkg.ErrUnaligned)
	}
	if err := check(page, SectorSize); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.command(jedec.CmdWriteEnable, nil, nil); err != nil {
		return err
	}
	return c.command(jedec.CmdSectorErase, address(page), nil)
}

// Program implements flash.Driver. p is split at program page boundaries;
// every chunk but the last is waited for here, the last by Wait.
func (c *Chip) Program(off uint32, p []byte) error {
	if err := check(off, len(p)); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx := make([]byte, 3+ProgramPageSize)
	for len(p) > 0 {
		n := min(len(p), int(ProgramPageSize-off%ProgramPageSize))
		copy(tx, address(off))
		copy(tx[3:], p[:n])

		if err := c.command(jedec.CmdWriteEnable, nil, nil); err != nil {
			return err
		}
		if err := c.command(jedec.CmdPageProgram, tx[:3+n], nil); err != nil {
			return err
		}

		p = p[n:]
		off += uint32(n)
		if len(p) > 0 {
			if err := c.waitReady(programTimeout); err != nil {
				return fmt.Errorf("program %#x: %w", off, err)
			}
		}
	}
	return nil
}

// Wait implements flash.Waiter by polling the busy bit.
func (c *Chip) Wait(timeout time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.waitReady(timeout)
}

func (c *Chip) waitReady(timeout time.Duration) error {
	return jedec.WaitReady(locked{c}, c.interval, timeout)
}

// Probe implements flash.Prober.
func (c *Chip) Probe() (flash.Geometry, error) {
	geo, err := jedec.ProbeGeometry(c, c.table, SectorSize, c.blockSize)
	if err != nil {
		return geo, err
	}
	if geo.TotalSize > maxAddress {
		pkg.LogWarn(pkg.ComponentDriver, "capacity limited by 24-bit addressing",
			"size", geo.TotalSize)
		geo.TotalSize = maxAddress
	}
	return geo, nil
}

// locked issues commands while the chip mutex is already held.
type locked struct{ c *Chip }

func (l locked) Command(op byte, tx, rx []byte) error {
	return l.c.command(op, tx, rx)
}

func address(off uint32) []byte {
	return []byte{byte(off >> 16), byte(off >> 8), byte(off)}
}

func check(off uint32, n int) error {
	if uint64(off)+uint64(n) > maxAddress {
		return fmt.Errorf("%d bytes at %#x: %w", n, off, pkg.ErrOutOfRange)
	}
	return nil
}

// Compile-time interface checks
var (
	_ flash.Driver    = (*Chip)(nil)
	_ flash.Waiter    = (*Chip)(nil)
	_ flash.Prober    = (*Chip)(nil)
	_ jedec.Commander = (*Chip)(nil)
)
