package nor

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

// Op identifies a recorded primitive.
type Op uint8

// Recorded primitives.
const (
	OpRead Op = iota
	OpErase
	OpProgram
)

// String returns the primitive name.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpErase:
		return "erase"
	case OpProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Event records one primitive issued to the chip.
type Event struct {
	Op   Op
	Addr uint32
	Len  int
}

// Counters counts primitives issued to the chip.
type Counters struct {
	Reads    uint64
	Erases   uint64
	Programs uint64
}

// Chip is an in-memory NOR flash.
type Chip struct {
	mem       []byte
	pageSize  uint32
	blockSize uint32

	mfr, dev   byte
	status     uint16
	resetArmed bool
	table      jedec.Table

	async   bool
	latency time.Duration
	hang    bool
	done    chan struct{}

	failErase   error
	failProgram error

	counters Counters
	events   []Event
	mutex    sync.Mutex
}

// Option configures a Chip.
type Option func(*Chip)

// WithID sets the manufacturer and device ID the chip reports.
func WithID(mfr, dev byte) Option {
	return func(c *Chip) { c.mfr, c.dev = mfr, dev }
}

// WithTable sets the table used by Probe.
func WithTable(t jedec.Table) Option {
	return func(c *Chip) { c.table = t }
}

// WithBlockSize sets the block size reported by Probe.
func WithBlockSize(n uint32) Option {
	return func(c *Chip) { c.blockSize = n }
}

// WithAsync makes erase and program complete latency after they start.
func WithAsync(latency time.Duration) Option {
	return func(c *Chip) {
		c.async = true
		c.latency = latency
	}
}

// New creates an erased chip of size bytes with the given erase page size.
func New(size, pageSize uint32, opts ...Option) *Chip {
	c := &Chip{
		mem:       make([]byte, size),
		pageSize:  pageSize,
		blockSize: flash.DefaultBlockSize,
		table:     jedec.DefaultTable,
	}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the capacity in bytes.
func (c *Chip) Size() uint32 {
	return uint32(len(c.mem))
}

// PageSize returns the erase page size.
func (c *Chip) PageSize() uint32 {
	return c.pageSize
}

// ReadAt implements flash.Driver.
func (c *Chip) ReadAt(p []byte, off uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.check(off, len(p)); err != nil {
		return err
	}
	copy(p, c.mem[off:])
	c.counters.Reads++
	c.events = append(c.events, Event{Op: OpRead, Addr: off, Len: len(p)})
	return nil
}

// Erase implements flash.Driver.
func (c *Chip) Erase(page uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.erase(page)
}

// Program implements flash.Driver.
func (c *Chip) Program(off uint32, p []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.program(off, p)
}

func (c *Chip) erase(page uint32) error {
	if page%c.pageSize != 0 {
		return fmt.Errorf("erase %#x: %w", page, pkg.ErrUnaligned)
	}
	if err := c.check(page, int(c.pageSize)); err != nil {
		return err
	}
	if err := c.start(); err != nil {
		return fmt.Errorf("erase %#x: %w", page, err)
	}
	c.counters.Erases++
	c.events = append(c.events, Event{Op: OpErase, Addr: page, Len: int(c.pageSize)})
	if c.failErase != nil {
		return c.failErase
	}
	for i := page; i < page+c.pageSize; i++ {
		c.mem[i] = 0xFF
	}
	return nil
}

func (c *Chip) program(off uint32, p []byte) error {
	if err := c.check(off, len(p)); err != nil {
		return err
	}
	if err := c.start(); err != nil {
		return fmt.Errorf("program %#x: %w", off, err)
	}
	c.counters.Programs++
	c.events = append(c.events, Event{Op: OpProgram, Addr: off, Len: len(p)})
	if c.failProgram != nil {
		return c.failProgram
	}
	for i, b := range p {
		c.mem[off+uint32(i)] &= b
	}
	return nil
}

func (c *Chip) check(off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(len(c.mem)) {
		return fmt.Errorf("%d bytes at %#x: %w", n, off, pkg.ErrOutOfRange)
	}
	return nil
}

// start marks an erase or program in flight on an asynchronous chip.
func (c *Chip) start() error {
	if !c.async {
		return nil
	}
	if c.busy() {
		return fmt.Errorf("operation in progress: %w", pkg.ErrHardware)
	}
	done := make(chan struct{})
	c.done = done
	if !c.hang {
		time.AfterFunc(c.latency, func() {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			finish(done)
		})
	}
	return nil
}

func finish(done chan struct{}) {
	select {
	case <-done:
	default:
		close(done)
	}
}

func (c *Chip) busy() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Wait implements flash.Waiter. It blocks until the last erase or program
// signals completion.
func (c *Chip) Wait(timeout time.Duration) error {
	c.mutex.Lock()
	done := c.done
	c.mutex.Unlock()

	if done == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("no completion after %v: %w", timeout, pkg.ErrTimeout)
	}
}

// SetHang makes subsequent erases and programs never signal completion.
func (c *Chip) SetHang(hang bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hang = hang
}

// Complete signals completion of an operation left hanging.
func (c *Chip) Complete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.done != nil {
		finish(c.done)
	}
}

// FailErase makes every erase return err. Pass nil to clear.
func (c *Chip) FailErase(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failErase = err
}

// FailProgram makes every program return err. Pass nil to clear.
func (c *Chip) FailProgram(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failProgram = err
}

// Counters returns the primitive counters.
func (c *Chip) Counters() Counters {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.counters
}

// Events returns the primitives issued so far, in order.
func (c *Chip) Events() []Event {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Event(nil), c.events...)
}

// ResetCounters clears the counters and the event log.
func (c *Chip) ResetCounters() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters = Counters{}
	c.events = nil
}

// Load overwrites memory at off without counting it as a primitive.
func (c *Chip) Load(off uint32, p []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	copy(c.mem[off:], p)
}

// Bytes returns a copy of the chip contents.
func (c *Chip) Bytes() []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]byte(nil), c.mem...)
}

// Probe implements flash.Prober using the JEDEC ID commands.
func (c *Chip) Probe() (flash.Geometry, error) {
	return jedec.ProbeGeometry(c, c.table, c.pageSize, c.blockSize)
}

// Compile-time interface checks
var (
	_ flash.Driver    = (*Chip)(nil)
	_ flash.Waiter    = (*Chip)(nil)
	_ flash.Prober    = (*Chip)(nil)
	_ jedec.Commander = (*Chip)(nil)
)
