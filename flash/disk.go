package flash

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"go.uber.org/multierr"

	"github.com/ardnew/softflash/blockdev"
	"github.com/ardnew/softflash/pkg"
)

// Disk presents a flash Driver as a block device.
//
// Writes are routed through a single-page Cache; reads are served from the
// resident page when it covers them and from the driver otherwise. All
// methods lock the whole disk, so a flush (erase plus program) never
// interleaves with another request.
type Disk struct {
	drv   Driver
	cfg   Config
	geo   Geometry
	cache *Cache

	blocksRead    uint64
	blocksWritten uint64

	closed bool
	mutex  sync.Mutex
	log    *slog.Logger
}

// New creates a disk over drv without touching the hardware.
// Geometry is taken from WithGeometry or discovered by Init.
func New(drv Driver, opts ...Option) *Disk {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Disk{
		drv: drv,
		cfg: cfg,
		geo: cfg.Geometry,
		log: pkg.With(cfg.Logger, pkg.ComponentDisk),
	}
}

// Open creates a disk and initializes it.
// Returns pkg.ErrNotIdentified if the geometry cannot be determined.
func Open(drv Driver, opts ...Option) (*Disk, error) {
	d := New(drv, opts...)
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Init determines the geometry, probing the driver if none was configured,
// and allocates the page cache. Calling Init on a ready disk does nothing.
func (d *Disk) Init() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.init()
}

func (d *Disk) init() error {
	if d.closed {
		return pkg.ErrClosed
	}
	if d.cache != nil {
		return nil
	}

	if !d.geo.Known() {
		p, ok := d.drv.(Prober)
		if !ok {
			return fmt.Errorf("no geometry configured and driver cannot probe: %w", pkg.ErrNotIdentified)
		}
		geo, err := p.Probe()
		if err != nil {
			d.log.Error("probe failed", "error", err)
			return err
		}
		if !geo.Known() {
			return fmt.Errorf("probe returned empty geometry: %w", pkg.ErrNotIdentified)
		}
		d.geo = geo
	}

	if err := d.geo.Validate(); err != nil {
		return err
	}

	d.cache = NewCache(d.drv, d.geo.PageSize, d.cfg)
	d.log.Info("disk ready",
		"size", d.geo.TotalSize,
		"pageSize", d.geo.PageSize,
		"blockSize", d.geo.BlockSize,
		"busWidth", d.geo.BusWidth)
	return nil
}

// Geometry returns the device geometry.
// Returns pkg.ErrNotIdentified if the geometry is unknown.
func (d *Disk) Geometry() (Geometry, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.geo.Known() {
		return Geometry{}, pkg.ErrNotIdentified
	}
	return d.geo, nil
}

// BlockSize returns the block size in bytes. It is fixed regardless of the
// page size and known even before the device is identified.
func (d *Disk) BlockSize() uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.geo.BlockSize == 0 {
		return DefaultBlockSize
	}
	return d.geo.BlockSize
}

// BlockCount returns the number of addressable blocks.
// Returns pkg.ErrNotIdentified rather than zero if the geometry is unknown.
func (d *Disk) BlockCount() (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.geo.Known() {
		return 0, pkg.ErrNotIdentified
	}
	return d.geo.BlockCount(), nil
}

// ReadBlocks reads count blocks starting at lba into dst. Blocks in the
// resident page reflect staged writes that have not been flushed yet.
func (d *Disk) ReadBlocks(dst []byte, lba, count uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if err := blockdev.CheckRange(dst, lba, count, d.geo.BlockSize, d.geo.BlockCount()); err != nil {
		return err
	}

	bpp := d.geo.BlocksPerPage()
	for count > 0 {
		run := min(count, bpp-lba%bpp)
		n := run * d.geo.BlockSize
		off := d.geo.BlockOffset(lba)

		if !d.cache.Lookup(off, dst[:n]) {
			if err := d.drv.ReadAt(dst[:n], off); err != nil {
				return fmt.Errorf("read blocks [%d, %d): %w", lba, lba+run, err)
			}
		}

		dst = dst[n:]
		lba += run
		count -= run
		d.blocksRead += uint64(run)
	}
	return nil
}

// WriteBlocks writes count blocks from src starting at lba. Blocks sharing
// a page are staged with a single cache operation. The data is durable only
// after the page is evicted or the disk is synced.
func (d *Disk) WriteBlocks(src []byte, lba, count uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if d.cfg.ReadOnly {
		return pkg.ErrReadOnly
	}
	if count == 0 {
		return nil
	}
	if err := blockdev.CheckRange(src, lba, count, d.geo.BlockSize, d.geo.BlockCount()); err != nil {
		return err
	}

	bpp := d.geo.BlocksPerPage()
	for count > 0 {
		run := min(count, bpp-lba%bpp)
		n := run * d.geo.BlockSize

		if err := d.cache.StageWrite(d.geo.BlockOffset(lba), src[:n]); err != nil {
			return fmt.Errorf("write blocks [%d, %d): %w", lba, lba+run, err)
		}

		src = src[n:]
		lba += run
		count -= run
		d.blocksWritten += uint64(run)
	}
	return nil
}

// Sync commits the resident page to flash.
func (d *Disk) Sync() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.sync()
}

// Flush is an alias for Sync.
func (d *Disk) Flush() error {
	return d.Sync()
}

func (d *Disk) sync() error {
	if d.closed {
		return pkg.ErrClosed
	}
	if d.cache == nil {
		return nil
	}
	return d.cache.Flush()
}

// Ioctl implements the block protocol control operations.
func (d *Disk) Ioctl(op blockdev.Op, arg uint32) (uint32, error) {
	switch op {
	case blockdev.OpInit:
		return 0, d.Init()
	case blockdev.OpDeinit, blockdev.OpSync:
		return 0, d.Sync()
	case blockdev.OpBlockCount:
		return d.BlockCount()
	case blockdev.OpBlockSize:
		return d.BlockSize(), nil
	case blockdev.OpBlockErase:
		// Erases are scheduled by the cache.
		return 0, nil
	default:
		return 0, fmt.Errorf("ioctl %v: %w", op, pkg.ErrNotSupported)
	}
}

// ReadAt implements io.ReaderAt over whole blocks.
// off and len(p) must be multiples of the block size.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	lba, count, err := d.span(p, off)
	if err != nil {
		return 0, err
	}
	if err := d.ReadBlocks(p, lba, count); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt over whole blocks.
// off and len(p) must be multiples of the block size.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	lba, count, err := d.span(p, off)
	if err != nil {
		return 0, err
	}
	if err := d.WriteBlocks(p, lba, count); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Disk) span(p []byte, off int64) (lba, count uint32, err error) {
	bs := d.BlockSize()
	if off < 0 || off%int64(bs) != 0 {
		return 0, 0, fmt.Errorf("offset %d: %w", off, pkg.ErrUnaligned)
	}
	if off/int64(bs) > math.MaxUint32 {
		return 0, 0, fmt.Errorf("offset %d: %w", off, pkg.ErrOutOfRange)
	}
	count, err = blockdev.CountBlocks(len(p), bs)
	if err != nil {
		return 0, 0, err
	}
	return uint32(off / int64(bs)), count, nil
}

// Stats returns the cache and block counters.
func (d *Disk) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s := Stats{BlocksRead: d.blocksRead, BlocksWritten: d.blocksWritten}
	if d.cache != nil {
		s = s.Add(d.cache.Stats())
	}
	return s
}

// Close flushes the cache and closes the driver if it implements io.Closer.
// A page that cannot be flushed is discarded and the error is returned.
// Further calls return pkg.ErrClosed, except Close which returns nil.
func (d *Disk) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}

	var err error
	if d.cache != nil {
		if ferr := d.cache.Flush(); ferr != nil {
			err = multierr.Append(err, ferr)
			d.cache.Invalidate()
		}
	}
	if c, ok := d.drv.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}

	d.closed = true
	if err != nil {
		d.log.Error("close failed", "error", err)
	}
	return err
}

// ready lazily allocates the cache for disks with a configured geometry.
func (d *Disk) ready() error {
	if d.closed {
		return pkg.ErrClosed
	}
	if d.cache != nil {
		return nil
	}
	if !d.geo.Known() {
		return pkg.ErrNotIdentified
	}
	return d.init()
}

// Compile-time interface checks
var (
	_ blockdev.Device = (*Disk)(nil)
	_ io.ReaderAt     = (*Disk)(nil)
	_ io.WriterAt     = (*Disk)(nil)
	_ io.Closer       = (*Disk)(nil)
)
