package flash

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/ardnew/softflash/pkg"
)

// NoPage is the resident address of an empty cache.
const NoPage uint32 = 0xFFFFFFFF

// Cache is a single-page write-back cache in front of a Driver.
//
// While a page is resident the buffer holds the intended contents of that
// page: what was read from flash plus every write staged since. The cache is
// either empty or dirty; it returns to empty only after a successful Flush.
//
// Cache is not safe for concurrent use; Disk serializes access to it.
type Cache struct {
	drv     Driver
	waiter  Waiter
	size    uint32
	timeout time.Duration
	skip    bool

	addr    uint32
	buf     []byte
	scratch []byte

	stats Stats
	log   *slog.Logger
}

// NewCache creates an empty cache for pages of pageSize bytes.
// The page size must be a power of two.
func NewCache(drv Driver, pageSize uint32, cfg Config) *Cache {
	c := &Cache{
		drv:     drv,
		size:    pageSize,
		timeout: cfg.OpTimeout,
		skip:    cfg.SkipUnchanged,
		addr:    NoPage,
		buf:     make([]byte, pageSize),
		log:     pkg.With(cfg.Logger, pkg.ComponentCache),
	}
	if w, ok := drv.(Waiter); ok {
		c.waiter = w
	}
	if c.skip {
		c.scratch = make([]byte, pageSize)
	}
	return c
}

// PageSize returns the size of the cached page.
func (c *Cache) PageSize() uint32 {
	return c.size
}

// Resident returns the address of the cached page, if any.
func (c *Cache) Resident() (uint32, bool) {
	return c.addr, c.addr != NoPage
}

// Dirty reports whether a page is waiting to be flushed.
func (c *Cache) Dirty() bool {
	return c.addr != NoPage
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// StageWrite copies p into the cached image of the page containing off.
// If a different page is resident it is flushed first and the target page
// is loaded whole, so bytes outside p are preserved. p must not cross a
// page boundary.
//
// The write reaches flash only at the next Flush.
func (c *Cache) StageWrite(off uint32, p []byte) error {
	page := alignDown(off, c.size)
	rel := off - page
	if uint64(rel)+uint64(len(p)) > uint64(c.size) {
		return fmt.Errorf("write %d bytes at %#x crosses page %#x: %w",
			len(p), off, page, pkg.ErrUnaligned)
	}

	if page != c.addr {
		if err := c.Flush(); err != nil {
			return err
		}
		if err := c.drv.ReadAt(c.buf, page); err != nil {
			return fmt.Errorf("load page %#x: %w", page, err)
		}
		c.addr = page
		c.stats.Loads++
		c.log.Debug("page loaded", "page", page)
	}

	copy(c.buf[rel:], p)
	return nil
}

// Lookup copies the cached bytes at off into p if the whole span lies in
// the resident page. It reports whether p was filled.
func (c *Cache) Lookup(off uint32, p []byte) bool {
	if c.addr == NoPage || alignDown(off, c.size) != c.addr {
		return false
	}
	rel := off - c.addr
	if uint64(rel)+uint64(len(p)) > uint64(c.size) {
		return false
	}
	copy(p, c.buf[rel:])
	c.stats.Hits++
	return true
}

// Flush commits the resident page: one erase of the page, then one program
// of the whole buffer. On success the cache becomes empty. On failure the
// page stays resident so the data is not dropped.
//
// With SkipUnchanged, a page whose flash contents already equal the buffer
// is released without erasing.
func (c *Cache) Flush() error {
	if c.addr == NoPage {
		return nil
	}

	if c.skip {
		if err := c.drv.ReadAt(c.scratch, c.addr); err != nil {
			c.log.Warn("unchanged check failed", "page", c.addr, "error", err)
		} else if bytes.Equal(c.scratch, c.buf) {
			c.log.Debug("flush skipped", "page", c.addr)
			c.stats.Skipped++
			c.addr = NoPage
			return nil
		}
	}

	if err := c.complete("erase", c.drv.Erase(c.addr)); err != nil {
		return err
	}
	if err := c.complete("program", c.drv.Program(c.addr, c.buf)); err != nil {
		return err
	}

	c.log.Debug("page committed", "page", c.addr)
	c.stats.Flushes++
	c.addr = NoPage
	return nil
}

// Invalidate drops the resident page without writing it.
func (c *Cache) Invalidate() {
	if c.addr != NoPage {
		c.log.Warn("dirty page discarded", "page", c.addr)
	}
	c.addr = NoPage
}

// complete waits for an erase or program to finish and labels any failure.
func (c *Cache) complete(op string, err error) error {
	if err == nil && c.waiter != nil {
		err = c.waiter.Wait(c.timeout)
	}
	if err != nil {
		c.stats.Failures++
		c.log.Error("flush failed", "op", op, "page", c.addr, "error", err)
		return fmt.Errorf("%s page %#x: %w", op, c.addr, err)
	}
	return nil
}
