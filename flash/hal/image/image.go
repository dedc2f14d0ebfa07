package image

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/pkg"
)

// Chip is a NOR flash stored in a file.
type Chip struct {
	file     *os.File
	size     uint32
	pageSize uint32
	readOnly bool
	mutex    sync.RWMutex
}

// Create writes a new erased image of size bytes at path and opens it.
// An existing file is truncated.
func Create(path string, size, pageSize uint32) (*Chip, error) {
	if pageSize == 0 || size%pageSize != 0 {
		return nil, fmt.Errorf("%d-byte image with %d-byte pages: %w", size, pageSize, pkg.ErrInvalidGeometry)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	erased := make([]byte, pageSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	for off := uint32(0); off < size; off += pageSize {
		if _, err := file.WriteAt(erased, int64(off)); err != nil {
			return nil, multierr.Append(err, file.Close())
		}
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentDriver, "image created", "path", path, "size", size)
	return Open(path, pageSize, false)
}

// Open opens an existing image. Its size must be a whole number of pages.
func Open(path string, pageSize uint32, readOnly bool) (*Chip, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}
	size := stat.Size()
	if pageSize == 0 || size <= 0 || size > 1<<32-1 || size%int64(pageSize) != 0 {
		return nil, multierr.Append(
			fmt.Errorf("%s: %d bytes with %d-byte pages: %w", path, size, pageSize, pkg.ErrInvalidGeometry),
			file.Close())
	}

	if err := lock(file, !readOnly); err != nil {
		return nil, multierr.Append(fmt.Errorf("%s: %w", path, err), file.Close())
	}

	return &Chip{
		file:     file,
		size:     uint32(size),
		pageSize: pageSize,
		readOnly: readOnly,
	}, nil
}

// Size returns the image size in bytes.
func (c *Chip) Size() uint32 {
	return c.size
}

// PageSize returns the erase page size.
func (c *Chip) PageSize() uint32 {
	return c.pageSize
}

// Geometry returns the image geometry for the given block size.
func (c *Chip) Geometry(blockSize uint32) flash.Geometry {
	return flash.Geometry{
		PageSize:  c.pageSize,
		BlockSize: blockSize,
		TotalSize: c.size,
		BusWidth:  1,
	}
}

// ReadAt implements flash.Driver.
func (c *Chip) ReadAt(p []byte, off uint32) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if err := c.check(off, len(p)); err != nil {
		return err
	}
	_, err := c.file.ReadAt(p, int64(off))
	if err == io.EOF {
		err = nil
	}
	return err
}

// Erase implements flash.Driver.
func (c *Chip) Erase(page uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.readOnly {
		return pkg.ErrReadOnly
	}
	if page%c.pageSize != 0 {
		return fmt.Errorf("erase %#x: %w", page, pkg.ErrUnaligned)
	}
	if err := c.check(page, int(c.pageSize)); err != nil {
		return err
	}

	erased := make([]byte, c.pageSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	_, err := c.file.WriteAt(erased, int64(page))
	return err
}

// Program implements flash.Driver. Bits already cleared stay cleared.
func (c *Chip) Program(off uint32, p []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.readOnly {
		return pkg.ErrReadOnly
	}
	if err := c.check(off, len(p)); err != nil {
		return err
	}

	cur := make([]byte, len(p))
	if _, err := c.file.ReadAt(cur, int64(off)); err != nil && err != io.EOF {
		return err
	}
	for i, b := range p {
		cur[i] &= b
	}
	_, err := c.file.WriteAt(cur, int64(off))
	return err
}

// Sync flushes file writes to disk.
func (c *Chip) Sync() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.readOnly {
		return nil
	}
	return c.file.Sync()
}

// Close syncs, unlocks and closes the image.
func (c *Chip) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var err error
	if !c.readOnly {
		err = c.file.Sync()
	}
	return multierr.Combine(err, unlock(c.file), c.file.Close())
}

func (c *Chip) check(off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(c.size) {
		return fmt.Errorf("%d bytes at %#x: %w", n, off, pkg.ErrOutOfRange)
	}
	return nil
}

// Compile-time interface checks
var (
	_ flash.Driver = (*Chip)(nil)
	_ io.Closer    = (*Chip)(nil)
)
