package flash

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/ardnew/softflash/pkg"
)

// Default sizes.
const (
	DefaultBlockSize = 512  // Filesystem block size
	DefaultPageSize  = 4096 // Erase granule of common NOR parts
)

// Geometry describes the layout of a flash device. It is fixed once the
// device is identified and never changes while the device is in use.
// The zero value describes an unidentified device.
type Geometry struct {
	PageSize  uint32 // Erase granule in bytes
	BlockSize uint32 // Filesystem block size in bytes
	TotalSize uint32 // Capacity in bytes
	BusWidth  uint8  // Data lanes (1, 2 or 4)
}

// Known reports whether the geometry has been determined.
func (g Geometry) Known() bool {
	return g.TotalSize != 0
}

// Validate checks that the sizes are consistent.
func (g Geometry) Validate() error {
	switch {
	case !isPow2(g.PageSize):
		return fmt.Errorf("page size %d not a power of two: %w", g.PageSize, pkg.ErrInvalidGeometry)
	case !isPow2(g.BlockSize) || g.BlockSize > g.PageSize:
		return fmt.Errorf("block size %d with page size %d: %w", g.BlockSize, g.PageSize, pkg.ErrInvalidGeometry)
	case g.TotalSize == 0 || g.TotalSize%g.PageSize != 0:
		return fmt.Errorf("total size %d not a multiple of page size %d: %w", g.TotalSize, g.PageSize, pkg.ErrInvalidGeometry)
	}
	switch g.BusWidth {
	case 1, 2, 4:
		return nil
	default:
		return fmt.Errorf("bus width %d: %w", g.BusWidth, pkg.ErrInvalidGeometry)
	}
}

// BlocksPerPage returns the number of blocks sharing one erase page.
func (g Geometry) BlocksPerPage() uint32 {
	return g.PageSize / g.BlockSize
}

// BlockCount returns the number of addressable blocks.
func (g Geometry) BlockCount() uint32 {
	return g.TotalSize / g.BlockSize
}

// PageCount returns the number of erase pages.
func (g Geometry) PageCount() uint32 {
	return g.TotalSize / g.PageSize
}

// BlockOffset returns the physical byte offset of block lba.
func (g Geometry) BlockOffset(lba uint32) uint32 {
	return lba * g.BlockSize
}

// PageOf returns the page-aligned address containing offset.
func (g Geometry) PageOf(offset uint32) uint32 {
	return alignDown(offset, g.PageSize)
}

// PageOffset returns the position of offset within its page.
func (g Geometry) PageOffset(offset uint32) uint32 {
	return offset & (g.PageSize - 1)
}

// String returns a compact description of the geometry.
func (g Geometry) String() string {
	if !g.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%d bytes, %d-byte pages, %d-byte blocks, x%d",
		g.TotalSize, g.PageSize, g.BlockSize, g.BusWidth)
}

func alignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

func isPow2[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
