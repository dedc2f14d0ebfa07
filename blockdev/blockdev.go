package blockdev

import (
	"fmt"

	"github.com/ardnew/softflash/pkg"
)

// Op is a block protocol control operation.
type Op uint32

// Block protocol control operations.
const (
	OpInit       Op = 1 // Prepare the device
	OpDeinit     Op = 2 // Commit pending writes and release the device
	OpSync       Op = 3 // Commit pending writes
	OpBlockCount Op = 4 // Number of addressable blocks
	OpBlockSize  Op = 5 // Size of a block in bytes
	OpBlockErase Op = 6 // Erase hint for one block
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpDeinit:
		return "deinit"
	case OpSync:
		return "sync"
	case OpBlockCount:
		return "block-count"
	case OpBlockSize:
		return "block-size"
	case OpBlockErase:
		return "block-erase"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// Device defines the block protocol.
type Device interface {
	// BlockSize returns the size of a block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of addressable blocks.
	// Returns an error if the device geometry is unknown.
	BlockCount() (uint32, error)

	// ReadBlocks reads count blocks starting at lba into dst.
	ReadBlocks(dst []byte, lba, count uint32) error

	// WriteBlocks writes count blocks from src starting at lba.
	WriteBlocks(src []byte, lba, count uint32) error

	// Sync commits any cached writes to the medium.
	Sync() error

	// Ioctl performs a control operation.
	Ioctl(op Op, arg uint32) (uint32, error)
}

// CountBlocks returns the number of whole blocks held by a buffer of n bytes.
// Returns pkg.ErrUnaligned if n is not a multiple of blockSize.
func CountBlocks(n int, blockSize uint32) (uint32, error) {
	if blockSize == 0 || uint64(n)%uint64(blockSize) != 0 {
		return 0, fmt.Errorf("%d bytes with %d-byte blocks: %w", n, blockSize, pkg.ErrUnaligned)
	}
	return uint32(uint64(n) / uint64(blockSize)), nil
}

// CheckRange validates a block request against a buffer and a capacity.
func CheckRange(buf []byte, lba, count, blockSize, blockCount uint32) error {
	if uint64(len(buf)) < uint64(count)*uint64(blockSize) {
		return fmt.Errorf("%d blocks need %d bytes, have %d: %w",
			count, uint64(count)*uint64(blockSize), len(buf), pkg.ErrBufferTooSmall)
	}
	if uint64(lba)+uint64(count) > uint64(blockCount) {
		return fmt.Errorf("blocks [%d, %d) of %d: %w",
			lba, uint64(lba)+uint64(count), blockCount, pkg.ErrOutOfRange)
	}
	return nil
}
