package blockdev

import (
	"sync"

	"github.com/ardnew/softflash/pkg"
)

// MemoryDevice implements Device using an in-memory buffer.
type MemoryDevice struct {
	data      []byte
	blockSize uint32
	readOnly  bool
	mutex     sync.RWMutex
}

// NewMemoryDevice creates an in-memory device of count blocks.
func NewMemoryDevice(count, blockSize uint32) *MemoryDevice {
	return &MemoryDevice{
		data:      make([]byte, uint64(count)*uint64(blockSize)),
		blockSize: blockSize,
	}
}

// BlockSize returns the block size.
func (m *MemoryDevice) BlockSize() uint32 {
	return m.blockSize
}

// BlockCount returns the number of blocks.
func (m *MemoryDevice) BlockCount() (uint32, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return uint32(uint64(len(m.data)) / uint64(m.blockSize)), nil
}

// ReadBlocks reads blocks from memory.
func (m *MemoryDevice) ReadBlocks(dst []byte, lba, count uint32) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := CheckRange(dst, lba, count, m.blockSize, m.count()); err != nil {
		return err
	}

	offset := uint64(lba) * uint64(m.blockSize)
	length := uint64(count) * uint64(m.blockSize)
	copy(dst, m.data[offset:offset+length])
	return nil
}

// WriteBlocks writes blocks to memory.
func (m *MemoryDevice) WriteBlocks(src []byte, lba, count uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.readOnly {
		return pkg.ErrReadOnly
	}
	if err := CheckRange(src, lba, count, m.blockSize, m.count()); err != nil {
		return err
	}

	offset := uint64(lba) * uint64(m.blockSize)
	length := uint64(count) * uint64(m.blockSize)
	copy(m.data[offset:offset+length], src)
	return nil
}

// Sync is a no-op for memory devices.
func (m *MemoryDevice) Sync() error {
	return nil
}

// Ioctl implements the block protocol control operations.
func (m *MemoryDevice) Ioctl(op Op, arg uint32) (uint32, error) {
	switch op {
	case OpInit, OpDeinit, OpSync, OpBlockErase:
		return 0, nil
	case OpBlockCount:
		return m.BlockCount()
	case OpBlockSize:
		return m.blockSize, nil
	default:
		return 0, pkg.ErrNotSupported
	}
}

// IsReadOnly returns whether the device is read-only.
func (m *MemoryDevice) IsReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly sets the read-only flag.
func (m *MemoryDevice) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// Bytes returns a copy of the device contents.
func (m *MemoryDevice) Bytes() []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]byte(nil), m.data...)
}

func (m *MemoryDevice) count() uint32 {
	return uint32(uint64(len(m.data)) / uint64(m.blockSize))
}

// Compile-time interface check
var _ Device = (*MemoryDevice)(nil)
