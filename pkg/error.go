package pkg

import "errors"

// Flash storage errors.
var (
	// ErrNotIdentified indicates the flash part did not match any known device,
	// so its geometry is unknown.
	ErrNotIdentified = errors.New("flash device not identified")

	// ErrTimeout indicates an erase or program did not signal completion in time.
	ErrTimeout = errors.New("flash operation timeout")

	// ErrHardware indicates the driver rejected or failed an operation.
	ErrHardware = errors.New("flash hardware error")

	// ErrUnaligned indicates a length or address not aligned to the block or page size.
	ErrUnaligned = errors.New("unaligned access")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrOutOfRange indicates a block address beyond the device capacity.
	ErrOutOfRange = errors.New("block address out of range")

	// ErrReadOnly indicates a write to a read-only device.
	ErrReadOnly = errors.New("read only")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidGeometry indicates an inconsistent page, block or total size.
	ErrInvalidGeometry = errors.New("invalid flash geometry")

	// ErrClosed indicates the device was closed.
	ErrClosed = errors.New("device closed")
)

// Status is the block protocol result code reported to a filesystem layer.
type Status int

// Status values.
const (
	StatusOK            Status = iota // Operation completed
	StatusError                       // Unclassified failure
	StatusNotIdentified               // Device geometry unknown
	StatusTimeout                     // Hardware did not complete
	StatusOutOfRange                  // Address beyond capacity
	StatusReadOnly                    // Write to read-only media
	StatusInvalid                     // Caller broke the block contract
	StatusUnsupported                 // Operation not implemented
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusNotIdentified:
		return "not identified"
	case StatusTimeout:
		return "timeout"
	case StatusOutOfRange:
		return "out of range"
	case StatusReadOnly:
		return "read only"
	case StatusInvalid:
		return "invalid"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// StatusOf classifies err into a block protocol status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotIdentified):
		return StatusNotIdentified
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrOutOfRange):
		return StatusOutOfRange
	case errors.Is(err, ErrReadOnly):
		return StatusReadOnly
	case errors.Is(err, ErrUnaligned), errors.Is(err, ErrBufferTooSmall):
		return StatusInvalid
	case errors.Is(err, ErrNotSupported):
		return StatusUnsupported
	default:
		return StatusError
	}
}
