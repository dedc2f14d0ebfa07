package flash

import "time"

// Driver supplies the raw primitives of a flash technology.
//
// All offsets are physical byte offsets from the start of the device.
// ReadAt must return only after the data is in p, even on hardware that
// reads asynchronously.
type Driver interface {
	// ReadAt reads len(p) bytes at off. Reads are non-destructive and may
	// have any alignment.
	ReadAt(p []byte, off uint32) error

	// Erase resets the page at the page-aligned address to all ones.
	Erase(page uint32) error

	// Program clears bits at off so that the region holds p. The region must
	// have been erased for the result to equal p. The cache always programs
	// whole, page-aligned pages.
	Program(off uint32, p []byte) error
}

// Waiter is implemented by drivers whose Erase and Program return before
// the hardware operation completes. Wait blocks until the most recently
// started operation finishes, or returns pkg.ErrTimeout once timeout elapses.
type Waiter interface {
	Wait(timeout time.Duration) error
}

// Prober is implemented by drivers that can identify the attached part and
// report its geometry at run time. Probe returns pkg.ErrNotIdentified when
// the part is unknown.
type Prober interface {
	Probe() (Geometry, error)
}
