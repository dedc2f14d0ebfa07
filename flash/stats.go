package flash

// Stats counts cache and block activity since the disk was created.
type Stats struct {
	Loads         uint64 // Pages read into the cache
	Flushes       uint64 // Pages committed with erase and program
	Skipped       uint64 // Flushes elided because flash already matched
	Failures      uint64 // Flushes aborted by a driver error
	Hits          uint64 // Read runs served from the resident page
	BlocksRead    uint64 // Blocks returned by ReadBlocks
	BlocksWritten uint64 // Blocks accepted by WriteBlocks
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Loads:         s.Loads + o.Loads,
		Flushes:       s.Flushes + o.Flushes,
		Skipped:       s.Skipped + o.Skipped,
		Failures:      s.Failures + o.Failures,
		Hits:          s.Hits + o.Hits,
		BlocksRead:    s.BlocksRead + o.BlocksRead,
		BlocksWritten: s.BlocksWritten + o.BlocksWritten,
	}
}
