// Package flash exposes NOR and QSPI flash as a fixed-size block device.
//
// Flash is asymmetric: reads are free and byte-addressable, programming can
// only clear bits, and setting bits back to one requires erasing a whole page.
// [Disk] hides this behind the [blockdev.Device] protocol. Block writes are
// staged in a single-page write-back [Cache]; the page is erased and
// reprogrammed only when a write touches a different page or the disk is
// synced, so sequential filesystem writes within a page cost one erase and one
// program.
//
// # Architecture
//
// The package consists of three layers:
//
//  1. Block translation - [Disk] splits block requests at page boundaries
//  2. Page cache - [Cache] holds one resident page and commits it on flush
//  3. Driver - a [Driver] supplies raw read, erase and program primitives
//
// Drivers whose erase and program return before the hardware finishes also
// implement [Waiter]; the cache waits for completion with a bounded timeout
// and reports [pkg.ErrTimeout] instead of hanging. Drivers that can identify
// the attached part implement [Prober] so that geometry is discovered at
// [Disk.Init].
//
// # Durability
//
// Data staged in the cache lives only in memory until the next successful
// flush. There is no journaling and no wear-leveling; callers must [Disk.Sync]
// before unmount or power-down.
//
// # Usage Example
//
//	chip := nor.New(8<<20, 4096)
//	disk, err := flash.Open(chip, flash.WithGeometry(flash.Geometry{
//	    PageSize:  4096,
//	    BlockSize: 512,
//	    TotalSize: 8 << 20,
//	    BusWidth:  1,
//	}))
//	if err != nil {
//	    return err
//	}
//	defer disk.Close()
//
//	disk.WriteBlocks(buf, 3, 1)
//	disk.Sync()
package flash
