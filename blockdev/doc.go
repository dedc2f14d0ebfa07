// Package blockdev defines the fixed-size block protocol consumed by
// FAT-style filesystem layers.
//
// A [Device] exposes storage as contiguous blocks numbered from zero. Reads
// and writes move whole blocks; [Device.Ioctl] carries the control requests
// (init, deinit, sync, geometry queries) using the same operation numbers as
// the MicroPython block protocol, so a filesystem driver written against that
// protocol can address any implementation without translation.
//
// [MemoryDevice] is a RAM-backed implementation used as a reference model in
// tests and as a scratch disk by tools.
package blockdev
