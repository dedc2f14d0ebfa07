// Package spinor drives a serial NOR flash part over an SPI bus.
//
// The bus is a tinygo.org/x/drivers SPI, so the same driver runs on a
// microcontroller peripheral or on a host adapter such as an FTDI MPSSE
// port wrapped by Periph. Erase works on 4 KiB sectors; the flash.Disk
// page size must match.
package spinor
