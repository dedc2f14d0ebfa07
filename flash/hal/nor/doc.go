// Package nor emulates a serial NOR flash chip in memory.
//
// A [Chip] behaves like real NOR: erasing sets a whole page to 0xFF and
// programming can only clear bits, so programming an unerased region yields
// the bitwise AND of old and new data. The chip counts every primitive and
// records their order, which makes it the reference driver for cache tests.
//
// The chip can also run asynchronously, where erase and program complete
// after a latency and [Chip.Wait] blocks for the completion signal, or hang
// so that completion never arrives. It answers the serial NOR command set
// (ID, status, reset, read, program, erase) through [Chip.Command], so the
// JEDEC probe and the SPI driver can be exercised without hardware.
package nor
