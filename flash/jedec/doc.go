// Package jedec identifies serial NOR flash parts and enables their wide
// bus modes.
//
// Parts answer the Read Manufacturer/Device ID command (0x90) with a
// two-byte tuple. [Probe] matches that tuple against an ordered [Table] of
// known devices, first match wins, and returns the part's capacity. When the
// part supports quad I/O, Probe sets its quad-enable status bits. An unknown
// part yields an error matching [pkg.ErrNotIdentified]; callers must not fall
// back to a zero or guessed capacity.
//
// Commands travel over any [Commander], so the same probe runs against SPI
// and QSPI controllers as well as the in-memory emulator.
package jedec
