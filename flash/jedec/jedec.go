package jedec

import (
	"fmt"
	"time"

	"github.com/ardnew/softflash/pkg"
)

// Serial NOR command opcodes.
const (
	CmdWriteStatus    = 0x01 // Write status registers (SR1, SR2)
	CmdPageProgram    = 0x02 // Program up to one program page
	CmdRead           = 0x03 // Read data
	CmdWriteDisable   = 0x04 // Clear write enable latch
	CmdReadStatus     = 0x05 // Read status register 1
	CmdWriteEnable    = 0x06 // Set write enable latch
	CmdSectorErase    = 0x20 // Erase 4 KiB sector
	CmdReadStatus2    = 0x35 // Read status register 2
	CmdResetEnable    = 0x66 // Arm software reset
	CmdReadID         = 0x90 // Read manufacturer/device ID
	CmdReset          = 0x99 // Software reset
	CmdReadJEDECID    = 0x9F // Read JEDEC ID
	CmdBlockErase64K  = 0xD8 // Erase 64 KiB block
	CmdChipErase      = 0xC7 // Erase entire chip
	CmdFastRead       = 0x0B // Read with dummy byte
	CmdQuadOutputRead = 0x6B // Read with quad data output
)

// Status register bits.
const (
	StatusBusy = 0x01 // Erase or program in progress
	StatusWEL  = 0x02 // Write enable latch
)

// Commander issues one command transaction: the opcode, then tx, then
// len(rx) bytes clocked in.
type Commander interface {
	Command(op byte, tx, rx []byte) error
}

// ReadID returns the manufacturer and device ID bytes.
func ReadID(c Commander) (mfr, dev byte, err error) {
	var rx [2]byte
	if err := c.Command(CmdReadID, []byte{0, 0, 0}, rx[:]); err != nil {
		return 0, 0, fmt.Errorf("read ID: %w", err)
	}
	return rx[0], rx[1], nil
}

// ReadJEDECID returns the manufacturer, memory type and capacity bytes.
func ReadJEDECID(c Commander) ([3]byte, error) {
	var rx [3]byte
	if err := c.Command(CmdReadJEDECID, nil, rx[:]); err != nil {
		return rx, fmt.Errorf("read JEDEC ID: %w", err)
	}
	return rx, nil
}

// ReadStatus returns status register 1 in the low byte and status
// register 2 in the high byte.
func ReadStatus(c Commander) (uint16, error) {
	var sr1, sr2 [1]byte
	if err := c.Command(CmdReadStatus, nil, sr1[:]); err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	if err := c.Command(CmdReadStatus2, nil, sr2[:]); err != nil {
		return 0, fmt.Errorf("read status 2: %w", err)
	}
	return uint16(sr1[0]) | uint16(sr2[0])<<8, nil
}

// Busy reports whether an erase or program is in progress.
func Busy(c Commander) (bool, error) {
	var sr [1]byte
	if err := c.Command(CmdReadStatus, nil, sr[:]); err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}
	return sr[0]&StatusBusy != 0, nil
}

// WaitReady polls the busy bit every interval until it clears.
// Returns pkg.ErrTimeout if it is still set after timeout.
func WaitReady(c Commander, interval, timeout time.Duration) error {
	// Fast path
	busy, err := Busy(c)
	if err != nil || !busy {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("busy after %v: %w", timeout, pkg.ErrTimeout)
		case <-ticker.C:
			busy, err := Busy(c)
			if err != nil {
				return err
			}
			if !busy {
				return nil
			}
		}
	}
}

// Reset issues the software reset sequence.
func Reset(c Commander) error {
	if err := c.Command(CmdResetEnable, nil, nil); err != nil {
		return fmt.Errorf("reset enable: %w", err)
	}
	if err := c.Command(CmdReset, nil, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// WriteEnable sets the write enable latch.
func WriteEnable(c Commander) error {
	if err := c.Command(CmdWriteEnable, nil, nil); err != nil {
		return fmt.Errorf("write enable: %w", err)
	}
	return nil
}

// EnableQuad sets the quad-enable bits in mask (SR1 low byte, SR2 high byte)
// and verifies that they stuck.
func EnableQuad(c Commander, mask uint16, timeout time.Duration) error {
	sr, err := ReadStatus(c)
	if err != nil {
		return err
	}
	if sr&mask == mask {
		return nil
	}

	if err := WriteEnable(c); err != nil {
		return err
	}
	v := (sr | mask) &^ (StatusBusy | StatusWEL)
	if err := c.Command(CmdWriteStatus, []byte{byte(v), byte(v >> 8)}, nil); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := WaitReady(c, time.Millisecond, timeout); err != nil {
		return err
	}

	sr, err = ReadStatus(c)
	if err != nil {
		return err
	}
	if sr&mask != mask {
		return fmt.Errorf("quad enable bits %#04x not set (status %#04x): %w", mask, sr, pkg.ErrHardware)
	}
	return nil
}
