package nor

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

// Memory type byte reported in the JEDEC ID.
const memoryType = 0x40

// sectorSize is the erase granule of the sector erase command.
const sectorSize = 4096

// Command implements jedec.Commander.
func (c *Chip) Command(op byte, tx, rx []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if op != jedec.CmdReset {
		c.resetArmed = false
	}

	switch op {
	case jedec.CmdResetEnable:
		c.resetArmed = true

	case jedec.CmdReset:
		if c.resetArmed {
			c.status &^= jedec.StatusWEL
		}
		c.resetArmed = false

	case jedec.CmdReadID:
		fill(rx, c.mfr, c.dev)

	case jedec.CmdReadJEDECID:
		fill(rx, c.mfr, memoryType, byte(bits.Len32(uint32(len(c.mem)))-1))

	case jedec.CmdReadStatus:
		sr := byte(c.status)
		if c.busy() {
			sr |= jedec.StatusBusy
		}
		fill(rx, sr)

	case jedec.CmdReadStatus2:
		fill(rx, byte(c.status>>8))

	case jedec.CmdWriteEnable:
		c.status |= jedec.StatusWEL

	case jedec.CmdWriteDisable:
		c.status &^= jedec.StatusWEL

	case jedec.CmdWriteStatus:
		if c.status&jedec.StatusWEL == 0 {
			return nil
		}
		var v uint16
		if len(tx) > 0 {
			v = uint16(tx[0])
		}
		if len(tx) > 1 {
			v |= uint16(tx[1]) << 8
		}
		c.status = v &^ (jedec.StatusBusy | jedec.StatusWEL)

	case jedec.CmdRead, jedec.CmdFastRead:
		off, err := address(tx)
		if err != nil {
			return err
		}
		if err := c.check(off, len(rx)); err != nil {
			return err
		}
		copy(rx, c.mem[off:])
		c.counters.Reads++
		c.events = append(c.events, Event{Op: OpRead, Addr: off, Len: len(rx)})

	case jedec.CmdPageProgram:
		off, err := address(tx)
		if err != nil {
			return err
		}
		if !c.takeWEL() {
			return nil
		}
		return c.program(off, tx[3:])

	case jedec.CmdSectorErase:
		off, err := address(tx)
		if err != nil {
			return err
		}
		if !c.takeWEL() {
			return nil
		}
		if c.pageSize != sectorSize {
			return fmt.Errorf("sector erase on %d-byte pages: %w", c.pageSize, pkg.ErrNotSupported)
		}
		return c.erase(off &^ (sectorSize - 1))

	default:
		return fmt.Errorf("opcode %#02x: %w", op, pkg.ErrNotSupported)
	}
	return nil
}

// takeWEL consumes the write enable latch. Writes without it are ignored,
// as on real parts.
func (c *Chip) takeWEL() bool {
	if c.status&jedec.StatusWEL == 0 {
		return false
	}
	c.status &^= jedec.StatusWEL
	return true
}

func address(tx []byte) (uint32, error) {
	if len(tx) < 3 {
		return 0, fmt.Errorf("%d address bytes: %w", len(tx), pkg.ErrBufferTooSmall)
	}
	var b [4]byte
	copy(b[1:], tx[:3])
	return binary.BigEndian.Uint32(b[:]), nil
}

func fill(rx []byte, v ...byte) {
	for i := range rx {
		if i < len(v) {
			rx[i] = v[i]
		} else {
			rx[i] = 0
		}
	}
}
