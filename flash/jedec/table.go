package jedec

import (
	"fmt"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/pkg"
)

// Device describes a known flash part.
type Device struct {
	Name           string
	ManufacturerID byte
	DeviceID       byte
	TotalSize      uint32 // Capacity in bytes
	QuadEnable     uint16 // Status bits enabling quad I/O; zero if unsupported
}

// BusWidth returns the widest data bus the part supports.
func (d Device) BusWidth() uint8 {
	if d.QuadEnable != 0 {
		return 4
	}
	return 1
}

// Geometry returns the flash geometry of the part for the given erase
// page and block sizes.
func (d Device) Geometry(pageSize, blockSize uint32) flash.Geometry {
	return flash.Geometry{
		PageSize:  pageSize,
		BlockSize: blockSize,
		TotalSize: d.TotalSize,
		BusWidth:  d.BusWidth(),
	}
}

// String returns the part name and ID.
func (d Device) String() string {
	return fmt.Sprintf("%s (%02X:%02X)", d.Name, d.ManufacturerID, d.DeviceID)
}

// Table is an ordered list of known parts.
type Table []Device

// Lookup returns the first entry matching the ID pair exactly.
func (t Table) Lookup(mfr, dev byte) (Device, bool) {
	for _, d := range t {
		if d.ManufacturerID == mfr && d.DeviceID == dev {
			return d, true
		}
	}
	return Device{}, false
}

// Quad-enable masks.
const (
	qeSR2Bit1 = 0x0200 // Winbond, GigaDevice, Spansion, Adesto: SR2 bit 1
	qeSR1Bit6 = 0x0040 // Macronix: SR1 bit 6
)

// DefaultTable lists parts found on common development boards.
var DefaultTable = Table{
	{Name: "GD25Q16C", ManufacturerID: 0xC8, DeviceID: 0x14, TotalSize: 2 << 20, QuadEnable: qeSR2Bit1},
	{Name: "GD25Q32C", ManufacturerID: 0xC8, DeviceID: 0x15, TotalSize: 4 << 20, QuadEnable: qeSR2Bit1},
	{Name: "GD25Q64C", ManufacturerID: 0xC8, DeviceID: 0x16, TotalSize: 8 << 20, QuadEnable: qeSR2Bit1},
	{Name: "W25Q16JV", ManufacturerID: 0xEF, DeviceID: 0x14, TotalSize: 2 << 20, QuadEnable: qeSR2Bit1},
	{Name: "W25Q32JV", ManufacturerID: 0xEF, DeviceID: 0x15, TotalSize: 4 << 20, QuadEnable: qeSR2Bit1},
	{Name: "W25Q64JV", ManufacturerID: 0xEF, DeviceID: 0x16, TotalSize: 8 << 20, QuadEnable: qeSR2Bit1},
	{Name: "W25Q128JV", ManufacturerID: 0xEF, DeviceID: 0x17, TotalSize: 16 << 20, QuadEnable: qeSR2Bit1},
	{Name: "MX25R6435F", ManufacturerID: 0xC2, DeviceID: 0x17, TotalSize: 8 << 20, QuadEnable: qeSR1Bit6},
	{Name: "S25FL116K", ManufacturerID: 0x01, DeviceID: 0x14, TotalSize: 2 << 20, QuadEnable: qeSR2Bit1},
	{Name: "S25FL216K", ManufacturerID: 0x01, DeviceID: 0x15, TotalSize: 4 << 20},
	{Name: "AT25SF041", ManufacturerID: 0x1F, DeviceID: 0x12, TotalSize: 512 << 10, QuadEnable: qeSR2Bit1},
}

// UnknownIDError reports an ID pair missing from the device table.
type UnknownIDError struct {
	ManufacturerID byte
	DeviceID       byte
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown flash ID %02X:%02X: %v", e.ManufacturerID, e.DeviceID, pkg.ErrNotIdentified)
}

func (e *UnknownIDError) Unwrap() error { return pkg.ErrNotIdentified }
