package jedec

import (
	"time"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/pkg"
)

// DefaultStatusTimeout bounds the wait after a status register write.
const DefaultStatusTimeout = 100 * time.Millisecond

// Probe resets the part, reads its ID and looks it up in t. If the part
// supports quad I/O its quad-enable bits are set.
//
// Returns an *UnknownIDError, which matches pkg.ErrNotIdentified, when no
// entry matches.
func Probe(c Commander, t Table) (Device, error) {
	if err := Reset(c); err != nil {
		return Device{}, err
	}

	mfr, id, err := ReadID(c)
	if err != nil {
		return Device{}, err
	}

	dev, ok := t.Lookup(mfr, id)
	if !ok {
		pkg.LogWarn(pkg.ComponentProbe, "flash not identified",
			"manufacturer", mfr,
			"device", id)
		return Device{}, &UnknownIDError{ManufacturerID: mfr, DeviceID: id}
	}

	if dev.QuadEnable != 0 {
		if err := EnableQuad(c, dev.QuadEnable, DefaultStatusTimeout); err != nil {
			return Device{}, err
		}
	}

	pkg.LogInfo(pkg.ComponentProbe, "flash identified",
		"name", dev.Name,
		"size", dev.TotalSize,
		"busWidth", dev.BusWidth())
	return dev, nil
}

// ProbeGeometry probes the part and returns its geometry.
func ProbeGeometry(c Commander, t Table, pageSize, blockSize uint32) (flash.Geometry, error) {
	dev, err := Probe(c, t)
	if err != nil {
		return flash.Geometry{}, err
	}
	return dev.Geometry(pageSize, blockSize), nil
}
