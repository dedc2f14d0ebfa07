package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
	"go.uber.org/multierr"

	"github.com/ardnew/softflash/flash"
)

// DumpCmd saves the device contents.
type DumpCmd struct {
	Out    string `arg:"" type:"path" help:"Output file."`
	Format string `short:"f" default:"bin" enum:"bin,hex" help:"Output format (${enum})."`
	All    bool   `help:"Include erased pages in Intel HEX output."`
}

// Run writes the whole device to Out.
func (c *DumpCmd) Run(s *session) (err error) {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	geo, err := d.Geometry()
	if err != nil {
		return err
	}

	f, err := os.Create(c.Out)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	switch c.Format {
	case "hex":
		err = dumpHex(f, d, geo, c.All)
	default:
		_, err = io.Copy(f, io.NewSectionReader(d, 0, int64(geo.TotalSize)))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s %s\n", good("saved"), c.Out)
	return nil
}

// dumpHex writes every page that is not fully erased as Intel HEX.
func dumpHex(w io.Writer, d *flash.Disk, geo flash.Geometry, all bool) error {
	mem := gohex.NewMemory()
	erased := bytes.Repeat([]byte{0xFF}, int(geo.PageSize))

	for off := uint32(0); off < geo.TotalSize; off += geo.PageSize {
		page := make([]byte, geo.PageSize)
		if _, err := d.ReadAt(page, int64(off)); err != nil {
			return err
		}
		if !all && bytes.Equal(page, erased) {
			continue
		}
		if err := mem.AddBinary(off, page); err != nil {
			return fmt.Errorf("page %#x: %w", off, err)
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// LoadCmd programs an Intel HEX file.
type LoadCmd struct {
	File string `arg:"" type:"existingfile" help:"Intel HEX file."`
}

// Run writes every data segment of File, preserving the rest of each
// touched block.
func (c *LoadCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}

	var n int
	for _, seg := range mem.GetDataSegments() {
		if err := writeBytes(d, seg.Address, seg.Data); err != nil {
			return fmt.Errorf("segment %#x: %w", seg.Address, err)
		}
		n += len(seg.Data)
	}
	if err := d.Sync(); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s %d bytes in %d segments\n", good("loaded"), n, len(mem.GetDataSegments()))
	return nil
}

// writeBytes writes p at a byte address by rewriting the blocks it covers.
func writeBytes(d *flash.Disk, addr uint32, p []byte) error {
	bs := uint64(d.BlockSize())
	start := uint64(addr) / bs * bs
	end := (uint64(addr) + uint64(len(p)) + bs - 1) / bs * bs

	buf := make([]byte, end-start)
	if _, err := d.ReadAt(buf, int64(start)); err != nil {
		return err
	}
	copy(buf[uint64(addr)-start:], p)
	_, err := d.WriteAt(buf, int64(start))
	return err
}
