package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sigurn/crc16"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/flash/hal/image"
	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

var (
	label = color.New(color.FgCyan).SprintFunc()
	good  = color.New(color.FgGreen).SprintFunc()
)

// CreateCmd creates an erased image.
type CreateCmd struct {
	Size string `arg:"" help:"Image size (e.g. 2MiB)."`
}

// Run creates the image named by --image.
func (c *CreateCmd) Run(s *session) error {
	if s.g.Image == "" {
		return fmt.Errorf("create needs --image")
	}
	size, err := parseSize(c.Size)
	if err != nil {
		return fmt.Errorf("image size: %w", err)
	}
	page, err := parseSize(s.g.PageSize)
	if err != nil {
		return fmt.Errorf("page size: %w", err)
	}

	chip, err := image.Create(s.g.Image, size, page)
	if err != nil {
		return err
	}
	if err := chip.Close(); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s %s (%s, %d pages)\n",
		good("created"), s.g.Image, humanize.IBytes(uint64(size)), size/page)
	return nil
}

// InfoCmd prints the device geometry.
type InfoCmd struct{}

// Run prints the geometry and, where the backend speaks JEDEC, the ID.
func (c *InfoCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	geo, err := d.Geometry()
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%-10s %s\n", label("backend"), s.backend)
	fmt.Fprintf(s.out, "%-10s %s (%d bytes)\n", label("size"), humanize.IBytes(uint64(geo.TotalSize)), geo.TotalSize)
	fmt.Fprintf(s.out, "%-10s %s\n", label("geometry"), geo)
	fmt.Fprintf(s.out, "%-10s %d x %d B\n", label("blocks"), geo.BlockCount(), geo.BlockSize)
	fmt.Fprintf(s.out, "%-10s %d x %s\n", label("pages"), geo.PageCount(), humanize.IBytes(uint64(geo.PageSize)))

	if s.cmd != nil {
		id, err := jedec.ReadJEDECID(s.cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%-10s % X\n", label("jedec id"), id)

		mfr, dev, err := jedec.ReadID(s.cmd)
		if err != nil {
			return err
		}
		if part, ok := jedec.DefaultTable.Lookup(mfr, dev); ok {
			fmt.Fprintf(s.out, "%-10s %s\n", label("part"), part)
		} else {
			fmt.Fprintf(s.out, "%-10s unknown (%02X:%02X)\n", label("part"), mfr, dev)
		}
	}
	return nil
}

// ReadCmd hex dumps blocks.
type ReadCmd struct {
	LBA   uint32 `arg:"" help:"First block."`
	Count uint32 `arg:"" optional:"" default:"1" help:"Number of blocks."`
}

// Run reads the blocks through the cache.
func (c *ReadCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	bs := d.BlockSize()
	buf := make([]byte, c.Count*bs)
	if err := d.ReadBlocks(buf, c.LBA, c.Count); err != nil {
		return err
	}

	for i := uint32(0); i < c.Count; i++ {
		lba := c.LBA + i
		fmt.Fprintf(s.out, "%s %d @ %#x\n", label("block"), lba, lba*bs)
		fmt.Fprint(s.out, hex.Dump(buf[i*bs:(i+1)*bs]))
	}
	return nil
}

// WriteCmd writes a file to consecutive blocks.
type WriteCmd struct {
	LBA  uint32 `arg:"" help:"First block."`
	File string `arg:"" help:"Input file, or - for stdin."`
}

// Run writes the file, padding the last block with 0xFF.
func (c *WriteCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}

	var data []byte
	if c.File == "-" {
		data, err = io.ReadAll(s.in)
	} else {
		data, err = os.ReadFile(c.File)
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	bs := int(d.BlockSize())
	if r := len(data) % bs; r != 0 {
		data = append(data, bytes.Repeat([]byte{0xFF}, bs-r)...)
	}
	count := uint32(len(data) / bs)
	if err := d.WriteBlocks(data, c.LBA, count); err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s %d blocks at %d\n", good("wrote"), count, c.LBA)
	return nil
}

// CRCCmd checksums pages.
type CRCCmd struct {
	LBA   uint32 `arg:"" optional:"" help:"First block."`
	Count uint32 `arg:"" optional:"" help:"Number of blocks (default: to the end)."`
}

// Run prints a CRC per page-sized run of blocks and one over the whole range.
func (c *CRCCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	geo, err := d.Geometry()
	if err != nil {
		return err
	}

	count := c.Count
	if count == 0 {
		count = geo.BlockCount() - min(c.LBA, geo.BlockCount())
	}

	table := crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
	total := crc16.Init(table)
	buf := make([]byte, geo.PageSize)

	bpp := geo.BlocksPerPage()
	for lba, left := c.LBA, count; left > 0; {
		run := min(left, bpp-lba%bpp)
		p := buf[:run*geo.BlockSize]
		if err := d.ReadBlocks(p, lba, run); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%#08x  %04X\n", geo.BlockOffset(lba), crc16.Checksum(p, table))
		total = crc16.Update(total, p, table)
		lba += run
		left -= run
	}

	fmt.Fprintf(s.out, "%s  %04X\n", label("total"), crc16.Complete(total, table))
	return nil
}

// SyncCmd flushes the cache.
type SyncCmd struct{}

// Run flushes the resident page.
func (c *SyncCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	return d.Sync()
}

// StatsCmd prints cache counters.
type StatsCmd struct{}

// Run prints the counters of the open disk.
func (c *StatsCmd) Run(s *session) error {
	d, err := s.Disk()
	if err != nil {
		return err
	}
	printStats(s.out, d.Stats())
	return nil
}

func printStats(w io.Writer, st flash.Stats) {
	fmt.Fprintf(w, "%-10s %d\n", label("loads"), st.Loads)
	fmt.Fprintf(w, "%-10s %d\n", label("flushes"), st.Flushes)
	fmt.Fprintf(w, "%-10s %d\n", label("skipped"), st.Skipped)
	fmt.Fprintf(w, "%-10s %d\n", label("failures"), st.Failures)
	fmt.Fprintf(w, "%-10s %d\n", label("hits"), st.Hits)
	fmt.Fprintf(w, "%-10s %d\n", label("read"), st.BlocksRead)
	fmt.Fprintf(w, "%-10s %d\n", label("written"), st.BlocksWritten)
}

// statusLine formats an error for interactive output.
func statusLine(err error) string {
	return fmt.Sprintf("%s: %v", color.RedString(pkg.StatusOf(err).String()), err)
}
