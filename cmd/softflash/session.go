package main

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/ardnew/softflash/flash"
	"github.com/ardnew/softflash/flash/hal/image"
	"github.com/ardnew/softflash/flash/hal/nor"
	"github.com/ardnew/softflash/flash/jedec"
	"github.com/ardnew/softflash/pkg"
)

var errNoBackend = errors.New("no backend: use --image, --emulate or --ftdi")

// session opens the selected backend on first use and keeps it open for
// the rest of the command (or shell).
type session struct {
	g   *Globals
	in  io.Reader
	out io.Writer

	disk    *flash.Disk
	cmd     jedec.Commander
	backend string
	closers []io.Closer
}

func newSession(g *Globals, in io.Reader, out io.Writer) *session {
	return &session{g: g, in: in, out: out}
}

// Disk returns the open disk, opening the backend if needed.
func (s *session) Disk() (*flash.Disk, error) {
	if s.disk != nil {
		return s.disk, nil
	}

	drv, geo, err := s.driver()
	if err != nil {
		return nil, err
	}

	opts := []flash.Option{
		flash.WithOpTimeout(s.g.Timeout),
		flash.WithSkipUnchanged(!s.g.NoSkip),
		flash.WithReadOnly(s.g.ReadOnly),
		flash.WithLogger(pkg.Logger()),
	}
	if geo.Known() {
		opts = append(opts, flash.WithGeometry(geo))
	}

	d, err := flash.Open(drv, opts...)
	if err != nil {
		if c, ok := drv.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
		return nil, multierr.Append(err, s.closeBackend())
	}
	s.disk = d
	pkg.LogDebug(pkg.ComponentCLI, "backend open", "backend", s.backend)
	return d, nil
}

// driver opens the backend. A zero geometry asks the disk to probe.
func (s *session) driver() (flash.Driver, flash.Geometry, error) {
	switch {
	case s.g.Image != "":
		page, err := parseSize(s.g.PageSize)
		if err != nil {
			return nil, flash.Geometry{}, fmt.Errorf("page size: %w", err)
		}
		chip, err := image.Open(s.g.Image, page, s.g.ReadOnly)
		if err != nil {
			return nil, flash.Geometry{}, err
		}
		s.backend = "image " + s.g.Image
		return chip, chip.Geometry(s.g.BlockSize), nil

	case s.g.Emulate != "":
		size, err := parseSize(s.g.Emulate)
		if err != nil {
			return nil, flash.Geometry{}, fmt.Errorf("emulated size: %w", err)
		}
		page, err := parseSize(s.g.PageSize)
		if err != nil {
			return nil, flash.Geometry{}, fmt.Errorf("page size: %w", err)
		}
		geo := flash.Geometry{PageSize: page, BlockSize: s.g.BlockSize, TotalSize: size, BusWidth: 1}
		if err := geo.Validate(); err != nil {
			return nil, flash.Geometry{}, err
		}
		chip := nor.New(size, page, nor.WithBlockSize(s.g.BlockSize))
		s.cmd = chip
		s.backend = "emulated " + humanize.IBytes(uint64(size))
		return chip, geo, nil

	case s.g.FTDI:
		chip, port, err := openFTDI(s.g)
		if err != nil {
			return nil, flash.Geometry{}, err
		}
		s.closers = append(s.closers, port)
		s.cmd = chip
		s.backend = "ftdi " + s.g.CS
		return chip, flash.Geometry{}, nil
	}
	return nil, flash.Geometry{}, errNoBackend
}

// Close flushes and closes the disk, then releases the backend.
func (s *session) Close() error {
	var err error
	if s.disk != nil {
		err = s.disk.Close()
		s.disk = nil
	}
	return multierr.Append(err, s.closeBackend())
}

func (s *session) closeBackend() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	s.closers = nil
	return err
}

// parseSize parses a byte count such as "4096", "4KiB" or "2MB".
func parseSize(v string) (uint32, error) {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%s: %w", v, pkg.ErrOutOfRange)
	}
	return uint32(n), nil
}
