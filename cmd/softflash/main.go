// Command softflash inspects and modifies NOR flash through the same
// block-device page cache firmware uses.
//
// A backend is chosen with one of --image (a raw flash image file),
// --emulate (a RAM-backed part) or --ftdi (a real part on the SPI port of
// an FT232H). Every command flushes the cache before exiting.
//
//	softflash --image flash.bin create 2MiB
//	softflash --image flash.bin write 0 boot.bin
//	softflash --image flash.bin dump --format hex flash.hex
//	softflash --ftdi info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"go.uber.org/multierr"

	"github.com/ardnew/softflash/pkg"
)

// Globals holds the backend and disk flags shared by every command.
type Globals struct {
	Image   string `short:"i" type:"path" xor:"backend" help:"Flash image file."`
	Emulate string `short:"e" xor:"backend" placeholder:"SIZE" help:"Use a RAM-backed part of SIZE bytes (e.g. 2MiB)."`
	FTDI    bool   `name:"ftdi" xor:"backend" help:"Use a part on the SPI port of the first FT232H."`

	CS    string `name:"cs" default:"D3" enum:"D3,D4,D5,D6,D7" help:"FTDI chip-select pin (${enum})."`
	SPIHz uint64 `name:"spi-hz" default:"15000000" help:"FTDI SPI clock in Hz."`

	PageSize  string        `default:"4KiB" help:"Erase page size of image and emulated backends."`
	BlockSize uint32        `default:"512" help:"Block size in bytes."`
	Timeout   time.Duration `default:"3s" help:"Erase and program completion timeout."`
	ReadOnly  bool          `help:"Reject writes."`
	NoSkip    bool          `help:"Erase and program on every flush, even if flash already matches."`

	Verbose bool `short:"v" help:"Log debug messages."`
	JSON    bool `help:"Log in JSON."`
	NoColor bool `help:"Disable colored output."`
}

// CLI is the command grammar.
type CLI struct {
	Globals

	Create CreateCmd `cmd:"" help:"Create an erased flash image."`
	Info   InfoCmd   `cmd:"" help:"Show device geometry and identity."`
	Read   ReadCmd   `cmd:"" help:"Hex dump blocks."`
	Write  WriteCmd  `cmd:"" help:"Write a file to blocks."`
	Dump   DumpCmd   `cmd:"" help:"Save the device to a binary or Intel HEX file."`
	Load   LoadCmd   `cmd:"" help:"Program an Intel HEX file."`
	CRC    CRCCmd    `cmd:"" name:"crc" help:"CRC-16/CCITT-FALSE of each page."`
	Shell  ShellCmd  `cmd:"" help:"Run commands interactively against one open device."`
}

func (g *Globals) setup() {
	lvl := slog.LevelWarn
	if g.Verbose {
		lvl = slog.LevelDebug
	}
	pkg.Configure(os.Stderr, lvl, g.JSON)
	if g.NoColor {
		color.NoColor = true
	}
}

func execute(args []string, in io.Reader, out io.Writer, exit func(int)) (err error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("softflash"),
		kong.Description("Inspect and modify NOR flash through a block device page cache."),
		kong.UsageOnError(),
		kong.Writers(out, out),
		kong.Exit(exit))
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	cli.setup()

	s := newSession(&cli.Globals, in, out)
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	return ctx.Run(s)
}

func main() {
	if err := execute(os.Args[1:], os.Stdin, os.Stdout, os.Exit); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
