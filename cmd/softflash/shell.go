package main

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/google/shlex"
	"github.com/inancgumus/screen"
)

var errExit = errors.New("exit")

// shellCLI is the grammar of one shell line.
type shellCLI struct {
	Info  InfoCmd  `cmd:"" help:"Show device geometry and identity."`
	Read  ReadCmd  `cmd:"" help:"Hex dump blocks."`
	Write WriteCmd `cmd:"" help:"Write a file to blocks."`
	Dump  DumpCmd  `cmd:"" help:"Save the device to a binary or Intel HEX file."`
	Load  LoadCmd  `cmd:"" help:"Program an Intel HEX file."`
	CRC   CRCCmd   `cmd:"" name:"crc" help:"CRC-16/CCITT-FALSE of each page."`
	Sync  SyncCmd  `cmd:"" help:"Flush the cached page."`
	Stats StatsCmd `cmd:"" help:"Show cache counters."`
	Clear ClearCmd `cmd:"" help:"Clear the screen."`
	Exit  ExitCmd  `cmd:"" aliases:"quit" help:"Flush and leave the shell."`
}

// ShellCmd reads commands from stdin until exit or EOF.
type ShellCmd struct {
	Prompt string `default:"softflash> " help:"Prompt string."`
}

// Run opens the device once and runs each line against it.
func (c *ShellCmd) Run(s *session) error {
	if _, err := s.Disk(); err != nil {
		return err
	}

	var line shellCLI
	parser, err := kong.New(&line,
		kong.Name("softflash"),
		kong.Writers(s.out, s.out),
		kong.Exit(func(int) {}))
	if err != nil {
		return err
	}

	in := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, c.Prompt)
		if !in.Scan() {
			fmt.Fprintln(s.out)
			return in.Err()
		}

		args, err := shlex.Split(in.Text())
		if err != nil {
			fmt.Fprintln(s.out, statusLine(err))
			continue
		}
		if len(args) == 0 {
			continue
		}

		ctx, err := parser.Parse(args)
		if err != nil {
			fmt.Fprintln(s.out, statusLine(err))
			continue
		}
		if err := ctx.Run(s); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintln(s.out, statusLine(err))
		}
	}
}

// ClearCmd clears the terminal.
type ClearCmd struct{}

// Run clears the screen and homes the cursor.
func (c *ClearCmd) Run(s *session) error {
	screen.Clear()
	screen.MoveTopLeft()
	return nil
}

// ExitCmd leaves the shell.
type ExitCmd struct{}

// Run ends the shell loop.
func (c *ExitCmd) Run(s *session) error {
	return errExit
}
