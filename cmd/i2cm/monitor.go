package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cm/cmd/i2cm/console"
)

const monitorHelp = `commands:
  scan                 probe all valid device addresses
  r <addr> <len>       read bytes from a device
  w <addr> <hex>       write bytes to a device
  wr <addr> <hex> <n>  write then read with a repeated START
  status               show controller status
  help                 show this message
  q                    quit`

var monitorCmd = cli.Command{
	Name:  "monitor",
	Usage: "interactive bus shell",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		ctx := cmdContext(c)
		console.Print(monitorHelp)
		for {
			line, err := console.Prompt(console.Bold("i2c> "))
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return console.Exit(1, "terminal error: %v", err)
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "q", "quit", "exit":
				return nil
			case "help":
				console.Print(monitorHelp)
			default:
				if err := dispatch(ctx, s, fields); err != nil {
					console.Error(err.Error())
				}
			}
		}
	},
}

func dispatch(ctx context.Context, s *session, fields []string) error {
	switch fields[0] {
	case "scan":
		return monitorScan(ctx, s)
	case "r":
		return monitorRead(ctx, s, fields[1:])
	case "w":
		return monitorWrite(ctx, s, fields[1:])
	case "wr":
		return monitorWriteRead(ctx, s, fields[1:])
	case "status":
		return monitorStatus(s)
	default:
		return fmt.Errorf("unknown command %q; try help", fields[0])
	}
}

func monitorScan(ctx context.Context, s *session) error {
	found := 0
	for addr := scanFirst; addr <= scanLast; addr++ {
		present, err := probe(ctx, s.bus, addr)
		if err != nil {
			return fmt.Errorf("scan failed at %#02x: %w", addr, err)
		}
		if present {
			found++
			console.Infof("found device at %s", console.Green(fmt.Sprintf("%#02x", addr)))
		}
	}
	if found == 0 {
		console.Warn("no devices found")
	}
	return nil
}

func monitorRead(ctx context.Context, s *session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: r <addr> <len>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("could not decode address: %w", err)
	}
	length, err := strconv.Atoi(args[1])
	if err != nil || length <= 0 {
		return fmt.Errorf("invalid length %q", args[1])
	}
	buf := make([]byte, length)
	if err := s.bus.ReadFromAddr(ctx, addr, buf); err != nil {
		return err
	}
	console.Printf("%s", hex.Dump(buf))
	return nil
}

func monitorWrite(ctx context.Context, s *session, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: w <addr> <hex>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("could not decode address: %w", err)
	}
	data, err := hexStringToBytes(args[1])
	if err != nil {
		return fmt.Errorf("invalid data hex string: %w", err)
	}
	if err := s.bus.WriteToAddr(ctx, addr, data); err != nil {
		return err
	}
	console.Infof("wrote %d bytes to %#02x", len(data), addr)
	return nil
}

func monitorWriteRead(ctx context.Context, s *session, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: wr <addr> <hex> <len>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("could not decode address: %w", err)
	}
	data, err := hexStringToBytes(args[1])
	if err != nil {
		return fmt.Errorf("invalid data hex string: %w", err)
	}
	length, err := strconv.Atoi(args[2])
	if err != nil || length <= 0 {
		return fmt.Errorf("invalid length %q", args[2])
	}
	buf := make([]byte, length)
	if err := s.bus.WriteReadAddr(ctx, addr, data, buf); err != nil {
		return err
	}
	console.Printf("%s", hex.Dump(buf))
	return nil
}

func monitorStatus(s *session) error {
	if s.eng == nil {
		return fmt.Errorf("status is not available on this transport")
	}
	console.Infof("master: %s raw: %#02x held: %t",
		s.eng.MasterStatus(), s.eng.RawStatus(), s.eng.BusHeld())
	return nil
}
