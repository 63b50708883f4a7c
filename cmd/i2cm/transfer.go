package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cm"
	"github.com/mklimuk/i2cm/cmd/i2cm/console"
)

// first and last addresses probed by scan; 0x00-0x07 and 0x78-0x7F are
// reserved by the protocol
const (
	scanFirst byte = 0x08
	scanLast  byte = 0x77
)

type prober interface {
	Probe(ctx context.Context, address byte) (bool, error)
}

type engineStatus struct {
	MasterStatus string `yaml:"master_status"`
	RawStatus    string `yaml:"raw_status"`
	BusHeld      bool   `yaml:"bus_held"`
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "show controller status",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		enc := yaml.NewEncoder(os.Stdout)
		switch {
		case s.eng != nil:
			err = enc.Encode(engineStatus{
				MasterStatus: s.eng.MasterStatus().String(),
				RawStatus:    fmt.Sprintf("%#02x", s.eng.RawStatus()),
				BusHeld:      s.eng.BusHeld(),
			})
		case s.bridge != nil:
			var status any
			status, err = s.bridge.Status(cmdContext(c))
			if err != nil {
				return console.Exit(1, "adapter communication error: %s", console.Red(err))
			}
			err = enc.Encode(status)
		default:
			return console.Exit(1, "status is not available on this transport")
		}
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe all valid device addresses",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		var found []byte
		for addr := scanFirst; addr <= scanLast; addr++ {
			present, err := probe(cmdContext(c), s.bus, addr)
			if err != nil {
				return console.Exit(1, "scan failed at %#02x: %s", addr, console.Red(err))
			}
			if present {
				found = append(found, addr)
				console.Infof("found device at %s", console.Green(fmt.Sprintf("%#02x", addr)))
			}
		}
		if len(found) == 0 {
			console.Warn("no devices found")
		}
		return nil
	},
}

func probe(ctx context.Context, bus i2cm.I2CBus, addr byte) (bool, error) {
	if p, ok := bus.(prober); ok {
		return p.Probe(ctx, addr)
	}
	err := bus.WriteToAddr(ctx, addr, nil)
	if errors.Is(err, i2cm.ErrNACKReceived) || errors.Is(err, i2cm.ErrNoSuchDevice) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read bytes from a device",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "device address (hex)", Required: true},
		&cli.IntFlag{Name: "len", Usage: "number of bytes to read", Value: 1},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		addr, err := parseAddr(c.String("addr"))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		length := c.Int("len")
		if length <= 0 {
			return console.Exit(1, "length must be positive, got %d", length)
		}
		buf := make([]byte, length)
		err = s.bus.ReadFromAddr(cmdContext(c), addr, buf)
		if err != nil {
			return console.Exit(1, "read failed: %s", console.Red(err))
		}
		fmt.Print(hex.Dump(buf))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:  "write",
	Usage: "write bytes to a device",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "device address (hex)", Required: true},
		&cli.StringFlag{Name: "data", Usage: "hex bytes to write (e.g. '01FF23')", Required: true},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		addr, err := parseAddr(c.String("addr"))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		data, err := hexStringToBytes(c.String("data"))
		if err != nil {
			return console.Exit(1, "invalid data hex string: %v", err)
		}
		err = s.bus.WriteToAddr(cmdContext(c), addr, data)
		if err != nil {
			return console.Exit(1, "write failed: %s", console.Red(err))
		}
		console.Infof("wrote %d bytes to %#02x", len(data), addr)
		return nil
	},
}

var writeReadCmd = cli.Command{
	Name:  "writeread",
	Usage: "write then read in one transaction joined by a repeated START",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "device address (hex)", Required: true},
		&cli.StringFlag{Name: "data", Usage: "hex bytes to write first", Required: true},
		&cli.IntFlag{Name: "len", Usage: "number of bytes to read back", Value: 1},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		addr, err := parseAddr(c.String("addr"))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		data, err := hexStringToBytes(c.String("data"))
		if err != nil {
			return console.Exit(1, "invalid data hex string: %v", err)
		}
		length := c.Int("len")
		if length <= 0 {
			return console.Exit(1, "length must be positive, got %d", length)
		}
		buf := make([]byte, length)
		err = s.bus.WriteReadAddr(cmdContext(c), addr, data, buf)
		if err != nil {
			return console.Exit(1, "write-read failed: %s", console.Red(err))
		}
		fmt.Print(hex.Dump(buf))
		return nil
	},
}

func parseAddr(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, err
	}
	if v > 0x7F {
		return 0, fmt.Errorf("address %#02x exceeds 7 bits", v)
	}
	return byte(v), nil
}

func hexStringToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ReplaceAll(strings.ToLower(s), " ", ""), "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, err
		}
		b[i] = byte(v)
	}
	return b, nil
}
