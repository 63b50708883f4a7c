package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cm/cmd/i2cm/console"
	"github.com/mklimuk/i2cm/gpio"
)

var gpioFlags = []cli.Flag{
	&cli.StringFlag{Name: "addr", Usage: "expander address (hex)", Value: fmt.Sprintf("%02x", gpio.DefaultMCP23017Address)},
	&cli.StringFlag{Name: "port", Usage: "expander port (a or b)", Value: "a"},
}

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "MCP23017 port expander operations",
	Subcommands: []*cli.Command{
		&gpioGetCmd,
		&gpioSetCmd,
	},
}

var gpioGetCmd = cli.Command{
	Name:  "get",
	Usage: "configure a port as input and read it",
	Flags: gpioFlags,
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		exp, port, err := openExpander(s, c)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		err = exp.SetInput(cmdContext(c), port, 0xFF)
		if err != nil {
			return console.Exit(1, "could not configure port: %s", console.Red(err))
		}
		value, err := exp.ReadPort(cmdContext(c), port)
		if err != nil {
			return console.Exit(1, "could not read port: %s", console.Red(err))
		}
		fmt.Printf("I/O %s: %#02X\n", port, value)
		return nil
	},
}

var gpioSetCmd = cli.Command{
	Name:  "set",
	Usage: "configure port pins as outputs and drive them",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "mask", Usage: "pin mask (hex)", Value: "ff"},
		&cli.StringFlag{Name: "value", Usage: "pin levels (hex)", Required: true},
	}, gpioFlags...),
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		exp, port, err := openExpander(s, c)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		mask, err := parseHexByte(c.String("mask"))
		if err != nil {
			return console.Exit(1, "could not decode mask: %v", err)
		}
		value, err := parseHexByte(c.String("value"))
		if err != nil {
			return console.Exit(1, "could not decode value: %v", err)
		}
		err = exp.SetOutput(cmdContext(c), port, mask)
		if err != nil {
			return console.Exit(1, "could not configure port: %s", console.Red(err))
		}
		err = exp.WritePort(cmdContext(c), port, mask, value)
		if err != nil {
			return console.Exit(1, "could not write port: %s", console.Red(err))
		}
		console.Infof("wrote %#02X to port %s (mask %#02X)", value, port, mask)
		return nil
	},
}

func openExpander(s *session, c *cli.Context) (*gpio.MCP23017, gpio.Port, error) {
	addr, err := parseAddr(c.String("addr"))
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode address: %w", err)
	}
	var port gpio.Port
	switch c.String("port") {
	case "a", "A":
		port = gpio.PortA
	case "b", "B":
		port = gpio.PortB
	default:
		return nil, 0, fmt.Errorf("unknown port %q", c.String("port"))
	}
	return gpio.NewMCP23017(s.bus, addr), port, nil
}

func parseHexByte(s string) (byte, error) {
	b, err := hexStringToBytes(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("expected a single byte, got %d", len(b))
	}
	return b[0], nil
}
