package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cm/cmd/i2cm/console"
	"github.com/mklimuk/i2cm/memory/at24"
)

var eepromVariants = map[string]at24.Config{
	"24c02":  at24.Conf24C02,
	"24c08":  at24.Conf24C08,
	"24c32":  at24.Conf24C32,
	"24c256": at24.Conf24C256,
}

var eepromFlags = []cli.Flag{
	&cli.StringFlag{Name: "addr", Usage: "device address (hex)", Value: fmt.Sprintf("%02x", at24.DefaultAddress)},
	&cli.StringFlag{Name: "variant", Usage: "device variant (24c02, 24c08, 24c32, 24c256)", Value: "24c32"},
	&cli.IntFlag{Name: "offset", Usage: "memory offset", Value: 0},
}

var eepromCmd = cli.Command{
	Name:  "eeprom",
	Usage: "24-series serial EEPROM operations",
	Subcommands: []*cli.Command{
		&eepromReadCmd,
		&eepromWriteCmd,
	},
}

var eepromReadCmd = cli.Command{
	Name:  "read",
	Usage: "read EEPROM memory",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "len", Usage: "number of bytes to read", Value: 16},
	}, eepromFlags...),
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		mem, err := openEEPROM(s, c)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		length := c.Int("len")
		if length <= 0 {
			return console.Exit(1, "length must be positive, got %d", length)
		}
		buf := make([]byte, length)
		err = mem.Read(cmdContext(c), uint32(c.Int("offset")), buf)
		if err != nil {
			return console.Exit(1, "memory read failed: %s", console.Red(err))
		}
		fmt.Print(hex.Dump(buf))
		return nil
	},
}

var eepromWriteCmd = cli.Command{
	Name:  "write",
	Usage: "write EEPROM memory",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "data", Usage: "hex bytes to write", Required: true},
	}, eepromFlags...),
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer s.Close()
		mem, err := openEEPROM(s, c)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		data, err := hexStringToBytes(c.String("data"))
		if err != nil {
			return console.Exit(1, "invalid data hex string: %v", err)
		}
		offset := c.Int("offset")
		err = mem.Write(cmdContext(c), uint32(offset), data)
		if err != nil {
			return console.Exit(1, "memory write failed: %s", console.Red(err))
		}
		console.Infof("wrote %d bytes at offset %#04x", len(data), offset)
		return nil
	},
}

func openEEPROM(s *session, c *cli.Context) (*at24.EEPROM, error) {
	conf, ok := eepromVariants[c.String("variant")]
	if !ok {
		return nil, fmt.Errorf("unknown EEPROM variant %q", c.String("variant"))
	}
	addr, err := parseAddr(c.String("addr"))
	if err != nil {
		return nil, fmt.Errorf("could not decode address: %w", err)
	}
	return at24.New(s.bus, addr, conf)
}
