package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cm"
	"github.com/mklimuk/i2cm/adapter"
	"github.com/mklimuk/i2cm/cmd/i2cm/console"
	"github.com/mklimuk/i2cm/engine"
	"github.com/mklimuk/i2cm/hostbus"
	"github.com/mklimuk/i2cm/mmio"
)

// cmdContext derives the command context, carrying the verbose flag so
// transports can dump their wire traffic.
func cmdContext(c *cli.Context) context.Context {
	return console.SetVerbose(c.Context, c.Bool("verbose"))
}

// Duration decodes yaml scalars like "3s" or "100us" through
// time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Profile is the board description loaded from the yaml file passed
// with --profile. It selects the transport and carries its parameters.
type Profile struct {
	Transport string        `yaml:"transport"`
	Engine    EngineProfile `yaml:"engine"`
	Bridge    BridgeProfile `yaml:"bridge"`
	Host      HostProfile   `yaml:"host"`
}

type EngineProfile struct {
	// UIO is the userspace interrupt device bound to the controller.
	UIO string `yaml:"uio"`
	// Mem and Base locate the register block.
	Mem  string `yaml:"mem"`
	Base int64  `yaml:"base"`
	// Prescale sets the bus clock to f_sys / (5 * (prescale + 1)).
	Prescale     uint16   `yaml:"prescale"`
	AckPolling   bool     `yaml:"ack_polling"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

type BridgeProfile struct {
	// SpeedDivider programs the bridge bus clock; zero keeps the
	// power-on default.
	SpeedDivider int `yaml:"speed_divider"`
}

type HostProfile struct {
	Device string `yaml:"device"`
}

func defaultProfile() *Profile {
	return &Profile{
		Transport: "bridge",
		Engine: EngineProfile{
			UIO:      "/dev/uio0",
			Mem:      "/dev/mem",
			Base:     0x70001000,
			Prescale: 0x63,
		},
	}
}

// loadProfile reads the board profile. A missing file is not an error;
// the defaults describe an MCP2221 bridge on USB.
func loadProfile(path string) (*Profile, error) {
	p := defaultProfile()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("could not parse profile %s: %w", path, err)
	}
	return p, nil
}

// session bundles the opened transport with its teardown. eng and
// bridge are set only for their respective transports.
type session struct {
	bus    i2cm.I2CBus
	eng    *engine.Engine
	bridge *adapter.MCP2221
	cancel context.CancelFunc

	closers []io.Closer
}

func (s *session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
}

func openSession(c *cli.Context) (*session, error) {
	p, err := loadProfile(c.String("profile"))
	if err != nil {
		return nil, err
	}
	switch p.Transport {
	case "engine":
		return openEngine(&p.Engine)
	case "", "bridge", "mcp2221":
		return openBridge(cmdContext(c), &p.Bridge)
	case "host":
		bus, err := hostbus.NewGenericBus(p.Host.Device)
		if err != nil {
			return nil, err
		}
		return &session{bus: bus, closers: []io.Closer{bus}}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
}

func openEngine(p *EngineProfile) (*session, error) {
	regs, err := mmio.Open(p.Mem, p.Base)
	if err != nil {
		return nil, fmt.Errorf("could not map controller registers: %w", err)
	}
	uio, err := mmio.OpenUIO(p.UIO)
	if err != nil {
		_ = regs.Close()
		return nil, fmt.Errorf("could not open interrupt device: %w", err)
	}
	opts := []engine.Option{engine.WithIRQGate(uio)}
	if p.Timeout > 0 {
		opts = append(opts, engine.WithTimeout(time.Duration(p.Timeout)))
	}
	if p.PollInterval > 0 {
		opts = append(opts, engine.WithPollInterval(time.Duration(p.PollInterval)))
	}
	eng := engine.New(regs, opts...)
	eng.Configure(p.Prescale)
	srvCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Serve(srvCtx, uio) }()
	var busOpts []engine.BusOpt
	if p.AckPolling {
		busOpts = append(busOpts, engine.WithAckPolling())
	}
	return &session{
		bus:     engine.NewBus(eng, busOpts...),
		eng:     eng,
		cancel:  cancel,
		closers: []io.Closer{uio, regs},
	}, nil
}

func openBridge(ctx context.Context, p *BridgeProfile) (*session, error) {
	bridge := adapter.NewMCP2221()
	if p.SpeedDivider > 0 {
		if err := bridge.SetSpeedDivider(ctx, byte(p.SpeedDivider)); err != nil {
			_ = bridge.Close()
			return nil, fmt.Errorf("could not set bridge bus speed: %w", err)
		}
	}
	return &session{bus: bridge, bridge: bridge, closers: []io.Closer{bridge}}, nil
}
