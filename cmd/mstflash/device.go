package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/moffa90/go-synmst/protocol"
	"github.com/moffa90/go-synmst/simhub"
	"github.com/moffa90/go-synmst/transport"
	"github.com/moffa90/go-synmst/transport/dpaux"
	"github.com/moffa90/go-synmst/transport/usbhid"
	"github.com/moffa90/go-synmst/updater"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openSession opens the hub selected by the device flags. preamble is only
// checked for the vmm9 dialect. The returned closer releases the device.
func openSession(ctx context.Context, c *cli.Context, preamble []byte, opts ...updater.Option) (*updater.Session, io.Closer, error) {
	log := logrus.StandardLogger()

	dialect := c.String("dialect")
	simulate := c.Bool("simulate")

	common, err := sessionOptions(c)
	if err != nil {
		return nil, nil, err
	}
	opts = append(common, opts...)

	if dialect == "vmm9" {
		var dev transport.ReportDevice
		var closer io.Closer = nopCloser{}
		if simulate {
			dev = simulatedHub(c, protocol.DialectVMM9)
		} else {
			d, err := openUSB(c, log)
			if err != nil {
				return nil, nil, err
			}
			dev, closer = d, d
		}
		s, err := updater.OpenVMM9(ctx, dev, preamble, opts...)
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		return s, closer, nil
	}

	name := c.String("family")
	if name == "" {
		return nil, nil, fmt.Errorf("--family is required for the %s dialect", dialect)
	}
	family, err := protocol.ParseChipFamily(name)
	if err != nil {
		return nil, nil, err
	}

	switch dialect {
	case "hid":
		var dev transport.ReportDevice
		var closer io.Closer = nopCloser{}
		if simulate {
			dev = simulatedHub(c, protocol.DialectRegister)
		} else {
			d, err := openUSB(c, log)
			if err != nil {
				return nil, nil, err
			}
			dev, closer = d, d
		}
		s, err := updater.OpenHID(ctx, dev, family, opts...)
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		return s, closer, nil

	case "register":
		var dev transport.RegisterDevice
		var closer io.Closer = nopCloser{}
		if simulate {
			dev = simulatedHub(c, protocol.DialectRegister)
		} else {
			path := c.String("aux")
			if path == "" {
				return nil, nil, fmt.Errorf("--aux is required for the register dialect")
			}
			d, err := dpaux.Open(path, log)
			if err != nil {
				return nil, nil, err
			}
			dev, closer = d, d
		}
		s, err := updater.OpenRegister(ctx, dev, family, opts...)
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		return s, closer, nil

	default:
		return nil, nil, fmt.Errorf("unknown dialect %q", dialect)
	}
}

func sessionOptions(c *cli.Context) ([]updater.Option, error) {
	poll := c.Duration("poll-interval")
	if c.Bool("simulate") {
		poll = 0
	}

	opts := []updater.Option{
		updater.WithLogger(logrus.StandardLogger()),
		updater.WithTransportOptions(transport.WithPollInterval(poll)),
	}

	target, err := updater.ParseTarget(c.String("target"))
	if err != nil {
		return nil, err
	}
	opts = append(opts, updater.WithTarget(target))

	if name := c.String("verify"); name != "" {
		m, err := parseVerifyMethod(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, updater.WithVerifyMethod(m))
	}

	return opts, nil
}

func simulatedHub(c *cli.Context, d protocol.Dialect) *simhub.Hub {
	var board uint32
	if v, err := parseUint32(c.String("board-id")); err == nil {
		board = v
	}
	return simhub.New(
		simhub.WithDialect(d),
		simhub.WithIdentity(0x01, board),
		simhub.WithLogger(logrus.StandardLogger()),
	)
}

func openUSB(c *cli.Context, log logrus.FieldLogger) (*usbhid.Device, error) {
	vid, err := parseUint16(c.String("vid"))
	if err != nil {
		return nil, fmt.Errorf("invalid --vid: %w", err)
	}
	pid, err := parseUint16(c.String("pid"))
	if err != nil {
		return nil, fmt.Errorf("invalid --pid: %w", err)
	}
	return usbhid.Open(gousb.ID(vid), gousb.ID(pid), usbhid.WithLogger(log))
}

func parseVerifyMethod(name string) (protocol.VerifyMethod, error) {
	for _, m := range []protocol.VerifyMethod{protocol.VerifyChecksum, protocol.VerifyCRC8, protocol.VerifyCRC16} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown verification method %q", name)
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
