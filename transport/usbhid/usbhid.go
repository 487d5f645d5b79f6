// Package usbhid exchanges remote-control reports with a hub over USB HID
// class requests, using libusb through gousb.
package usbhid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
)

// HID class request parameters.
const (
	requestTypeSet = 0x21 // host-to-device, class, interface
	requestTypeGet = 0xA1 // device-to-host, class, interface

	requestSetReport = 0x09
	requestGetReport = 0x01

	// wValue is report type in the high byte, report ID in the low byte
	valueOutputReport = 0x0200 | protocol.ReportID
	valueInputReport  = 0x0100 | protocol.ReportID
)

// ErrNotFound is returned by Open when no device matches.
var ErrNotFound = errors.New("usb device not found")

// controller is the part of *gousb.Device used for report exchange.
type controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Config holds the device configuration.
type Config struct {
	// Interface is the HID interface number addressed by class requests
	Interface uint16

	// SendTimeout bounds a SET_REPORT transfer
	SendTimeout time.Duration

	Logger logrus.FieldLogger
}

func defaultConfig() Config {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Config{
		SendTimeout: 5 * time.Second,
		Logger:      l,
	}
}

// Option is a functional option for configuring a Device.
type Option func(*Config)

// WithInterface selects the HID interface number.
func WithInterface(n uint16) Option {
	return func(c *Config) {
		c.Interface = n
	}
}

// WithSendTimeout sets the SET_REPORT timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SendTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Device is a hub reached through HID SET_REPORT/GET_REPORT control
// transfers. It implements transport.ReportDevice.
type Device struct {
	ctrl    controller
	setWait func(time.Duration)
	closers []func() error
	config  Config
}

// Open opens the first device matching vid:pid and claims the configured
// interface of its active configuration, detaching any kernel driver.
//
// Example:
//
//	dev, err := usbhid.Open(0x06CB, 0x7A13)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
func Open(vid, pid gousb.ID, opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	usbctx := gousb.NewContext()
	dev, err := usbctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		usbctx.Close()
		return nil, fmt.Errorf("open %s:%s: %w", vid, pid, err)
	}
	if dev == nil {
		usbctx.Close()
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, vid, pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		cfg.Logger.WithError(err).Warn("kernel driver auto-detach unavailable")
	}

	done, err := claim(dev.ActiveConfigNum, func(num int) (usbConfig, error) {
		return dev.Config(num)
	}, int(cfg.Interface))
	if err != nil {
		dev.Close()
		usbctx.Close()
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"vid":       vid.String(),
		"pid":       pid.String(),
		"interface": cfg.Interface,
	}).Debug("opened usb hid device")

	return &Device{
		ctrl:    dev,
		setWait: func(d time.Duration) { dev.ControlTimeout = d },
		closers: []func() error{
			func() error { done(); return nil },
			dev.Close,
			usbctx.Close,
		},
		config: cfg,
	}, nil
}

// usbConfig is the part of *gousb.Config used to claim an interface.
type usbConfig interface {
	Interface(num, alt int) (*gousb.Interface, error)
	Close() error
}

// claim claims interface n, alternate setting 0, of the active configuration.
// The returned function releases the interface and then the configuration.
func claim(active func() (int, error), config func(int) (usbConfig, error), n int) (func(), error) {
	num, err := active()
	if err != nil {
		return nil, fmt.Errorf("active config: %w", err)
	}
	c, err := config(num)
	if err != nil {
		return nil, fmt.Errorf("claim config %d: %w", num, err)
	}
	intf, err := c.Interface(n, 0)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("claim interface %d of config %d: %w", n, num, err)
	}
	return func() {
		intf.Close()
		c.Close()
	}, nil
}

// SendReport writes one Set report with SET_REPORT.
func (d *Device) SendReport(ctx context.Context, report []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.setWait(d.config.SendTimeout)
	n, err := d.ctrl.Control(requestTypeSet, requestSetReport, valueOutputReport, d.config.Interface, report)
	if err != nil {
		return fmt.Errorf("set report: %w", err)
	}
	if n != len(report) {
		return fmt.Errorf("set report: short write (%d of %d bytes)", n, len(report))
	}
	return nil
}

// ReceiveReport reads one Get report with GET_REPORT.
func (d *Device) ReceiveReport(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, protocol.ReportSize)
	d.setWait(timeout)
	n, err := d.ctrl.Control(requestTypeGet, requestGetReport, valueInputReport, d.config.Interface, buf)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return buf[:n], nil
}

// Close releases the interface and the libusb context.
func (d *Device) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
