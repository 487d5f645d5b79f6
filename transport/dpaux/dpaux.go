// Package dpaux reaches the remote-control registers of a hub through a
// DisplayPort AUX character device such as /dev/drm_dp_aux0.
//
// The kernel maps DPCD addresses to file offsets, so each register access
// is a positioned read or write.
package dpaux

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// File is the subset of *os.File used by Device.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Device implements transport.RegisterDevice over an AUX file.
type Device struct {
	f   File
	log logrus.FieldLogger
}

// Open opens the AUX device at path for reading and writing.
//
// Example:
//
//	aux, err := dpaux.Open("/dev/drm_dp_aux0", logrus.StandardLogger())
func Open(path string, log logrus.FieldLogger) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open aux device: %w", err)
	}
	d := New(f, log)
	d.log = d.log.WithField("aux", path)
	return d, nil
}

// New wraps an already opened file.
func New(f File, log logrus.FieldLogger) *Device {
	if f == nil {
		panic("file cannot be nil")
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Device{f: f, log: log}
}

func (d *Device) ReadRegister(ctx context.Context, addr uint32, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := d.f.ReadAt(buf, int64(addr))
	if n == len(buf) {
		d.log.Debugf("aux read 0x%05X: % x", addr, buf)
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("aux read 0x%05X (%d of %d bytes): %w", addr, n, len(buf), err)
}

func (d *Device) WriteRegister(ctx context.Context, addr uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := d.f.WriteAt(data, int64(addr))
	if err != nil {
		return fmt.Errorf("aux write 0x%05X: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("aux write 0x%05X: short write (%d of %d bytes)", addr, n, len(data))
	}
	d.log.Debugf("aux write 0x%05X: % x", addr, data)
	return nil
}

func (d *Device) Close() error {
	return d.f.Close()
}
