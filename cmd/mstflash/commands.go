package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/moffa90/go-synmst/image"
	"github.com/moffa90/go-synmst/protocol"
	"github.com/moffa90/go-synmst/updater"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runUpdate(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	img, err := image.Load(c.String("image"))
	if err != nil {
		return err
	}
	if s := c.String("board-id"); s != "" {
		if img.BoardID, err = parseUint32(s); err != nil {
			return fmt.Errorf("invalid --board-id: %w", err)
		}
	}

	opts := []updater.Option{updater.WithEraseSettle(c.Duration("erase-settle"))}
	if c.Bool("simulate") {
		opts = append(opts, updater.WithEraseSettle(0))
	}
	if n := c.Int("erase-banks"); n > 0 {
		opts = append(opts, updater.WithEraseBanks(n))
	}
	if c.Bool("backup") {
		opts = append(opts, updater.WithBackup(0))
	}
	if c.Bool("verify-readback") {
		opts = append(opts, updater.WithVerifyReadBack(true))
	}

	progress := make(chan updater.Progress)
	opts = append(opts, updater.WithProgressCallback(func(p updater.Progress) {
		progress <- p
	}))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(progress)

		s, dev, err := openSession(gctx, c, img.Preamble(), opts...)
		if err != nil {
			return err
		}
		defer func() { _ = dev.Close() }()

		logrus.WithFields(logrus.Fields{
			"session": s.ID(),
			"family":  s.Family().String(),
			"verify":  s.VerifyMethod().String(),
			"size":    img.Size(),
		}).Info("updating firmware")

		err = s.Program(gctx, img)
		if errors.Is(err, updater.ErrUnrecoverable) {
			logrus.Error("the hub could not be restored and needs manual recovery")
		}
		return err
	})

	g.Go(func() error {
		render(c.App.Writer, progress)
		return nil
	})

	return g.Wait()
}

func runDump(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	offset, err := parseUint32(c.String("offset"))
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}

	s, dev, err := openSession(ctx, c, []byte(protocol.Signature))
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	if err := s.EnableRemoteControl(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.DisableRemoteControl(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Warn("failed to release remote control")
		}
	}()

	data, err := s.ReadBack(ctx, offset, c.Int("size"))
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logrus.Infof("wrote %d bytes from 0x%06X to %s", len(data), offset, out)
	return nil
}

func runInfo(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	w := c.App.Writer
	preamble := []byte(protocol.Signature)

	if path := c.String("image"); path != "" {
		img, err := image.Load(path)
		if err != nil {
			return err
		}
		preamble = img.Preamble()

		fmt.Fprintf(w, "Image:         %s\n", path)
		fmt.Fprintf(w, "  Size:        %d bytes\n", img.Size())
		fmt.Fprintf(w, "  VMM9:        %t\n", img.IsVMM9())
		fmt.Fprintf(w, "  Checksum:    0x%08X\n", img.Checksum(protocol.VerifyChecksum))
		fmt.Fprintf(w, "  CRC8:        0x%02X\n", img.Checksum(protocol.VerifyCRC8))
		fmt.Fprintf(w, "  CRC16:       0x%04X\n", img.Checksum(protocol.VerifyCRC16))
	}

	if c.Bool("offline") {
		return nil
	}

	s, dev, err := openSession(ctx, c, preamble)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	fmt.Fprintf(w, "Hub:\n")
	fmt.Fprintf(w, "  Dialect:     %s\n", s.Dialect())
	fmt.Fprintf(w, "  Family:      %s\n", s.Family())
	fmt.Fprintf(w, "  Verify:      %s\n", s.VerifyMethod())

	if s.Dialect() != protocol.DialectVMM9 {
		return nil
	}

	if err := s.EnableRemoteControl(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.DisableRemoteControl(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Warn("failed to release remote control")
		}
	}()

	id, err := s.Identify(ctx)
	if err != nil {
		return err
	}
	temp, err := s.CoreTemperature(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  Customer ID: 0x%08X\n", id.CustomerID)
	fmt.Fprintf(w, "  Board ID:    0x%08X\n", id.BoardID)
	fmt.Fprintf(w, "  Temperature: %d°C\n", temp)
	return nil
}
