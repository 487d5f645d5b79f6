package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
)

// HIDTransport carries requests as Set/Get HID reports.
type HIDTransport struct {
	dev      ReportDevice
	commands protocol.CommandSet
	config   Config
}

// NewHID creates a transport speaking the given command table over dev.
//
// Example:
//
//	t := transport.NewHID(dev, protocol.VMM9Commands,
//	    transport.WithPollInterval(100*time.Millisecond),
//	)
func NewHID(dev ReportDevice, commands protocol.CommandSet, opts ...Option) *HIDTransport {
	if dev == nil {
		panic("device cannot be nil")
	}
	if commands == nil {
		panic("command set cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &HIDTransport{
		dev:      dev,
		commands: commands,
		config:   cfg,
	}
}

func (t *HIDTransport) Dialect() protocol.Dialect { return t.commands.Dialect() }

func (t *HIDTransport) Commands() protocol.CommandSet { return t.commands }

// Execute encodes req into one Set report, transmits it and polls Get
// reports until the device reports completion.
//
// Cancellation of ctx is honored up to the transmission. After that the
// exchange runs to completion or timeout so the device is never left with
// an unread reply.
func (t *HIDTransport) Execute(ctx context.Context, req Request) (*protocol.Payload, error) {
	code, p, err := prepare(t.commands, req)
	if err != nil {
		return nil, err
	}

	layout := protocol.LayoutCompact
	if req.Flags&FlagFullBuffer != 0 {
		layout = protocol.LayoutFull
	}

	var report []byte
	if len(req.Data) > 0 {
		report, err = protocol.Encode(code, p, layout)
	} else {
		report, err = protocol.EncodeQuery(code, p, layout)
	}
	if err != nil {
		return nil, err
	}

	log := t.config.Logger.WithFields(logrus.Fields{
		"command": req.Command.String(),
		"offset":  fmt.Sprintf("0x%08X", req.Offset),
		"length":  p.Length,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debugf("SET % x", report)
	if err := t.dev.SendReport(ctx, report); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}

	if req.Flags&FlagNoReply != 0 {
		return nil, nil
	}

	return t.poll(context.WithoutCancel(ctx), req.Command, code, t.config.attempts(req.LongRunning), log)
}

func (t *HIDTransport) poll(ctx context.Context, cmd protocol.Command, code byte, attempts int, log logrus.FieldLogger) (*protocol.Payload, error) {
	var last error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && t.config.PollInterval > 0 {
			time.Sleep(t.config.PollInterval)
		}

		pkt, err := t.receive(ctx, cmd, code)
		if err == nil {
			return &pkt.Payload, nil
		}
		if !retryable(err) {
			return nil, err
		}

		last = err
		log.WithField("attempt", attempt).Debugf("not ready: %v", err)
	}

	return nil, &TimeoutError{Command: cmd, Attempts: attempts, Last: last}
}

// receive reads and classifies one Get report.
func (t *HIDTransport) receive(ctx context.Context, cmd protocol.Command, code byte) (*protocol.Packet, error) {
	report, err := t.dev.ReceiveReport(ctx, t.config.ReceiveTimeout)
	if err != nil {
		return nil, &receiveError{err}
	}

	// the hub answers with an all-zero report until a reply is queued
	if len(report) == 0 || report[protocol.OffsetID] == 0 {
		return nil, errNoReply
	}

	t.config.Logger.Debugf("GET % x", report)

	pkt, err := protocol.Decode(report)
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", cmd, err)
	}

	if pkt.Payload.Ctrl != code {
		return nil, &StaleReplyError{Got: pkt.Payload.Ctrl, Want: code}
	}

	if pkt.Payload.Sts != protocol.ResultSuccess {
		return nil, &protocol.ProtocolError{Operation: cmd.String(), Result: pkt.Payload.Sts}
	}

	if pkt.Busy {
		return nil, errBusy
	}

	return pkt, nil
}

type receiveError struct {
	err error
}

func (e *receiveError) Error() string { return "receive: " + e.err.Error() }

func (e *receiveError) Unwrap() error { return e.err }

// retryable reports whether a poll attempt may be repeated after err.
func retryable(err error) bool {
	var re *receiveError
	var se *StaleReplyError
	return errors.Is(err, errBusy) || errors.Is(err, errNoReply) ||
		errors.As(err, &re) || errors.As(err, &se)
}
