package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
)

// RegisterTransport drives the remote-control registers directly.
//
// A request is written as Data, Offset, Len and finally Cmd with the busy
// bit set. The device clears the bit in the Cmd register once done and
// leaves the outcome in the Result register.
type RegisterTransport struct {
	dev      RegisterDevice
	commands protocol.CommandSet
	config   Config
}

// NewRegister creates a register-dialect transport over dev.
func NewRegister(dev RegisterDevice, opts ...Option) *RegisterTransport {
	if dev == nil {
		panic("device cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &RegisterTransport{
		dev:      dev,
		commands: protocol.RegisterCommands,
		config:   cfg,
	}
}

func (t *RegisterTransport) Dialect() protocol.Dialect { return protocol.DialectRegister }

func (t *RegisterTransport) Commands() protocol.CommandSet { return t.commands }

// Probe reads the capability register to confirm the device responds.
func (t *RegisterTransport) Probe(ctx context.Context) (byte, error) {
	var buf [1]byte
	if err := t.dev.ReadRegister(ctx, protocol.RegCap, buf[:]); err != nil {
		return 0, fmt.Errorf("read capability register: %w", err)
	}
	return buf[0], nil
}

// Execute writes req to the command registers and polls for completion.
// Data requested by read commands, and the 32-bit result of checksum and
// identification commands, is returned in the payload fifo.
func (t *RegisterTransport) Execute(ctx context.Context, req Request) (*protocol.Payload, error) {
	code, p, err := prepare(t.commands, req)
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

	if err := t.send(ctx, code, &p, req.Data); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	log.Debug("command written")

	if req.Flags&FlagNoReply != 0 {
		return nil, nil
	}

	ctx = context.WithoutCancel(ctx)
	if err := t.poll(ctx, req.Command, t.config.attempts(req.LongRunning), log); err != nil {
		return nil, err
	}

	var sts [1]byte
	if err := t.dev.ReadRegister(ctx, protocol.RegResult, sts[:]); err != nil {
		return nil, fmt.Errorf("%s: read result register: %w", req.Command, err)
	}
	p.Sts = protocol.Result(sts[0])
	if !p.Sts.Valid() {
		return nil, fmt.Errorf("%s reply: %w", req.Command,
			&protocol.DecodeError{Field: "sts", Got: int(sts[0]), Want: int(sts[0]), Err: protocol.ErrUnknownResult})
	}
	if p.Sts != protocol.ResultSuccess {
		return nil, &protocol.ProtocolError{Operation: req.Command.String(), Result: p.Sts}
	}

	if n := replySize(req.Command, len(req.Data), p.Length); n > 0 {
		if err := t.dev.ReadRegister(ctx, protocol.RegData, p.Fifo[:n]); err != nil {
			return nil, fmt.Errorf("%s: read data register: %w", req.Command, err)
		}
	}

	return &p, nil
}

func (t *RegisterTransport) send(ctx context.Context, code byte, p *protocol.Payload, data []byte) error {
	if len(data) > 0 {
		if err := t.dev.WriteRegister(ctx, protocol.RegData, data); err != nil {
			return fmt.Errorf("write data register: %w", err)
		}
	}

	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], p.Offset)
	if err := t.dev.WriteRegister(ctx, protocol.RegOffset, word[:]); err != nil {
		return fmt.Errorf("write offset register: %w", err)
	}

	binary.LittleEndian.PutUint32(word[:], p.Length)
	if err := t.dev.WriteRegister(ctx, protocol.RegLen, word[:]); err != nil {
		return fmt.Errorf("write length register: %w", err)
	}

	if err := t.dev.WriteRegister(ctx, protocol.RegCmd, []byte{code | protocol.CtrlBusyMask}); err != nil {
		return fmt.Errorf("write command register: %w", err)
	}

	return nil
}

func (t *RegisterTransport) poll(ctx context.Context, cmd protocol.Command, attempts int, log logrus.FieldLogger) error {
	var last error
	var ctrl [1]byte

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && t.config.PollInterval > 0 {
			time.Sleep(t.config.PollInterval)
		}

		if err := t.dev.ReadRegister(ctx, protocol.RegCmd, ctrl[:]); err != nil {
			last = &receiveError{err}
		} else if ctrl[0]&protocol.CtrlBusyMask != 0 {
			last = errBusy
		} else {
			return nil
		}

		log.WithField("attempt", attempt).Debugf("not ready: %v", last)
	}

	return &TimeoutError{Command: cmd, Attempts: attempts, Last: last}
}

// Commands that leave a 32-bit result in the data register.
var resultCommands = map[protocol.Command]bool{
	protocol.CommandGetID:                  true,
	protocol.CommandGetVersion:             true,
	protocol.CommandCalEepromChecksum:      true,
	protocol.CommandCalEepromCheckCrc8:     true,
	protocol.CommandCalEepromCheckCrc16:    true,
	protocol.CommandGetChipCoreTemperature: true,
}

// replySize returns how many data register bytes hold the reply.
func replySize(cmd protocol.Command, carried int, length uint32) uint32 {
	switch {
	case resultCommands[cmd]:
		return 4
	case carried == 0:
		return length
	default:
		return 0
	}
}
