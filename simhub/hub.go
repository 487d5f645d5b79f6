// Package simhub simulates a Synaptics MST / VMM9 hub.
//
// A Hub implements both transport.ReportDevice and transport.RegisterDevice
// on top of an in-memory flash array. It keeps a log of every command it
// executed and can inject faults: failing results, busy replies, dropped
// replies and stale replies. It backs the package tests, the examples and
// the --simulate mode of mstflash.
package simhub

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
)

// Values the hub reports in the cap and state fields, as seen on hardware.
const (
	capFlags   = 0xB4
	stateReady = 0x01
)

// Entry is one executed command.
type Entry struct {
	Command protocol.Command
	Offset  uint32
	Length  uint32
	Data    []byte
}

// Hub is a simulated hub. It is safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	config   Config
	commands protocol.CommandSet

	flash  []byte
	memory map[uint32][]byte

	rc          bool
	eraseArmed  bool
	activations int
	active      []byte

	log    []Entry
	faults map[protocol.Command][]protocol.Result
	drops  int
	stale  int

	// HID reply state
	reply *protocol.Payload
	busy  int

	regs registerBlock
}

type registerBlock struct {
	offset  uint32
	length  uint32
	data    [protocol.FifoSize]byte
	dataLen int
	cmd     byte
	result  protocol.Result
	busy    int
}

// New creates a hub with erased flash.
//
// Example:
//
//	hub := simhub.New(simhub.WithBusyPolls(2), simhub.WithIdentity(0x01, 0x1234))
//	s, err := updater.OpenVMM9(ctx, hub, img.Preamble())
func New(opts ...Option) *Hub {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Hub{
		config:   cfg,
		commands: protocol.CommandsFor(cfg.Dialect),
		flash:    bytes.Repeat([]byte{0xFF}, cfg.FlashSize),
		memory:   make(map[uint32][]byte),
		faults:   make(map[protocol.Command][]protocol.Result),
	}
	h.memory[protocol.MemCustomerID] = be32(cfg.CustomerID)
	h.memory[protocol.MemBoardID] = be32(cfg.BoardID)

	return h
}

// FailNext makes the next execution of cmd report r without side effects.
// Repeated calls queue several failures.
func (h *Hub) FailNext(cmd protocol.Command, r protocol.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.faults[cmd] = append(h.faults[cmd], r)
}

// DropReplies makes the next n reply reads come back empty.
func (h *Hub) DropReplies(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drops += n
}

// InjectStale makes the next n HID replies echo a different command.
func (h *Hub) InjectStale(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale += n
}

// SetBusyPolls changes the number of busy replies before each completion.
func (h *Hub) SetBusyPolls(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config.BusyPolls = n
}

// Load overwrites the start of flash with data, as if it had been
// programmed and activated earlier.
func (h *Hub) Load(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	copy(h.flash, data)
	h.active = append([]byte(nil), h.flash...)
}

// Log returns the executed commands in order.
func (h *Hub) Log() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.log...)
}

// Commands returns the executed command sequence.
func (h *Hub) Commands() []protocol.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Command, len(h.log))
	for i, e := range h.log {
		out[i] = e.Command
	}
	return out
}

// ResetLog clears the command log.
func (h *Hub) ResetLog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = nil
}

// Flash returns a copy of the first n flash bytes.
func (h *Hub) Flash(n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.flash) {
		n = len(h.flash)
	}
	return append([]byte(nil), h.flash[:n]...)
}

// ActiveImage returns the first n bytes of the flash content at the most
// recent activation.
func (h *Hub) ActiveImage(n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.active) {
		n = len(h.active)
	}
	return append([]byte(nil), h.active[:n]...)
}

// Activations returns how many times firmware was activated.
func (h *Hub) Activations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activations
}

// RemoteControl reports whether remote control is enabled.
func (h *Hub) RemoteControl() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rc
}

// SendReport accepts one Set report.
func (h *Hub) SendReport(ctx context.Context, report []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pkt, err := protocol.Decode(report)
	if err != nil {
		return fmt.Errorf("simhub: %w", err)
	}
	if !pkt.Busy {
		return fmt.Errorf("simhub: request ctrl 0x%02X lacks the busy bit", pkt.Payload.Ctrl)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	carried := int(pkt.Size) - protocol.PayloadHeaderSize
	reply := h.execute(pkt.Payload.Ctrl, pkt.Payload.Offset, pkt.Payload.Length, pkt.Payload.Fifo[:carried])
	h.reply = &reply
	h.busy = h.config.BusyPolls

	return nil
}

// ReceiveReport returns the current Get report.
func (h *Hub) ReceiveReport(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	empty := make([]byte, protocol.ReportSize)
	if h.drops > 0 {
		h.drops--
		return empty, nil
	}
	if h.reply == nil {
		return empty, nil
	}

	p := *h.reply
	busy := false
	switch {
	case h.stale > 0:
		h.stale--
		p.Ctrl = (p.Ctrl + 1) &^ protocol.CtrlBusyMask
	case h.busy > 0:
		h.busy--
		p.Sts = protocol.ResultSuccess
		busy = true
	}

	return protocol.EncodeReply(p, busy)
}

// WriteRegister writes the register block. Writing the command register
// with the busy bit set executes the command.
func (h *Hub) WriteRegister(ctx context.Context, addr uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch addr {
	case protocol.RegData:
		if len(data) > protocol.FifoSize {
			return fmt.Errorf("simhub: %d bytes overflow the data register", len(data))
		}
		h.regs.data = [protocol.FifoSize]byte{}
		h.regs.dataLen = copy(h.regs.data[:], data)
	case protocol.RegOffset:
		h.regs.offset = binary.LittleEndian.Uint32(pad4(data))
	case protocol.RegLen:
		h.regs.length = binary.LittleEndian.Uint32(pad4(data))
	case protocol.RegCmd:
		if len(data) == 0 || data[0]&protocol.CtrlBusyMask == 0 {
			return nil
		}
		code := data[0] &^ protocol.CtrlBusyMask
		reply := h.execute(code, h.regs.offset, h.regs.length, h.regs.data[:h.regs.dataLen])
		h.regs.cmd = code
		h.regs.result = reply.Sts
		h.regs.data = reply.Fifo
		h.regs.dataLen = 0
		h.regs.busy = h.config.BusyPolls
	}

	return nil
}

// ReadRegister reads the register block.
func (h *Hub) ReadRegister(ctx context.Context, addr uint32, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range buf {
		buf[i] = 0
	}

	switch addr {
	case protocol.RegCap:
		buf[0] = capFlags
	case protocol.RegState:
		buf[0] = stateReady
	case protocol.RegCmd:
		if h.drops > 0 {
			h.drops--
			return fmt.Errorf("simhub: aux transfer dropped")
		}
		buf[0] = h.regs.cmd
		if h.regs.busy > 0 {
			h.regs.busy--
			buf[0] |= protocol.CtrlBusyMask
		}
	case protocol.RegResult:
		buf[0] = byte(h.regs.result)
	case protocol.RegOffset:
		copy(buf, le32(h.regs.offset))
	case protocol.RegLen:
		copy(buf, le32(h.regs.length))
	case protocol.RegData:
		copy(buf, h.regs.data[:])
	}

	return nil
}

// execute runs one command and builds its reply. Callers hold h.mu.
func (h *Hub) execute(code byte, offset, length uint32, data []byte) protocol.Payload {
	reply := protocol.Payload{
		Cap:    capFlags,
		State:  stateReady,
		Ctrl:   code,
		Offset: offset,
		Length: length,
	}

	cmd, ok := h.commands.Lookup(code)
	if !ok {
		reply.Sts = protocol.ResultUnsupported
		return reply
	}

	h.log = append(h.log, Entry{Command: cmd, Offset: offset, Length: length, Data: append([]byte(nil), data...)})

	log := h.config.Logger.WithFields(logrus.Fields{
		"command": cmd.String(),
		"offset":  fmt.Sprintf("0x%08X", offset),
		"length":  length,
	})

	if q := h.faults[cmd]; len(q) > 0 {
		reply.Sts = q[0]
		h.faults[cmd] = q[1:]
		log.WithField("result", reply.Sts.String()).Debug("injected fault")
		return reply
	}

	var out []byte
	reply.Sts, out = h.run(cmd, offset, length, data)
	copy(reply.Fifo[:], out)

	log.WithField("result", reply.Sts.String()).Debug("executed")
	return reply
}

func (h *Hub) run(cmd protocol.Command, offset, length uint32, data []byte) (protocol.Result, []byte) {
	switch cmd {
	case protocol.CommandEnableRc:
		if !bytes.Equal(data, protocol.UnlockToken) {
			return protocol.ResultInvalid, nil
		}
		h.rc = true
		return protocol.ResultSuccess, nil
	case protocol.CommandDisableRc:
		h.rc = false
		h.eraseArmed = false
		return protocol.ResultSuccess, nil
	}

	if !h.rc {
		return protocol.ResultDisabled, nil
	}

	switch cmd {
	case protocol.CommandGetID:
		return protocol.ResultSuccess, le32(h.config.BoardID)
	case protocol.CommandGetVersion:
		return protocol.ResultSuccess, []byte{1, 2, 3}
	case protocol.CommandFlashMapping:
		return protocol.ResultSuccess, nil
	case protocol.CommandEnableFlashChipErase:
		h.eraseArmed = true
		return protocol.ResultSuccess, nil
	case protocol.CommandFlashErase:
		return h.erase(data), nil
	case protocol.CommandWriteToEeprom, protocol.CommandWriteToMemory:
		if int(offset)+len(data) > len(h.flash) {
			return protocol.ResultInvalid, nil
		}
		copy(h.flash[offset:], data)
		return protocol.ResultSuccess, nil
	case protocol.CommandReadFromEeprom, protocol.CommandReadFromMemory:
		if m, ok := h.memory[offset]; ok {
			return protocol.ResultSuccess, m
		}
		if int(offset)+int(length) > len(h.flash) {
			return protocol.ResultInvalid, nil
		}
		return protocol.ResultSuccess, h.flash[offset : offset+length]
	case protocol.CommandCalEepromChecksum:
		return h.checksum(protocol.VerifyChecksum, data)
	case protocol.CommandCalEepromCheckCrc8:
		return h.checksum(protocol.VerifyCRC8, data)
	case protocol.CommandCalEepromCheckCrc16:
		return h.checksum(protocol.VerifyCRC16, data)
	case protocol.CommandActivateFirmware:
		h.activations++
		h.active = append(h.active[:0], h.flash...)
		return protocol.ResultSuccess, nil
	case protocol.CommandGetChipCoreTemperature:
		return protocol.ResultSuccess, le32(h.config.Temperature)
	default:
		// TX DPCD access is accepted and reads back zeros
		return protocol.ResultSuccess, nil
	}
}

func (h *Hub) erase(data []byte) protocol.Result {
	if !h.eraseArmed || len(data) < 2 {
		return protocol.ResultInvalid
	}
	start := int(data[0]) * h.config.BankSize
	if start >= len(h.flash) {
		return protocol.ResultInvalid
	}
	end := start + h.config.BankSize
	if end > len(h.flash) {
		end = len(h.flash)
	}
	for i := start; i < end; i++ {
		h.flash[i] = 0xFF
	}
	return protocol.ResultSuccess
}

func (h *Hub) checksum(m protocol.VerifyMethod, data []byte) (protocol.Result, []byte) {
	if len(data) < 4 {
		return protocol.ResultInvalid, nil
	}
	size := binary.LittleEndian.Uint32(data)
	if int(size) > len(h.flash) {
		return protocol.ResultInvalid, nil
	}
	return protocol.ResultSuccess, le32(m.Compute(h.flash[:size]))
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func pad4(b []byte) []byte {
	var out [4]byte
	copy(out[:], b)
	return out[:]
}
