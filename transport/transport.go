package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-synmst/protocol"
)

// Flags modify how a request is framed and whether a reply is awaited.
type Flags uint8

const (
	// FlagFullBuffer places the checksum at the end of the full packet struct
	FlagFullBuffer Flags = 1 << iota

	// FlagNoReply transmits the request and returns without polling
	FlagNoReply
)

// Request is one remote-control command.
type Request struct {
	// Command is resolved to a wire byte through the dialect's command table
	Command protocol.Command

	// Offset is the target address
	Offset uint32

	// Length is the number of bytes requested from the device. When Data is
	// set, Length may be left zero and is taken from len(Data).
	Length uint32

	// Data is carried in the fifo, at most protocol.FifoSize bytes
	Data []byte

	Flags Flags

	// LongRunning selects the extended poll budget
	LongRunning bool
}

// Executor sends a request and waits for its completion.
type Executor interface {
	// Execute transmits req and returns the reply payload. Requests sent with
	// FlagNoReply return a nil payload.
	Execute(ctx context.Context, req Request) (*protocol.Payload, error)

	// Dialect returns the dialect spoken by the executor
	Dialect() protocol.Dialect

	// Commands returns the command table in use
	Commands() protocol.CommandSet
}

// ReportDevice exchanges whole HID reports with a hub.
type ReportDevice interface {
	// SendReport writes one Set report
	SendReport(ctx context.Context, report []byte) error

	// ReceiveReport reads one Get report, waiting at most timeout
	ReceiveReport(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// RegisterDevice reads and writes the hub's remote-control registers.
type RegisterDevice interface {
	ReadRegister(ctx context.Context, addr uint32, buf []byte) error
	WriteRegister(ctx context.Context, addr uint32, data []byte) error
}

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("device did not complete command")

// TimeoutError is returned when the poll budget is exhausted without a
// completed reply.
type TimeoutError struct {
	Command  protocol.Command
	Attempts int

	// Last is the reason the final attempt did not complete, if any
	Last error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: no completed reply after %d attempts: %v", e.Command, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: no completed reply after %d attempts", e.Command, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

// Reasons an individual poll attempt did not complete.
var (
	errBusy    = errors.New("device busy")
	errNoReply = errors.New("empty report")
)

// StaleReplyError is recorded when a reply echoes a different command.
type StaleReplyError struct {
	Got, Want byte
}

func (e *StaleReplyError) Error() string {
	return fmt.Sprintf("stale reply: ctrl 0x%02X, expected 0x%02X", e.Got, e.Want)
}

// prepare resolves the command byte and builds the request payload.
func prepare(commands protocol.CommandSet, req Request) (byte, protocol.Payload, error) {
	var p protocol.Payload

	code, ok := commands.Code(req.Command)
	if !ok {
		return 0, p, fmt.Errorf("%s is not supported by the %s dialect", req.Command, commands.Dialect())
	}

	length := req.Length
	if len(req.Data) > 0 {
		if length != 0 && length != uint32(len(req.Data)) {
			return 0, p, fmt.Errorf("%s: length %d does not match %d data bytes", req.Command, length, len(req.Data))
		}
		length = uint32(len(req.Data))
	}
	if length > protocol.FifoSize {
		return 0, p, fmt.Errorf("%s: %w: %d exceeds maximum %d bytes", req.Command, protocol.ErrInvalidLength, length, protocol.FifoSize)
	}

	p.Ctrl = code
	p.Offset = req.Offset
	p.Length = length
	copy(p.Fifo[:], req.Data)

	return code, p, nil
}
