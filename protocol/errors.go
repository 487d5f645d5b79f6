package protocol

import (
	"errors"
	"fmt"
)

// Decode failure reasons. A *DecodeError wraps exactly one of them.
var (
	ErrTruncated     = errors.New("packet truncated")
	ErrBadHeader     = errors.New("invalid fixed header")
	ErrInvalidSize   = errors.New("invalid size")
	ErrInvalidLength = errors.New("invalid length")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrUnknownResult = errors.New("unknown result code")
)

// ErrReservedBit is returned when a command byte has the busy bit set.
var ErrReservedBit = errors.New("command code uses reserved bit 0x80")

// ErrUnsupportedDevice is returned when a VMM9 signature does not match.
var ErrUnsupportedDevice = errors.New("unsupported device")

// DecodeError describes a malformed packet. It is fatal for the exchange.
type DecodeError struct {
	// Field is the packet field that failed validation
	Field string

	// Got and Want are the observed and expected values, when meaningful
	Got  int
	Want int

	// Err is one of the Err* decode sentinels
	Err error
}

func (e *DecodeError) Error() string {
	if e.Want != e.Got {
		return fmt.Sprintf("decode %s: %v: got 0x%02X, expected 0x%02X", e.Field, e.Err, e.Got, e.Want)
	}
	return fmt.Sprintf("decode %s: %v (0x%02X)", e.Field, e.Err, e.Got)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ProtocolError represents a non-success result returned by the device.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// Result is the status reported by the device
	Result Result
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, e.Result, uint8(e.Result))
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ResultOf extracts the device result from err, if it carries one.
func ResultOf(err error) (Result, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Result, true
	}
	return ResultSuccess, false
}
