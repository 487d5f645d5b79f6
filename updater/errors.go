package updater

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moffa90/go-synmst/protocol"
)

var (
	// ErrInvalidState is matched by every *StateError.
	ErrInvalidState = errors.New("invalid session state")

	// ErrUnrecoverable is matched by every *UnrecoverableError.
	ErrUnrecoverable = errors.New("device requires manual recovery")

	// ErrEmptyImage is returned when there is nothing to write.
	ErrEmptyImage = errors.New("image is empty")
)

// StateError indicates an operation was invoked in the wrong state. Nothing
// was sent to the device.
type StateError struct {
	Operation string
	State     State
	Allowed   []State
}

func (e *StateError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = s.String()
	}
	return fmt.Sprintf("%s: session is %s, requires %s", e.Operation, e.State, strings.Join(allowed, " or "))
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// VerificationError indicates the checksum reported by the device does not
// match the image.
type VerificationError struct {
	Method   protocol.VerifyMethod
	Expected uint32
	Actual   uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("firmware verification failed: device %s 0x%X, image 0x%X",
		e.Method, e.Actual, e.Expected)
}

// ReadBackMismatchError indicates flash content read after activation
// differs from the image.
type ReadBackMismatchError struct {
	Offset   int
	Expected byte
	Actual   byte

	// RolledBack is set when the previous image was restored
	RolledBack bool
}

func (e *ReadBackMismatchError) Error() string {
	msg := fmt.Sprintf("read-back mismatch at 0x%06X: expected 0x%02X, got 0x%02X",
		e.Offset, e.Expected, e.Actual)
	if e.RolledBack {
		msg += " (previous image restored)"
	}
	return msg
}

// UnrecoverableError indicates the device is in a state the session cannot
// repair, either because it reported RollbackFailed or because restoring
// the previous image failed.
type UnrecoverableError struct {
	Operation string
	Err       error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("%s: unrecoverable: %v", e.Operation, e.Err)
}

func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// BoardMismatchError indicates the image was built for a different board.
type BoardMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *BoardMismatchError) Error() string {
	return fmt.Sprintf("board mismatch: image is for board 0x%08X, device is 0x%08X",
		e.Expected, e.Actual)
}

// ImageTooLargeError indicates the image exceeds the flash size.
type ImageTooLargeError struct {
	Size int
	Max  int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image is %d bytes, maximum is %d", e.Size, e.Max)
}
