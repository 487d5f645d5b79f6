package protocol

import (
	"bytes"
	"fmt"
)

// ValidateSignature checks that b starts with the VMM9 signature.
// The preamble is the first bytes read from the device or image; anything
// shorter than the signature is rejected.
func ValidateSignature(b []byte) error {
	if len(b) < len(Signature) {
		return fmt.Errorf("%w: signature truncated (%d of %d bytes)", ErrUnsupportedDevice, len(b), len(Signature))
	}
	if !bytes.Equal(b[:len(Signature)], []byte(Signature)) {
		return fmt.Errorf("%w: signature %q, expected %q", ErrUnsupportedDevice, b[:len(Signature)], Signature)
	}
	return nil
}
