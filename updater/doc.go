// Package updater provides a high-level API for updating the firmware of
// Synaptics MST and VMM9 DisplayPort hubs.
//
// # Overview
//
// A Session walks the hub through the update state machine:
//
//	Idle → RcEnabled → Erasing → Writing → Verifying → Activated
//
// with two more terminal states: RolledBack, after a previous image was
// restored, and Aborted, after any failure that leaves the flash
// indeterminate. Each step checks its precondition before sending
// anything; calling a step out of order returns a *StateError.
//
// # Basic Usage
//
//	img, err := image.Load("carrera.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev, err := usbhid.Open(0x06CB, 0x7000)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	s, err := updater.OpenVMM9(ctx, dev, img.Preamble())
//	if err != nil {
//	    log.Fatal(err) // not a VMM9 image
//	}
//	if err := s.Program(ctx, img); err != nil {
//	    log.Fatal(err)
//	}
//
// # Dialects
//
// OpenVMM9 speaks the VMM9 command table over HID reports. OpenHID speaks
// the MST register command table over HID reports, and OpenRegister
// drives the remote-control registers directly, for example through a
// DisplayPort AUX device. The chip family selects the write target and the
// verification command:
//
//	tesla                    eeprom  checksum
//	leaf                     memory  checksum
//	panamera                 memory  crc8
//	cayenne, spyder, carrera memory  crc16
//
// # Step by Step
//
// Program is a convenience over the individual steps, which can also be
// driven directly:
//
//	if err := s.EnableRemoteControl(ctx); err != nil {
//	    return err
//	}
//	defer s.DisableRemoteControl(context.WithoutCancel(ctx))
//
//	if err := s.EraseFlash(ctx); err != nil {
//	    return err
//	}
//	if err := s.WriteImage(ctx, img.Data); err != nil {
//	    return err
//	}
//	return s.Activate(ctx)
//
// # Cancellation
//
// Context cancellation is honored between chunks and erase banks. A command
// already sent to the hub always runs to completion.
//
// # Error Handling
//
// The package provides structured error types:
//   - StateError: operation called in the wrong state (ErrInvalidState)
//   - VerificationError: hub checksum does not match the image
//   - ReadBackMismatchError: flash differs from the image after activation
//   - BoardMismatchError: image built for another board
//   - ImageTooLargeError: image exceeds the flash
//   - UnrecoverableError: manual recovery needed (ErrUnrecoverable)
//   - protocol.ProtocolError: the hub returned a failure result
//   - transport.TimeoutError: the hub did not complete a command
package updater
