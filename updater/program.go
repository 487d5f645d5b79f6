package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-synmst/image"
	"github.com/moffa90/go-synmst/protocol"
)

// Program performs the complete update sequence:
//  1. Enable remote control
//  2. Check the image board ID against the hub (VMM9, when the image has one)
//  3. Back up the current flash, if enabled
//  4. Erase, write and verify the image
//  5. Activate it
//  6. Compare the flash with the image, if enabled, rolling back to the
//     backup on a mismatch
//
// Remote control is released on every exit path. A failure to release it is
// logged and does not replace the returned error. When nothing else failed,
// an unrecoverable release failure is returned.
//
// Example:
//
//	img, _ := image.Load("firmware.bin")
//	err := s.Program(ctx, img)
//	if errors.Is(err, updater.ErrUnrecoverable) {
//	    log.Fatal("hub needs manual recovery")
//	}
func (s *Session) Program(ctx context.Context, img *image.Image) (err error) {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	if err := s.checkImage(img.Data); err != nil {
		return err
	}
	if err := s.require("program", StateIdle); err != nil {
		return err
	}

	s.log.WithField("size", img.Size()).Info("starting update")

	if err := s.EnableRemoteControl(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := s.release(ctx); err == nil && errors.Is(rerr, ErrUnrecoverable) {
			err = rerr
		}
	}()

	if img.BoardID != 0 && s.Dialect() == protocol.DialectVMM9 {
		id, err := s.Identify(ctx)
		if err != nil {
			return s.abort(ctx, "identify", err)
		}
		if id.BoardID != img.BoardID {
			return s.abort(ctx, "check board", &BoardMismatchError{Expected: img.BoardID, Actual: id.BoardID})
		}
	}

	var backup []byte
	if s.config.Backup {
		size := s.config.BackupSize
		if size == 0 {
			size = img.Size()
		}
		if backup, err = s.ReadBack(ctx, 0, size); err != nil {
			return s.abort(ctx, "backup", err)
		}
		s.log.WithField("size", size).Debug("flash backed up")
	}

	if err := s.EraseFlash(ctx); err != nil {
		return err
	}
	if err := s.WriteImage(ctx, img.Data); err != nil {
		return err
	}
	if err := s.Activate(ctx); err != nil {
		return err
	}

	if s.config.VerifyReadBack {
		if err := s.verifyReadBack(ctx, img.Data, backup); err != nil {
			return err
		}
	}

	s.reportProgress(Progress{Phase: PhaseComplete, Current: 1, Total: 1})
	s.log.Info("update complete")
	return nil
}

func (s *Session) verifyReadBack(ctx context.Context, want, backup []byte) error {
	got, err := s.ReadBack(ctx, 0, len(want))
	if err != nil {
		return s.abort(ctx, "verify read-back", err)
	}

	at := mismatch(want, got)
	if at < 0 {
		return nil
	}

	rerr := &ReadBackMismatchError{Offset: at, Expected: want[at], Actual: got[at]}
	if backup == nil {
		return s.abort(ctx, "verify read-back", rerr)
	}

	if err := s.Rollback(ctx, backup); err != nil {
		return errors.Join(rerr, err)
	}
	rerr.RolledBack = true
	return rerr
}

// mismatch returns the first offset where a and b differ, or -1.
func mismatch(a, b []byte) int {
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			return i
		}
	}
	return -1
}
