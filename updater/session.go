package updater

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/image"
	"github.com/moffa90/go-synmst/protocol"
	"github.com/moffa90/go-synmst/transport"
)

// Session drives one firmware update of one hub.
//
// A Session is not safe for concurrent use. The hub executes one command
// at a time, so callers must serialize access to a device.
type Session struct {
	id      string
	ex      transport.Executor
	family  protocol.ChipFamily
	target  targetCommands
	verify  protocol.VerifyMethod
	config  Config
	log     logrus.FieldLogger
	started time.Time

	state             State
	rc                bool
	erased            bool
	activateAttempted bool
}

// Identity is the customer and board identification of a VMM9 hub.
type Identity struct {
	CustomerID uint32
	BoardID    uint32
}

// OpenVMM9 starts a session with a VMM9 hub. The preamble, the leading
// bytes of the image, must carry the CARRERA signature; otherwise an error
// matching protocol.ErrUnsupportedDevice is returned and nothing is sent.
//
// Example:
//
//	img, _ := image.Load("carrera.bin")
//	dev, _ := usbhid.Open(0x06CB, 0x7000)
//	s, err := updater.OpenVMM9(ctx, dev, img.Preamble(),
//	    updater.WithProgressCallback(progressFunc),
//	)
//	if err != nil {
//	    return err
//	}
//	err = s.Program(ctx, img)
func OpenVMM9(ctx context.Context, dev transport.ReportDevice, preamble []byte, opts ...Option) (*Session, error) {
	if dev == nil {
		panic("device cannot be nil")
	}
	if err := protocol.ValidateSignature(preamble); err != nil {
		return nil, err
	}

	cfg := newConfig([]Option{
		WithEraseBanks(protocol.VMM9FlashSize / protocol.VMM9BankSize),
		WithResetBeforeEnable(true),
	}, opts)

	ex := transport.NewHID(dev, protocol.VMM9Commands, cfg.transportOptions()...)
	return newSession(ex, protocol.FamilyCarrera, cfg)
}

// OpenHID starts a session with an MST hub that carries the register
// command table inside HID reports.
func OpenHID(ctx context.Context, dev transport.ReportDevice, family protocol.ChipFamily, opts ...Option) (*Session, error) {
	if dev == nil {
		panic("device cannot be nil")
	}

	cfg := newConfig(nil, opts)
	if err := checkFamily(family, protocol.DialectRegister); err != nil {
		return nil, err
	}

	ex := transport.NewHID(dev, protocol.RegisterCommands, cfg.transportOptions()...)
	return newSession(ex, family, cfg)
}

// OpenRegister starts a session with an MST hub reached through its
// remote-control registers. The Cap register is read once to confirm the
// device responds.
//
// Example:
//
//	aux, _ := dpaux.Open("/dev/drm_dp_aux0", logger)
//	defer aux.Close()
//	s, err := updater.OpenRegister(ctx, aux, protocol.FamilyPanamera)
func OpenRegister(ctx context.Context, dev transport.RegisterDevice, family protocol.ChipFamily, opts ...Option) (*Session, error) {
	if dev == nil {
		panic("device cannot be nil")
	}

	cfg := newConfig(nil, opts)
	if err := checkFamily(family, protocol.DialectRegister); err != nil {
		return nil, err
	}

	ex := transport.NewRegister(dev, cfg.transportOptions()...)
	capFlags, err := ex.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe device: %w", err)
	}
	cfg.Logger.WithField("cap", fmt.Sprintf("0x%02X", capFlags)).Debug("register interface found")

	return newSession(ex, family, cfg)
}

// New starts a session over an existing executor.
func New(ex transport.Executor, family protocol.ChipFamily, opts ...Option) (*Session, error) {
	if ex == nil {
		panic("executor cannot be nil")
	}
	return newSession(ex, family, newConfig(nil, opts))
}

func newSession(ex transport.Executor, family protocol.ChipFamily, cfg Config) (*Session, error) {
	if err := checkFamily(family, ex.Dialect()); err != nil {
		return nil, err
	}

	tc, method, err := resolve(family, &cfg)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		ex:      ex,
		family:  family,
		target:  tc,
		verify:  method,
		config:  cfg,
		started: time.Now(),
		state:   StateIdle,
		log: cfg.Logger.WithFields(logrus.Fields{
			"session": id,
			"family":  family.String(),
			"dialect": ex.Dialect().String(),
		}),
	}
	s.log.WithFields(logrus.Fields{
		"target": tc.name,
		"verify": method.String(),
	}).Debug("session opened")

	return s, nil
}

// ID returns the identifier the session logs under.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

func (s *Session) Family() protocol.ChipFamily { return s.family }

func (s *Session) Dialect() protocol.Dialect { return s.ex.Dialect() }

func (s *Session) VerifyMethod() protocol.VerifyMethod { return s.verify }

// RemoteControl reports whether remote control is held by the session.
func (s *Session) RemoteControl() bool { return s.rc }

// EnableRemoteControl unlocks the hub for flash commands.
func (s *Session) EnableRemoteControl(ctx context.Context) error {
	const op = "enable remote control"
	if err := s.require(op, StateIdle); err != nil {
		return err
	}

	s.reportProgress(Progress{Phase: PhaseEnabling})
	if err := s.enable(ctx); err != nil {
		return s.abort(ctx, op, err)
	}

	s.setState(StateRcEnabled)
	return nil
}

func (s *Session) enable(ctx context.Context) error {
	if s.config.ResetBeforeEnable {
		_, err := s.ex.Execute(ctx, transport.Request{
			Command: protocol.CommandDisableRc,
			Flags:   transport.FlagNoReply,
		})
		if err != nil {
			s.log.WithError(err).Debug("reset before enable")
		}
	}

	if _, err := s.exec(ctx, "enable remote control", transport.Request{
		Command: protocol.CommandEnableRc,
		Data:    protocol.UnlockToken,
	}); err != nil {
		return err
	}
	s.rc = true
	return nil
}

// DisableRemoteControl releases remote control. It is a no-op when the
// session does not hold it. A RollbackFailed reply aborts the session;
// other failures leave the state unchanged.
func (s *Session) DisableRemoteControl(ctx context.Context) error {
	if !s.rc {
		return nil
	}
	if _, err := s.exec(ctx, "disable remote control", transport.Request{Command: protocol.CommandDisableRc}); err != nil {
		if errors.Is(err, ErrUnrecoverable) {
			s.setState(StateAborted)
			s.log.WithError(err).Error("device requires manual recovery")
		}
		return err
	}
	s.rc = false
	s.log.Debug("remote control released")
	return nil
}

// EraseFlash erases the configured number of flash banks. Erase failures
// leave the flash indeterminate and abort the session.
func (s *Session) EraseFlash(ctx context.Context) error {
	const op = "erase flash"
	if err := s.require(op, StateRcEnabled); err != nil {
		return err
	}

	s.setState(StateErasing)
	if err := s.erase(ctx); err != nil {
		return s.abort(ctx, op, err)
	}
	return nil
}

func (s *Session) erase(ctx context.Context) error {
	s.erased = false
	banks := s.config.EraseBanks

	s.reportProgress(Progress{Phase: PhaseErasing, Total: banks})
	if _, err := s.exec(ctx, "enable flash erase", transport.Request{
		Command: protocol.CommandEnableFlashChipErase,
	}); err != nil {
		return err
	}

	for bank := 0; bank < banks; bank++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.exec(ctx, fmt.Sprintf("erase bank %d", bank), transport.Request{
			Command:     protocol.CommandFlashErase,
			Data:        []byte{byte(bank), protocol.EraseAllSectors},
			LongRunning: true,
		}); err != nil {
			return err
		}
		s.reportProgress(Progress{Phase: PhaseErasing, Current: bank + 1, Total: banks})
	}

	if d := s.config.EraseSettle; d > 0 {
		s.log.WithField("delay", d).Debug("waiting for erase to settle")
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.erased = true
	return nil
}

// WriteImage writes data from offset zero in chunks of at most 32 bytes,
// then has the hub verify it. The session must have completed an erase.
func (s *Session) WriteImage(ctx context.Context, data []byte) error {
	const op = "write image"
	if err := s.checkImage(data); err != nil {
		return err
	}
	if err := s.require(op, StateErasing); err != nil {
		return err
	}
	if !s.erased {
		return &StateError{Operation: op, State: s.state, Allowed: []State{StateErasing}}
	}

	s.setState(StateWriting)
	if err := s.write(ctx, data); err != nil {
		return s.abort(ctx, op, err)
	}
	if err := s.check(ctx, data); err != nil {
		return s.abort(ctx, "verify image", err)
	}

	s.setState(StateVerifying)
	return nil
}

func (s *Session) write(ctx context.Context, data []byte) error {
	total := len(data)
	written := 0

	for _, chunk := range image.Split(data, 0, protocol.FifoSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.exec(ctx, fmt.Sprintf("write 0x%06X", chunk.Offset), transport.Request{
			Command: s.target.write,
			Offset:  chunk.Offset,
			Data:    chunk.Data,
		}); err != nil {
			return err
		}

		written += len(chunk.Data)
		s.reportProgress(Progress{Phase: PhaseWriting, Current: written, Total: total})
	}
	return nil
}

// check asks the hub for its checksum of the first len(data) bytes.
func (s *Session) check(ctx context.Context, data []byte) error {
	s.reportProgress(Progress{Phase: PhaseVerifying, Total: 1})

	// the size is carried as an LE u32 in the fifo, not in length (capped at 32)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(data)))

	p, err := s.exec(ctx, "verify", transport.Request{
		Command: s.verify.Command(),
		Data:    size[:],
	})
	if err != nil {
		return err
	}

	mask := s.verify.Mask()
	actual := binary.LittleEndian.Uint32(p.Fifo[:4]) & mask
	expected := s.verify.Compute(data) & mask
	if actual != expected {
		return &VerificationError{Method: s.verify, Expected: expected, Actual: actual}
	}

	s.log.WithField(s.verify.String(), fmt.Sprintf("0x%X", actual)).Debug("image verified")
	s.reportProgress(Progress{Phase: PhaseVerifying, Current: 1, Total: 1})
	return nil
}

// ReadBack reads length bytes of flash starting at offset. It may be called
// in any state and does not change it.
func (s *Session) ReadBack(ctx context.Context, offset uint32, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("read back: invalid length %d", length)
	}

	out := make([]byte, 0, length)
	for len(out) < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := length - len(out)
		if n > protocol.FifoSize {
			n = protocol.FifoSize
		}
		at := offset + uint32(len(out))

		op := fmt.Sprintf("read 0x%06X", at)
		p, err := s.exec(ctx, op, transport.Request{
			Command: s.target.read,
			Offset:  at,
			Length:  uint32(n),
			Flags:   transport.FlagFullBuffer,
		})
		if err != nil {
			return nil, s.failRead(ctx, op, err)
		}

		out = append(out, p.Fifo[:n]...)
		s.reportProgress(Progress{Phase: PhaseReading, Current: len(out), Total: length})
	}
	return out, nil
}

// Activate switches the hub to the verified image. A signing failure means
// the image was rejected; the session aborts without a rollback.
func (s *Session) Activate(ctx context.Context) error {
	const op = "activate"
	if err := s.require(op, StateVerifying); err != nil {
		return err
	}

	s.activateAttempted = true
	if err := s.activate(ctx); err != nil {
		return s.abort(ctx, op, err)
	}

	s.setState(StateActivated)
	return nil
}

func (s *Session) activate(ctx context.Context) error {
	s.reportProgress(Progress{Phase: PhaseActivating, Total: 1})
	if _, err := s.exec(ctx, "activate", transport.Request{
		Command:     protocol.CommandActivateFirmware,
		LongRunning: true,
	}); err != nil {
		return err
	}
	s.reportProgress(Progress{Phase: PhaseActivating, Current: 1, Total: 1})
	return nil
}

// Rollback restores previous, an image known to be good. It is allowed
// after activation, after verification, or after an aborted activation.
// Any failure is unrecoverable.
func (s *Session) Rollback(ctx context.Context, previous []byte) error {
	const op = "rollback"
	allowed := s.state == StateActivated || s.state == StateVerifying ||
		(s.state == StateAborted && s.activateAttempted)
	if !allowed {
		return &StateError{
			Operation: op,
			State:     s.state,
			Allowed:   []State{StateActivated, StateVerifying, StateAborted},
		}
	}
	if err := s.checkImage(previous); err != nil {
		return err
	}

	s.log.WithField("size", len(previous)).Warn("rolling back")
	s.reportProgress(Progress{Phase: PhaseRollingBack})

	held := s.rc
	err := s.restore(ctx, previous)
	if err != nil {
		s.setState(StateAborted)
		s.release(ctx)
		var ue *UnrecoverableError
		if errors.As(err, &ue) {
			return ue
		}
		return &UnrecoverableError{Operation: op, Err: err}
	}

	s.setState(StateRolledBack)
	if !held {
		if err := s.release(ctx); errors.Is(err, ErrUnrecoverable) {
			return err
		}
	}
	return nil
}

func (s *Session) restore(ctx context.Context, previous []byte) error {
	if !s.rc {
		if err := s.enable(ctx); err != nil {
			return err
		}
	}
	if err := s.erase(ctx); err != nil {
		return err
	}
	if err := s.write(ctx, previous); err != nil {
		return err
	}
	if err := s.check(ctx, previous); err != nil {
		return err
	}
	return s.activate(ctx)
}

// Identify reads the customer and board IDs of a VMM9 hub. Remote control
// must be enabled.
func (s *Session) Identify(ctx context.Context) (*Identity, error) {
	if s.Dialect() != protocol.DialectVMM9 {
		return nil, fmt.Errorf("identify: not available over the %s dialect", s.Dialect())
	}

	cid, err := s.readWord(ctx, "read customer id", protocol.MemCustomerID)
	if err != nil {
		return nil, err
	}
	bid, err := s.readWord(ctx, "read board id", protocol.MemBoardID)
	if err != nil {
		return nil, err
	}

	id := &Identity{CustomerID: cid, BoardID: bid}
	s.log.WithFields(logrus.Fields{
		"customer_id": fmt.Sprintf("0x%08X", cid),
		"board_id":    fmt.Sprintf("0x%08X", bid),
	}).Debug("identified")
	return id, nil
}

func (s *Session) readWord(ctx context.Context, op string, addr uint32) (uint32, error) {
	p, err := s.exec(ctx, op, transport.Request{
		Command: protocol.CommandReadFromMemory,
		Offset:  addr,
		Length:  4,
		Flags:   transport.FlagFullBuffer,
	})
	if err != nil {
		return 0, s.failRead(ctx, op, err)
	}
	return binary.BigEndian.Uint32(p.Fifo[:4]), nil
}

// CoreTemperature returns the chip core temperature of a VMM9 hub in
// degrees Celsius.
func (s *Session) CoreTemperature(ctx context.Context) (uint32, error) {
	const op = "read core temperature"
	if _, ok := s.ex.Commands().Code(protocol.CommandGetChipCoreTemperature); !ok {
		return 0, fmt.Errorf("%s: not available over the %s dialect", op, s.Dialect())
	}

	p, err := s.exec(ctx, op, transport.Request{
		Command: protocol.CommandGetChipCoreTemperature,
		Flags:   transport.FlagFullBuffer,
	})
	if err != nil {
		return 0, s.failRead(ctx, op, err)
	}
	return binary.LittleEndian.Uint32(p.Fifo[:4]), nil
}

// exec runs one request. A RollbackFailed reply is promoted to an
// UnrecoverableError.
func (s *Session) exec(ctx context.Context, op string, req transport.Request) (*protocol.Payload, error) {
	p, err := s.ex.Execute(ctx, req)
	if err == nil {
		return p, nil
	}
	if r, ok := protocol.ResultOf(err); ok && r == protocol.ResultRollbackFailed {
		return nil, &UnrecoverableError{Operation: op, Err: err}
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

// failRead keeps the state of a read-only operation unless the device
// reported an unrecoverable condition.
func (s *Session) failRead(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrUnrecoverable) {
		return s.abort(ctx, op, err)
	}
	return err
}

// abort moves the session to Aborted and releases remote control. The
// release is best effort: its failure is logged and err is returned as is.
func (s *Session) abort(ctx context.Context, op string, err error) error {
	s.setState(StateAborted)
	s.release(ctx)

	log := s.log.WithError(err).WithField("operation", op)
	if errors.Is(err, ErrUnrecoverable) {
		log.Error("device requires manual recovery")
	} else {
		log.Error("session aborted")
	}
	return err
}

func (s *Session) release(ctx context.Context) error {
	err := s.DisableRemoteControl(context.WithoutCancel(ctx))
	if err != nil {
		s.log.WithError(err).Warn("failed to release remote control")
	}
	return err
}

func (s *Session) require(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return &StateError{Operation: op, State: s.state, Allowed: allowed}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state.String(), "to": st.String()}).Debug("state change")
	s.state = st
}

func (s *Session) checkImage(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}
	if len(data) > s.config.MaxImageSize {
		return &ImageTooLargeError{Size: len(data), Max: s.config.MaxImageSize}
	}
	return nil
}

// reportProgress fills in the derived fields and calls the progress callback if set.
func (s *Session) reportProgress(p Progress) {
	if s.config.ProgressCallback == nil {
		return
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Current) / float64(p.Total) * 100
	}
	p.ElapsedTime = time.Since(s.started)
	s.config.ProgressCallback(p)
}
