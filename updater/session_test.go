package updater_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-synmst/image"
	"github.com/moffa90/go-synmst/protocol"
	"github.com/moffa90/go-synmst/simhub"
	"github.com/moffa90/go-synmst/transport"
	"github.com/moffa90/go-synmst/updater"
)

// tamperExecutor rewrites the replies of one command.
type tamperExecutor struct {
	transport.Executor
	cmd protocol.Command
	fn  func(*protocol.Payload)
}

func (t *tamperExecutor) Execute(ctx context.Context, req transport.Request) (*protocol.Payload, error) {
	p, err := t.Executor.Execute(ctx, req)
	if err == nil && p != nil && req.Command == t.cmd {
		t.fn(p)
	}
	return p, err
}

func fast(extra ...updater.Option) []updater.Option {
	return append([]updater.Option{
		updater.WithEraseSettle(0),
		updater.WithTransportOptions(transport.WithPollInterval(0)),
	}, extra...)
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func mstHub(opts ...simhub.Option) *simhub.Hub {
	return simhub.New(append([]simhub.Option{
		simhub.WithDialect(protocol.DialectRegister),
		simhub.WithFlashSize(0x1000),
		simhub.WithBankSize(0x1000),
	}, opts...)...)
}

func openLeaf(t *testing.T, hub *simhub.Hub, opts ...updater.Option) *updater.Session {
	t.Helper()
	s, err := updater.OpenHID(context.Background(), hub, protocol.FamilyLeaf, fast(opts...)...)
	require.NoError(t, err)
	return s
}

func count(cmds []protocol.Command, c protocol.Command) int {
	n := 0
	for _, x := range cmds {
		if x == c {
			n++
		}
	}
	return n
}

func TestProgramLeafSequence(t *testing.T) {
	type step struct {
		cmd    protocol.Command
		offset uint32
		length uint32
	}
	want := []step{
		{protocol.CommandEnableRc, 0, 5},
		{protocol.CommandEnableFlashChipErase, 0, 0},
		{protocol.CommandFlashErase, 0, 2},
		{protocol.CommandWriteToMemory, 0, 32},
		{protocol.CommandWriteToMemory, 32, 32},
		{protocol.CommandCalEepromChecksum, 0, 4},
		{protocol.CommandActivateFirmware, 0, 0},
		{protocol.CommandDisableRc, 0, 0},
	}

	open := map[string]func(*simhub.Hub) (*updater.Session, error){
		"hid": func(hub *simhub.Hub) (*updater.Session, error) {
			return updater.OpenHID(context.Background(), hub, protocol.FamilyLeaf, fast()...)
		},
		"register": func(hub *simhub.Hub) (*updater.Session, error) {
			return updater.OpenRegister(context.Background(), hub, protocol.FamilyLeaf, fast()...)
		},
	}

	for name, openFn := range open {
		t.Run(name, func(t *testing.T) {
			hub := mstHub()
			s, err := openFn(hub)
			require.NoError(t, err)

			data := pattern(64, 0)
			require.NoError(t, s.Program(context.Background(), &image.Image{Data: data}))

			log := hub.Log()
			require.Len(t, log, len(want))
			for i, w := range want {
				assert.Equal(t, w.cmd, log[i].Command, "step %d", i)
				assert.Equal(t, w.offset, log[i].Offset, "step %d offset", i)
				assert.Equal(t, w.length, log[i].Length, "step %d length", i)
			}
			assert.Equal(t, protocol.UnlockToken, log[0].Data)
			assert.Equal(t, []byte{0x00, protocol.EraseAllSectors}, log[2].Data)
			assert.Equal(t, le32(64), log[5].Data)

			assert.Equal(t, updater.StateActivated, s.State())
			assert.Equal(t, data, hub.ActiveImage(64))
			assert.False(t, hub.RemoteControl())
			assert.False(t, s.RemoteControl())
		})
	}
}

func TestRollbackFailedIsUnrecoverable(t *testing.T) {
	for _, cmd := range []protocol.Command{
		protocol.CommandEnableFlashChipErase,
		protocol.CommandFlashErase,
		protocol.CommandWriteToMemory,
		protocol.CommandCalEepromChecksum,
		protocol.CommandActivateFirmware,
	} {
		t.Run(cmd.String(), func(t *testing.T) {
			hub := mstHub()
			s := openLeaf(t, hub)
			hub.FailNext(cmd, protocol.ResultRollbackFailed)

			err := s.Program(context.Background(), &image.Image{Data: pattern(64, 1)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, updater.ErrUnrecoverable))

			var ue *updater.UnrecoverableError
			require.True(t, errors.As(err, &ue))
			r, ok := protocol.ResultOf(err)
			require.True(t, ok)
			assert.Equal(t, protocol.ResultRollbackFailed, r)

			assert.Equal(t, updater.StateAborted, s.State())

			// nothing after the failed command except the release
			cmds := hub.Commands()
			require.GreaterOrEqual(t, len(cmds), 2)
			assert.Equal(t, cmd, cmds[len(cmds)-2])
			assert.Equal(t, protocol.CommandDisableRc, cmds[len(cmds)-1])
			assert.False(t, hub.RemoteControl())
			assert.Zero(t, hub.Activations())
		})
	}
}

func TestReleaseRollbackFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("program", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub)
		hub.FailNext(protocol.CommandDisableRc, protocol.ResultRollbackFailed)

		data := pattern(64, 1)
		err := s.Program(ctx, &image.Image{Data: data})
		require.Error(t, err)
		assert.True(t, errors.Is(err, updater.ErrUnrecoverable))
		r, ok := protocol.ResultOf(err)
		require.True(t, ok)
		assert.Equal(t, protocol.ResultRollbackFailed, r)

		assert.Equal(t, updater.StateAborted, s.State())
		assert.Equal(t, 1, hub.Activations())
		assert.Equal(t, data, hub.ActiveImage(64))
	})

	t.Run("direct", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub)
		require.NoError(t, s.EnableRemoteControl(ctx))
		hub.FailNext(protocol.CommandDisableRc, protocol.ResultRollbackFailed)

		err := s.DisableRemoteControl(ctx)
		require.Error(t, err)
		var ue *updater.UnrecoverableError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, "disable remote control", ue.Operation)
		assert.Equal(t, updater.StateAborted, s.State())
		assert.True(t, s.RemoteControl())
	})

	t.Run("other failures are only logged", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub)
		hub.FailNext(protocol.CommandDisableRc, protocol.ResultInvalid)

		require.NoError(t, s.Program(ctx, &image.Image{Data: pattern(64, 1)}))
		assert.Equal(t, updater.StateActivated, s.State())
	})
}

func TestPreconditionsSendNothing(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()
	s := openLeaf(t, hub)

	err := s.EraseFlash(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, updater.ErrInvalidState))

	var se *updater.StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, updater.StateIdle, se.State)
	assert.Equal(t, []updater.State{updater.StateRcEnabled}, se.Allowed)

	assert.ErrorIs(t, s.WriteImage(ctx, pattern(8, 0)), updater.ErrInvalidState)
	assert.ErrorIs(t, s.Activate(ctx), updater.ErrInvalidState)
	assert.ErrorIs(t, s.Rollback(ctx, pattern(8, 0)), updater.ErrInvalidState)
	assert.NoError(t, s.DisableRemoteControl(ctx))

	assert.Empty(t, hub.Commands())
	assert.Equal(t, updater.StateIdle, s.State())

	require.NoError(t, s.EnableRemoteControl(ctx))
	assert.ErrorIs(t, s.EnableRemoteControl(ctx), updater.ErrInvalidState)
	assert.ErrorIs(t, s.Activate(ctx), updater.ErrInvalidState)
	assert.Equal(t, []protocol.Command{protocol.CommandEnableRc}, hub.Commands())
}

func TestWriteImageChunking(t *testing.T) {
	for _, n := range []int{1, 31, 32, 33, 70} {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			ctx := context.Background()
			hub := mstHub()
			s := openLeaf(t, hub)
			data := pattern(n, 0x40)

			require.NoError(t, s.EnableRemoteControl(ctx))
			require.NoError(t, s.EraseFlash(ctx))
			require.NoError(t, s.WriteImage(ctx, data))
			assert.Equal(t, updater.StateVerifying, s.State())

			var writes []simhub.Entry
			for _, e := range hub.Log() {
				if e.Command == protocol.CommandWriteToMemory {
					writes = append(writes, e)
				}
			}

			require.Len(t, writes, (n+31)/32)
			total := 0
			for i, w := range writes {
				assert.Equal(t, uint32(i*32), w.Offset)
				assert.LessOrEqual(t, int(w.Length), 32)
				assert.Equal(t, int(w.Length), len(w.Data))
				total += int(w.Length)
			}
			assert.Equal(t, n, total)
			assert.Equal(t, data, hub.Flash(n))
		})
	}
}

func TestVerificationMismatchAborts(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()
	ex := &tamperExecutor{
		Executor: transport.NewHID(hub, protocol.RegisterCommands, transport.WithPollInterval(0)),
		cmd:      protocol.CommandCalEepromCheckCrc8,
		fn:       func(p *protocol.Payload) { p.Fifo[0] ^= 0x5A },
	}
	s, err := updater.New(ex, protocol.FamilyPanamera, updater.WithEraseSettle(0))
	require.NoError(t, err)
	assert.Equal(t, protocol.VerifyCRC8, s.VerifyMethod())

	data := pattern(40, 3)
	err = s.Program(ctx, &image.Image{Data: data})
	require.Error(t, err)

	var ve *updater.VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, protocol.VerifyCRC8, ve.Method)
	assert.Equal(t, uint32(protocol.CRC8(data)), ve.Expected)
	assert.Equal(t, ve.Expected^0x5A, ve.Actual)

	assert.Equal(t, updater.StateAborted, s.State())
	assert.Zero(t, hub.Activations())
	assert.False(t, hub.RemoteControl())
}

func TestSignFailureAbortsWithoutRollback(t *testing.T) {
	for _, r := range []protocol.Result{protocol.ResultFirmwareSignFailed, protocol.ResultConfigureSignFailed} {
		t.Run(r.String(), func(t *testing.T) {
			hub := mstHub()
			s := openLeaf(t, hub, updater.WithBackup(0))
			hub.FailNext(protocol.CommandActivateFirmware, r)

			err := s.Program(context.Background(), &image.Image{Data: pattern(48, 9)})
			require.Error(t, err)
			assert.False(t, errors.Is(err, updater.ErrUnrecoverable))
			got, ok := protocol.ResultOf(err)
			require.True(t, ok)
			assert.Equal(t, r, got)

			assert.Equal(t, updater.StateAborted, s.State())
			cmds := hub.Commands()
			assert.Equal(t, 1, count(cmds, protocol.CommandFlashErase))
			assert.Equal(t, 1, count(cmds, protocol.CommandActivateFirmware))
			assert.Equal(t, protocol.CommandDisableRc, cmds[len(cmds)-1])
		})
	}
}

func TestRollbackRestoresPreviousImage(t *testing.T) {
	ctx := context.Background()
	old := pattern(96, 0x80)

	t.Run("after activation", func(t *testing.T) {
		hub := mstHub()
		hub.Load(old)
		s := openLeaf(t, hub)

		require.NoError(t, s.Program(ctx, &image.Image{Data: pattern(96, 0)}))
		require.NoError(t, s.Rollback(ctx, old))

		assert.Equal(t, updater.StateRolledBack, s.State())
		assert.Equal(t, old, hub.ActiveImage(len(old)))
		assert.Equal(t, 2, hub.Activations())
		assert.False(t, hub.RemoteControl())
	})

	t.Run("after aborted activation", func(t *testing.T) {
		hub := mstHub()
		hub.Load(old)
		s := openLeaf(t, hub)
		hub.FailNext(protocol.CommandActivateFirmware, protocol.ResultFirmwareSignFailed)

		require.Error(t, s.Program(ctx, &image.Image{Data: pattern(96, 0)}))
		require.Equal(t, updater.StateAborted, s.State())

		require.NoError(t, s.Rollback(ctx, old))
		assert.Equal(t, updater.StateRolledBack, s.State())
		assert.Equal(t, old, hub.ActiveImage(len(old)))
		assert.False(t, hub.RemoteControl())
	})

	t.Run("aborted before activation", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub)
		hub.FailNext(protocol.CommandFlashErase, protocol.ResultFailed)

		require.Error(t, s.Program(ctx, &image.Image{Data: pattern(96, 0)}))
		assert.ErrorIs(t, s.Rollback(ctx, old), updater.ErrInvalidState)
	})

	t.Run("failure is unrecoverable", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub)
		require.NoError(t, s.Program(ctx, &image.Image{Data: pattern(96, 0)}))

		hub.FailNext(protocol.CommandWriteToMemory, protocol.ResultFailed)
		err := s.Rollback(ctx, old)
		require.Error(t, err)
		assert.True(t, errors.Is(err, updater.ErrUnrecoverable))
		assert.Equal(t, updater.StateAborted, s.State())
		assert.False(t, hub.RemoteControl())
	})
}

func TestOpenVMM9(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects signature", func(t *testing.T) {
		hub := simhub.New()
		for _, preamble := range [][]byte{nil, []byte("CARRER"), []byte("PANAMERA")} {
			_, err := updater.OpenVMM9(ctx, hub, preamble, fast()...)
			assert.ErrorIs(t, err, protocol.ErrUnsupportedDevice)
		}
		assert.Empty(t, hub.Commands())
	})

	t.Run("program", func(t *testing.T) {
		hub := simhub.New()
		img := &image.Image{Data: append([]byte(protocol.Signature), pattern(57, 0)...)}

		s, err := updater.OpenVMM9(ctx, hub, img.Preamble(), fast()...)
		require.NoError(t, err)
		assert.Equal(t, protocol.FamilyCarrera, s.Family())
		assert.Equal(t, protocol.VerifyCRC16, s.VerifyMethod())

		require.NoError(t, s.Program(ctx, img))

		log := hub.Log()
		assert.Equal(t, protocol.CommandDisableRc, log[0].Command)
		assert.Equal(t, protocol.CommandEnableRc, log[1].Command)

		var banks []byte
		for _, e := range log {
			if e.Command == protocol.CommandFlashErase {
				banks = append(banks, e.Data[0])
				assert.Equal(t, byte(protocol.EraseAllSectors), e.Data[1])
			}
		}
		assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, banks)

		cmds := hub.Commands()
		assert.Equal(t, 2, count(cmds, protocol.CommandWriteToMemory))
		assert.Equal(t, 1, count(cmds, protocol.CommandCalEepromCheckCrc16))
		assert.Equal(t, img.Data, hub.ActiveImage(img.Size()))
	})
}

func TestFamilyValidation(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()

	for _, f := range []protocol.ChipFamily{protocol.FamilyUnknown, protocol.FamilyCarrera, protocol.ChipFamily(0x42)} {
		_, err := updater.OpenHID(ctx, hub, f, fast()...)
		assert.ErrorIs(t, err, protocol.ErrUnsupportedDevice, f.String())
		_, err = updater.OpenRegister(ctx, hub, f, fast()...)
		assert.ErrorIs(t, err, protocol.ErrUnsupportedDevice, f.String())
	}

	vmm9 := transport.NewHID(simhub.New(), protocol.VMM9Commands)
	_, err := updater.New(vmm9, protocol.FamilyLeaf)
	assert.ErrorIs(t, err, protocol.ErrUnsupportedDevice)

	assert.Empty(t, hub.Commands())
	assert.Panics(t, func() { _, _ = updater.OpenHID(ctx, nil, protocol.FamilyLeaf) })
}

func TestFamilyQuirks(t *testing.T) {
	tests := []struct {
		family protocol.ChipFamily
		write  protocol.Command
		verify protocol.Command
	}{
		{protocol.FamilyTesla, protocol.CommandWriteToEeprom, protocol.CommandCalEepromChecksum},
		{protocol.FamilyLeaf, protocol.CommandWriteToMemory, protocol.CommandCalEepromChecksum},
		{protocol.FamilyPanamera, protocol.CommandWriteToMemory, protocol.CommandCalEepromCheckCrc8},
		{protocol.FamilyCayenne, protocol.CommandWriteToMemory, protocol.CommandCalEepromCheckCrc16},
		{protocol.FamilySpyder, protocol.CommandWriteToMemory, protocol.CommandCalEepromCheckCrc16},
	}

	for _, tt := range tests {
		t.Run(tt.family.String(), func(t *testing.T) {
			hub := mstHub()
			s, err := updater.OpenHID(context.Background(), hub, tt.family, fast()...)
			require.NoError(t, err)
			require.NoError(t, s.Program(context.Background(), &image.Image{Data: pattern(40, 7)}))

			cmds := hub.Commands()
			assert.Equal(t, 2, count(cmds, tt.write))
			assert.Equal(t, 1, count(cmds, tt.verify))
		})
	}

	t.Run("overrides", func(t *testing.T) {
		hub := mstHub()
		s, err := updater.OpenHID(context.Background(), hub, protocol.FamilyTesla, fast(
			updater.WithTarget(updater.TargetMemory),
			updater.WithVerifyMethod(protocol.VerifyCRC16),
		)...)
		require.NoError(t, err)
		require.NoError(t, s.Program(context.Background(), &image.Image{Data: pattern(40, 7)}))

		cmds := hub.Commands()
		assert.Zero(t, count(cmds, protocol.CommandWriteToEeprom))
		assert.Equal(t, 2, count(cmds, protocol.CommandWriteToMemory))
		assert.Equal(t, 1, count(cmds, protocol.CommandCalEepromCheckCrc16))
	})
}

func TestIdentifyAndTemperature(t *testing.T) {
	ctx := context.Background()
	preamble := []byte(protocol.Signature)

	hub := simhub.New(simhub.WithIdentity(0x11, 0x2233), simhub.WithTemperature(51))
	s, err := updater.OpenVMM9(ctx, hub, preamble, fast()...)
	require.NoError(t, err)
	require.NoError(t, s.EnableRemoteControl(ctx))

	id, err := s.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, &updater.Identity{CustomerID: 0x11, BoardID: 0x2233}, id)

	temp, err := s.CoreTemperature(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(51), temp)
	assert.Equal(t, updater.StateRcEnabled, s.State())

	mst := openLeaf(t, mstHub())
	_, err = mst.Identify(ctx)
	assert.Error(t, err)
	_, err = mst.CoreTemperature(ctx)
	assert.Error(t, err)
}

func TestProgramChecksBoardID(t *testing.T) {
	ctx := context.Background()
	data := append([]byte(protocol.Signature), pattern(25, 0)...)

	t.Run("mismatch", func(t *testing.T) {
		hub := simhub.New(simhub.WithIdentity(0x11, 0x2233))
		s, err := updater.OpenVMM9(ctx, hub, data, fast()...)
		require.NoError(t, err)

		err = s.Program(ctx, &image.Image{Data: data, BoardID: 0x9999})
		var be *updater.BoardMismatchError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, uint32(0x9999), be.Expected)
		assert.Equal(t, uint32(0x2233), be.Actual)

		assert.Equal(t, updater.StateAborted, s.State())
		assert.Zero(t, count(hub.Commands(), protocol.CommandFlashErase))
		assert.False(t, hub.RemoteControl())
	})

	t.Run("match", func(t *testing.T) {
		hub := simhub.New(simhub.WithIdentity(0x11, 0x2233))
		s, err := updater.OpenVMM9(ctx, hub, data, fast()...)
		require.NoError(t, err)
		require.NoError(t, s.Program(ctx, &image.Image{Data: data, BoardID: 0x2233}))
		assert.Equal(t, updater.StateActivated, s.State())
	})
}

func TestReadBack(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()
	flash := pattern(100, 0x10)
	hub.Load(flash)
	s := openLeaf(t, hub)

	require.NoError(t, s.EnableRemoteControl(ctx))
	got, err := s.ReadBack(ctx, 5, 70)
	require.NoError(t, err)
	assert.Equal(t, flash[5:75], got)
	assert.Equal(t, updater.StateRcEnabled, s.State())
	assert.Equal(t, 3, count(hub.Commands(), protocol.CommandReadFromMemory))

	_, err = s.ReadBack(ctx, 0, 0)
	assert.Error(t, err)
}

func TestProgramVerifyReadBack(t *testing.T) {
	ctx := context.Background()
	old := pattern(80, 0xA0)
	img := &image.Image{Data: pattern(80, 0)}

	// corrupt every read issued after the first activation
	corrupting := func(hub *simhub.Hub) transport.Executor {
		return &tamperExecutor{
			Executor: transport.NewHID(hub, protocol.RegisterCommands, transport.WithPollInterval(0)),
			cmd:      protocol.CommandReadFromMemory,
			fn: func(p *protocol.Payload) {
				if hub.Activations() == 1 {
					p.Fifo[3] ^= 0xFF
				}
			},
		}
	}

	t.Run("match", func(t *testing.T) {
		hub := mstHub()
		s := openLeaf(t, hub, updater.WithVerifyReadBack(true))
		require.NoError(t, s.Program(ctx, img))
		assert.Equal(t, 3, count(hub.Commands(), protocol.CommandReadFromMemory))
	})

	t.Run("mismatch rolls back", func(t *testing.T) {
		hub := mstHub()
		hub.Load(old)
		s, err := updater.New(corrupting(hub), protocol.FamilyLeaf,
			updater.WithEraseSettle(0), updater.WithBackup(0), updater.WithVerifyReadBack(true))
		require.NoError(t, err)

		err = s.Program(ctx, img)
		var rb *updater.ReadBackMismatchError
		require.True(t, errors.As(err, &rb))
		assert.Equal(t, 3, rb.Offset)
		assert.Equal(t, img.Data[3], rb.Expected)
		assert.Equal(t, img.Data[3]^0xFF, rb.Actual)
		assert.True(t, rb.RolledBack)

		assert.Equal(t, updater.StateRolledBack, s.State())
		assert.Equal(t, old, hub.ActiveImage(len(old)))
		assert.False(t, hub.RemoteControl())
	})

	t.Run("mismatch without backup", func(t *testing.T) {
		hub := mstHub()
		s, err := updater.New(corrupting(hub), protocol.FamilyLeaf,
			updater.WithEraseSettle(0), updater.WithVerifyReadBack(true))
		require.NoError(t, err)

		err = s.Program(ctx, img)
		var rb *updater.ReadBackMismatchError
		require.True(t, errors.As(err, &rb))
		assert.False(t, rb.RolledBack)
		assert.Equal(t, updater.StateAborted, s.State())
	})
}

func TestProgramRejectsImage(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()
	s := openLeaf(t, hub, updater.WithMaxImageSize(16))

	err := s.Program(ctx, &image.Image{Data: pattern(17, 0)})
	var te *updater.ImageTooLargeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 17, te.Size)
	assert.Equal(t, 16, te.Max)

	assert.ErrorIs(t, s.Program(ctx, &image.Image{}), updater.ErrEmptyImage)
	assert.Error(t, s.Program(ctx, nil))

	assert.Empty(t, hub.Commands())
	assert.Equal(t, updater.StateIdle, s.State())
}

func TestCancelBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := mstHub()
	s := openLeaf(t, hub, updater.WithProgressCallback(func(p updater.Progress) {
		if p.Phase == updater.PhaseWriting && p.Current >= 32 {
			cancel()
		}
	}))

	err := s.Program(ctx, &image.Image{Data: pattern(100, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, updater.StateAborted, s.State())
	assert.Equal(t, 1, count(hub.Commands(), protocol.CommandWriteToMemory))
	assert.False(t, hub.RemoteControl())
}

func TestEraseTimeoutAborts(t *testing.T) {
	ctx := context.Background()
	hub := mstHub()
	s := openLeaf(t, hub, updater.WithTransportOptions(
		transport.WithPollAttempts(2),
		transport.WithLongPollAttempts(2),
	))

	require.NoError(t, s.EnableRemoteControl(ctx))
	hub.DropReplies(10)

	err := s.EraseFlash(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, updater.StateAborted, s.State())

	// the release also timed out and is still pending
	assert.True(t, s.RemoteControl())
}

func TestProgressPhases(t *testing.T) {
	var phases []string
	var last updater.Progress

	hub := mstHub()
	s := openLeaf(t, hub, updater.WithProgressCallback(func(p updater.Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		last = p
	}))

	require.NoError(t, s.Program(context.Background(), &image.Image{Data: pattern(64, 0)}))
	assert.Equal(t, []string{
		updater.PhaseEnabling,
		updater.PhaseErasing,
		updater.PhaseWriting,
		updater.PhaseVerifying,
		updater.PhaseActivating,
		updater.PhaseComplete,
	}, phases)
	assert.Equal(t, 100.0, last.Percentage)
}
