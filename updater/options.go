package updater

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
	"github.com/moffa90/go-synmst/transport"
)

// Config holds the session configuration.
type Config struct {
	// ProgressCallback is called during session operations to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for session and transport logging (optional)
	Logger logrus.FieldLogger

	// Target overrides the family's write and read commands
	Target Target

	// VerifyMethod overrides the family's verification command (optional)
	VerifyMethod *protocol.VerifyMethod

	// EraseBanks is the number of flash banks erased before writing
	EraseBanks int

	// EraseSettle is the delay after the last bank erase
	EraseSettle time.Duration

	// MaxImageSize is the largest image accepted
	MaxImageSize int

	// ResetBeforeEnable sends an unacknowledged DisableRc before EnableRc
	// to clear a session left open by an earlier host
	ResetBeforeEnable bool

	// Backup reads the current flash before erasing so Program can roll
	// back after a read-back mismatch
	Backup bool

	// BackupSize is the number of bytes backed up; zero means the size of
	// the new image
	BackupSize int

	// VerifyReadBack compares the flash with the image after activation
	VerifyReadBack bool

	// TransportOptions are passed to the transport built by the Open*
	// constructors
	TransportOptions []transport.Option
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Config{
		Logger:       l,
		EraseBanks:   1,
		EraseSettle:  3 * time.Second,
		MaxImageSize: protocol.VMM9FlashSize,
	}
}

func newConfig(preset []Option, opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range preset {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// transportOptions forwards the session logger ahead of the caller's
// transport options.
func (c *Config) transportOptions() []transport.Option {
	return append([]transport.Option{transport.WithLogger(c.Logger)}, c.TransportOptions...)
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	s, err := updater.OpenHID(ctx, dev, protocol.FamilyCayenne,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("%s %.1f%%\n", p.Phase, p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger for session and transport operations.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTarget selects the memory region written and read by the session.
func WithTarget(t Target) Option {
	return func(c *Config) {
		c.Target = t
	}
}

// WithVerifyMethod selects the device-side check run after writing.
//
// Example:
//
//	s, err := updater.OpenHID(ctx, dev, protocol.FamilyLeaf,
//	    updater.WithVerifyMethod(protocol.VerifyCRC16),
//	)
func WithVerifyMethod(m protocol.VerifyMethod) Option {
	return func(c *Config) {
		c.VerifyMethod = &m
	}
}

// WithEraseBanks sets how many flash banks are erased.
func WithEraseBanks(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EraseBanks = n
		}
	}
}

// WithEraseSettle sets the delay after erasing. Zero disables it.
func WithEraseSettle(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.EraseSettle = d
		}
	}
}

// WithMaxImageSize sets the largest image accepted.
func WithMaxImageSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxImageSize = n
		}
	}
}

// WithResetBeforeEnable controls the DisableRc sent ahead of EnableRc.
func WithResetBeforeEnable(enabled bool) Option {
	return func(c *Config) {
		c.ResetBeforeEnable = enabled
	}
}

// WithBackup makes Program read size bytes of the current flash before
// erasing. A size of zero backs up as many bytes as the new image has.
//
// Example:
//
//	s, err := updater.OpenVMM9(ctx, dev, img.Preamble(),
//	    updater.WithBackup(0),
//	    updater.WithVerifyReadBack(true),
//	)
func WithBackup(size int) Option {
	return func(c *Config) {
		c.Backup = true
		if size > 0 {
			c.BackupSize = size
		}
	}
}

// WithVerifyReadBack enables the read-back comparison after activation.
func WithVerifyReadBack(enabled bool) Option {
	return func(c *Config) {
		c.VerifyReadBack = enabled
	}
}

// WithTransportOptions passes options to the transport built by OpenVMM9,
// OpenHID and OpenRegister.
//
// Example:
//
//	s, err := updater.OpenRegister(ctx, aux, protocol.FamilySpyder,
//	    updater.WithTransportOptions(transport.WithPollInterval(20*time.Millisecond)),
//	)
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Config) {
		c.TransportOptions = append(c.TransportOptions, opts...)
	}
}
