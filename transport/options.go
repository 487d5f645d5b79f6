package transport

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the transport configuration.
type Config struct {
	// Logger receives per-command debug output (optional)
	Logger logrus.FieldLogger

	// PollAttempts is the number of reply polls for ordinary commands
	PollAttempts int

	// LongPollAttempts is the number of reply polls for long-running commands
	// such as erase
	LongPollAttempts int

	// PollInterval is the delay between two polls
	PollInterval time.Duration

	// ReceiveTimeout bounds a single report read
	ReceiveTimeout time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:           discardLogger(),
		PollAttempts:     50,
		LongPollAttempts: 300,
		PollInterval:     100 * time.Millisecond,
		ReceiveTimeout:   5 * time.Second,
	}
}

func (c *Config) attempts(longRunning bool) int {
	if longRunning {
		return c.LongPollAttempts
	}
	return c.PollAttempts
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Option is a functional option for configuring a transport.
type Option func(*Config)

// WithLogger sets the logger for transport operations.
//
// Example:
//
//	t := transport.NewHID(dev, protocol.VMM9Commands, transport.WithLogger(logrus.StandardLogger()))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithPollAttempts sets the poll budget for ordinary commands.
func WithPollAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PollAttempts = n
		}
	}
}

// WithLongPollAttempts sets the poll budget for long-running commands.
func WithLongPollAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.LongPollAttempts = n
		}
	}
}

// WithPollInterval sets the delay between polls. Zero polls back to back.
//
// Example:
//
//	t := transport.NewHID(dev, protocol.VMM9Commands, transport.WithPollInterval(50*time.Millisecond))
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PollInterval = d
		}
	}
}

// WithReceiveTimeout sets the timeout of a single report read.
func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReceiveTimeout = d
		}
	}
}
