package simhub

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-synmst/protocol"
)

// Config holds the simulated hub configuration.
type Config struct {
	// Dialect selects the command table the hub understands
	Dialect protocol.Dialect

	// FlashSize is the size of the flash array
	FlashSize int

	// BankSize is the flash erase granularity
	BankSize int

	// BusyPolls is the number of busy replies before each completion
	BusyPolls int

	CustomerID  uint32
	BoardID     uint32
	Temperature uint32

	Logger logrus.FieldLogger
}

func defaultConfig() Config {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return Config{
		Dialect:     protocol.DialectVMM9,
		FlashSize:   protocol.VMM9FlashSize,
		BankSize:    protocol.VMM9BankSize,
		Temperature: 45,
		Logger:      l,
	}
}

// Option is a functional option for configuring a Hub.
type Option func(*Config)

// WithDialect sets the command table.
func WithDialect(d protocol.Dialect) Option {
	return func(c *Config) {
		c.Dialect = d
	}
}

// WithFlashSize sets the flash size in bytes.
func WithFlashSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FlashSize = n
		}
	}
}

// WithBankSize sets the erase bank size in bytes.
func WithBankSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BankSize = n
		}
	}
}

// WithBusyPolls makes every command report busy n times before completing.
func WithBusyPolls(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.BusyPolls = n
		}
	}
}

// WithIdentity sets the customer and board IDs held in VMM9 memory.
func WithIdentity(customerID, boardID uint32) Option {
	return func(c *Config) {
		c.CustomerID = customerID
		c.BoardID = boardID
	}
}

// WithTemperature sets the chip core temperature in degrees Celsius.
func WithTemperature(celsius uint32) Option {
	return func(c *Config) {
		c.Temperature = celsius
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
