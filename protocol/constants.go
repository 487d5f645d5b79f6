package protocol

// Packet framing constants for the remote-control HID envelope.
const (
	// ReportID is the fixed first byte of every Set and Get packet (0x01)
	ReportID = 0x01

	// PacketKind is the fixed second byte; 0x00 for both request and reply
	PacketKind = 0x00

	// FifoSize is the size of the data-carrying region of a payload
	FifoSize = 32

	// PayloadHeaderSize is the number of payload bytes before the fifo:
	// CAP(1) + STATE(1) + CTRL(1) + STS(1) + OFFSET(4) + LENGTH(4)
	PayloadHeaderSize = 12

	// PayloadSize is the full payload size including the fifo
	PayloadSize = PayloadHeaderSize + FifoSize

	// PacketHeaderSize is ID(1) + KIND(1) + SIZE(1)
	PacketHeaderSize = 3

	// PacketSize is the full packet struct size: header + payload + checksum
	PacketSize = PacketHeaderSize + PayloadSize + 1

	// ReportSize is the HID report size; packets are zero padded to it
	ReportSize = 62

	// CtrlBusyMask is set on the ctrl byte of every request and cleared by
	// the device once the command has completed.
	CtrlBusyMask = 0x80
)

// Byte offsets of each field within a packet.
const (
	OffsetID      = 0
	OffsetKind    = 1
	OffsetSize    = 2
	OffsetCap     = 3
	OffsetState   = 4
	OffsetCtrl    = 5
	OffsetSts     = 6
	OffsetOffset  = 7
	OffsetLength  = 11
	OffsetFifo    = 15
	OffsetFullSum = PacketSize - 1
)

// Register addresses used by the direct-register dialect.
const (
	RegCap    = 0x4B0
	RegState  = 0x4B1
	RegCmd    = 0x4B2
	RegResult = 0x4B3
	RegLen    = 0x4B8
	RegOffset = 0x4BC
	RegData   = 0x4C0
)

// Signature is the preamble every VMM9 (CARRERA) image starts with.
const Signature = "CARRERA"

// UnlockToken is the payload EnableRc must carry to unlock remote control.
var UnlockToken = []byte{'P', 'R', 'I', 'U', 'S'}

// VMM9 memory locations read during identification.
const (
	MemCustomerID = 0x9000024E
	MemBoardID    = 0x9000024F
)

// VMM9 flash geometry and erase arguments.
const (
	VMM9FlashSize = 0x80000
	VMM9BankSize  = 0x10000

	// EraseAllSectors is the second FlashErase argument: erase the whole bank
	EraseAllSectors = 0x03
)
