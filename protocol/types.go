package protocol

import (
	"fmt"
	"strings"
)

// ChipFamily identifies the hub silicon generation and its command-set quirks.
type ChipFamily uint8

// Chip families. Values match the device-reported family IDs.
const (
	FamilyTesla    ChipFamily = 0
	FamilyLeaf     ChipFamily = 1
	FamilyPanamera ChipFamily = 2
	FamilyCayenne  ChipFamily = 3
	FamilySpyder   ChipFamily = 4

	// FamilyCarrera is resolved in-band from a VMM9 signature
	FamilyCarrera ChipFamily = 5

	FamilyUnknown ChipFamily = 0xFF
)

var familyNames = map[ChipFamily]string{
	FamilyTesla:    "tesla",
	FamilyLeaf:     "leaf",
	FamilyPanamera: "panamera",
	FamilyCayenne:  "cayenne",
	FamilySpyder:   "spyder",
	FamilyCarrera:  "carrera",
	FamilyUnknown:  "unknown",
}

func (f ChipFamily) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(0x%02X)", uint8(f))
}

// ParseChipFamily resolves a family from its name (case-insensitive).
func ParseChipFamily(name string) (ChipFamily, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range familyNames {
		if n == name && f != FamilyUnknown {
			return f, nil
		}
	}
	return FamilyUnknown, fmt.Errorf("unknown chip family %q", name)
}

// Dialect is one of the two command/transport conventions.
type Dialect int

const (
	// DialectRegister is the Synaptics MST command table, carried either as
	// discrete register accesses or inside the HID envelope.
	DialectRegister Dialect = iota

	// DialectVMM9 is the CARRERA command table inside the HID envelope.
	DialectVMM9
)

func (d Dialect) String() string {
	switch d {
	case DialectRegister:
		return "register"
	case DialectVMM9:
		return "vmm9"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Command is an abstract remote-control operation. The byte sent on the wire
// comes from a CommandSet.
type Command int

const (
	CommandEnableRc Command = iota + 1
	CommandDisableRc
	CommandGetID
	CommandGetVersion
	CommandFlashMapping
	CommandEnableFlashChipErase
	CommandCalEepromChecksum
	CommandFlashErase
	CommandCalEepromCheckCrc8
	CommandCalEepromCheckCrc16
	CommandActivateFirmware
	CommandWriteToEeprom
	CommandWriteToMemory
	CommandWriteToTxDpcd
	CommandWriteToTxDpcdTx1
	CommandWriteToTxDpcdTx2
	CommandWriteToTxDpcdTx3
	CommandReadFromEeprom
	CommandReadFromMemory
	CommandReadFromTxDpcd
	CommandReadFromTxDpcdTx1
	CommandReadFromTxDpcdTx2
	CommandReadFromTxDpcdTx3
	CommandGetChipCoreTemperature
)

var commandNames = map[Command]string{
	CommandEnableRc:               "enable-rc",
	CommandDisableRc:              "disable-rc",
	CommandGetID:                  "get-id",
	CommandGetVersion:             "get-version",
	CommandFlashMapping:           "flash-mapping",
	CommandEnableFlashChipErase:   "enable-flash-chip-erase",
	CommandCalEepromChecksum:      "cal-eeprom-checksum",
	CommandFlashErase:             "flash-erase",
	CommandCalEepromCheckCrc8:     "cal-eeprom-check-crc8",
	CommandCalEepromCheckCrc16:    "cal-eeprom-check-crc16",
	CommandActivateFirmware:       "activate-firmware",
	CommandWriteToEeprom:          "write-to-eeprom",
	CommandWriteToMemory:          "write-to-memory",
	CommandWriteToTxDpcd:          "write-to-tx-dpcd",
	CommandWriteToTxDpcdTx1:       "write-to-tx-dpcd-tx1",
	CommandWriteToTxDpcdTx2:       "write-to-tx-dpcd-tx2",
	CommandWriteToTxDpcdTx3:       "write-to-tx-dpcd-tx3",
	CommandReadFromEeprom:         "read-from-eeprom",
	CommandReadFromMemory:         "read-from-memory",
	CommandReadFromTxDpcd:         "read-from-tx-dpcd",
	CommandReadFromTxDpcdTx1:      "read-from-tx-dpcd-tx1",
	CommandReadFromTxDpcdTx2:      "read-from-tx-dpcd-tx2",
	CommandReadFromTxDpcdTx3:      "read-from-tx-dpcd-tx3",
	CommandGetChipCoreTemperature: "get-chip-core-temperature",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Result is the status byte returned by the device in every reply.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultInvalid
	ResultUnsupported
	ResultFailed
	ResultDisabled
	ResultConfigureSignFailed
	ResultFirmwareSignFailed
	ResultRollbackFailed
)

var resultNames = map[Result]string{
	ResultSuccess:             "success",
	ResultInvalid:             "invalid",
	ResultUnsupported:         "unsupported",
	ResultFailed:              "failed",
	ResultDisabled:            "disabled",
	ResultConfigureSignFailed: "configure-sign-failed",
	ResultFirmwareSignFailed:  "firmware-sign-failed",
	ResultRollbackFailed:      "rollback-failed",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown result 0x%02X", uint8(r))
}

// Valid reports whether r is a result code the device is known to send.
func (r Result) Valid() bool {
	_, ok := resultNames[r]
	return ok
}

// Payload is the logical command descriptor shared by both dialects.
type Payload struct {
	// Cap holds capability flags
	Cap byte

	// State holds progress/ready flags
	State byte

	// Ctrl is the command byte without the busy bit
	Ctrl byte

	// Sts is the device result; zero on requests
	Sts Result

	// Offset is the target byte address
	Offset uint32

	// Length is the byte count carried or requested, at most FifoSize
	Length uint32

	// Fifo is the data region; bytes past Length are zero on the wire
	Fifo [FifoSize]byte
}

// Data returns the valid prefix of the fifo.
func (p *Payload) Data() []byte {
	n := p.Length
	if n > FifoSize {
		n = FifoSize
	}
	return p.Fifo[:n]
}

// Packet is a decoded Set or Get packet.
type Packet struct {
	// Size is the number of meaningful payload bytes (header + valid fifo)
	Size byte

	// Payload is the decoded payload
	Payload Payload

	// Busy is the ctrl high bit: set on requests and on replies for commands
	// the device is still processing
	Busy bool

	// Checksum is the checksum byte as received
	Checksum byte
}
