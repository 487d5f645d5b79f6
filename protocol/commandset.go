package protocol

import "fmt"

// CommandSet maps abstract commands to the bytes a dialect puts on the wire.
type CommandSet interface {
	// Dialect returns the dialect the table belongs to
	Dialect() Dialect

	// Code returns the wire byte for c, or false if the dialect lacks it
	Code(c Command) (byte, bool)

	// Lookup returns the command a wire byte stands for
	Lookup(code byte) (Command, bool)
}

type commandTable struct {
	dialect Dialect
	codes   map[Command]byte
	reverse map[byte]Command
}

func newCommandTable(d Dialect, codes map[Command]byte) *commandTable {
	t := &commandTable{
		dialect: d,
		codes:   codes,
		reverse: make(map[byte]Command, len(codes)),
	}
	for c, b := range codes {
		if b&CtrlBusyMask != 0 {
			panic(fmt.Sprintf("command %s uses reserved bit: 0x%02X", c, b))
		}
		t.reverse[b] = c
	}
	return t
}

func (t *commandTable) Dialect() Dialect { return t.dialect }

func (t *commandTable) Code(c Command) (byte, bool) {
	b, ok := t.codes[c]
	return b, ok
}

func (t *commandTable) Lookup(code byte) (Command, bool) {
	c, ok := t.reverse[code&^CtrlBusyMask]
	return c, ok
}

// Codes shared by both tables.
var baseCodes = map[Command]byte{
	CommandEnableRc:             0x01,
	CommandDisableRc:            0x02,
	CommandGetID:                0x03,
	CommandGetVersion:           0x04,
	CommandFlashMapping:         0x07,
	CommandEnableFlashChipErase: 0x08,
	CommandCalEepromChecksum:    0x11,
	CommandFlashErase:           0x14,
	CommandCalEepromCheckCrc8:   0x16,
	CommandCalEepromCheckCrc16:  0x17,
	CommandActivateFirmware:     0x18,
	CommandWriteToEeprom:        0x20,
	CommandWriteToMemory:        0x21,
	CommandWriteToTxDpcd:        0x22,
	CommandWriteToTxDpcdTx1:     0x23,
	CommandWriteToTxDpcdTx2:     0x24,
	CommandWriteToTxDpcdTx3:     0x25,
	CommandReadFromEeprom:       0x30,
	CommandReadFromMemory:       0x31,
	CommandReadFromTxDpcd:       0x32,
	CommandReadFromTxDpcdTx1:    0x33,
	CommandReadFromTxDpcdTx2:    0x34,
	CommandReadFromTxDpcdTx3:    0x35,
}

func withCodes(base map[Command]byte, extra map[Command]byte) map[Command]byte {
	out := make(map[Command]byte, len(base)+len(extra))
	for c, b := range base {
		out[c] = b
	}
	for c, b := range extra {
		out[c] = b
	}
	return out
}

var (
	// RegisterCommands is the Synaptics MST (UPDC) command table.
	RegisterCommands CommandSet = newCommandTable(DialectRegister, withCodes(baseCodes, nil))

	// VMM9Commands is the VMM9 (CARRERA) command table.
	VMM9Commands CommandSet = newCommandTable(DialectVMM9, withCodes(baseCodes, map[Command]byte{
		CommandGetChipCoreTemperature: 0x64,
	}))
)

// CommandsFor returns the command table of a dialect.
func CommandsFor(d Dialect) CommandSet {
	if d == DialectVMM9 {
		return VMM9Commands
	}
	return RegisterCommands
}
