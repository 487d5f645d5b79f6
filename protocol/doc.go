// Package protocol implements the Synaptics MST / VMM9 remote-control packet
// format.
//
// Commands and replies travel in a fixed-size HID report. The same logical
// payload is used by the register dialect, where each field maps to a
// register address instead.
//
// # Packet Layout
//
//	[ID][KIND][SIZE][CAP][STATE][CTRL][STS][OFFSET(4)][LENGTH(4)][FIFO(n)][CHECKSUM]
//
// Where:
//   - ID = report ID (0x01)
//   - KIND = 0x00 for both Set (request) and Get (reply)
//   - SIZE = 12 + number of fifo bytes carried
//   - CTRL = command code; bit 0x80 is set by the host and cleared by the
//     device when the command completes
//   - OFFSET, LENGTH = little-endian u32
//   - CHECKSUM = 2's complement of the 8-bit sum of the preceding bytes
//
// Reports are zero padded to ReportSize bytes.
//
// # Encoding and Decoding
//
//	code, _ := protocol.VMM9Commands.Code(protocol.CommandEnableRc)
//	p := protocol.Payload{Length: uint32(len(protocol.UnlockToken))}
//	copy(p.Fifo[:], protocol.UnlockToken)
//	report, err := protocol.Encode(code, p, protocol.LayoutCompact)
//
//	pkt, err := protocol.Decode(reply)
//	if pkt.Payload.Sts != protocol.ResultSuccess {
//	    return &protocol.ProtocolError{Operation: "enable-rc", Result: pkt.Payload.Sts}
//	}
//
// # Command Tables
//
// Command codes differ per dialect; resolve them with RegisterCommands or
// VMM9Commands (or CommandsFor) rather than hard-coding bytes.
package protocol
