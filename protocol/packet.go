package protocol

import (
	"encoding/binary"
	"fmt"
)

// Layout selects where the checksum of a Set packet is placed.
type Layout int

const (
	// LayoutCompact places the checksum right after the carried fifo bytes.
	LayoutCompact Layout = iota

	// LayoutFull places the checksum at the last byte of the full packet
	// struct, as if all 32 fifo bytes were carried. The unused fifo tail is
	// zero, so the checksum value is the same as for LayoutCompact.
	LayoutFull
)

func (l Layout) String() string {
	if l == LayoutFull {
		return "full"
	}
	return "compact"
}

// Encode constructs a Set packet that carries p.Length bytes of p.Fifo.
// The command code is stored with the busy bit set; fifo bytes past Length
// are zero. The returned slice is a full ReportSize HID report.
//
// Packet structure:
//
//	[ID][KIND][SIZE][CAP][STATE][CTRL|0x80][STS][OFFSET(4)][LENGTH(4)][FIFO(n)][CHECKSUM]
func Encode(code byte, p Payload, layout Layout) ([]byte, error) {
	if p.Length > FifoSize {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d bytes", ErrInvalidLength, p.Length, FifoSize)
	}
	return encodeSet(code, p, int(p.Length), layout)
}

// EncodeQuery constructs a Set packet that carries no fifo bytes. p.Length is
// the number of bytes requested from the device, as used by read commands.
func EncodeQuery(code byte, p Payload, layout Layout) ([]byte, error) {
	if p.Length > FifoSize {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d bytes", ErrInvalidLength, p.Length, FifoSize)
	}
	return encodeSet(code, p, 0, layout)
}

func encodeSet(code byte, p Payload, carried int, layout Layout) ([]byte, error) {
	if code&CtrlBusyMask != 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrReservedBit, code)
	}

	report := make([]byte, ReportSize)
	report[OffsetID] = ReportID
	report[OffsetKind] = PacketKind
	report[OffsetSize] = byte(PayloadHeaderSize + carried)
	putPayload(report, &p, code|CtrlBusyMask, carried)

	sumAt := OffsetFifo + carried
	if layout == LayoutFull {
		sumAt = OffsetFullSum
	}
	report[sumAt] = calculatePacketChecksum(report[OffsetID+1 : sumAt])

	return report, nil
}

// EncodeReply constructs a Get packet the way the device emits it: all 32
// fifo bytes are carried and the checksum also covers the report ID. Used to
// simulate hardware.
func EncodeReply(p Payload, busy bool) ([]byte, error) {
	if p.Length > FifoSize {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d bytes", ErrInvalidLength, p.Length, FifoSize)
	}
	if p.Ctrl&CtrlBusyMask != 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrReservedBit, p.Ctrl)
	}

	ctrl := p.Ctrl
	if busy {
		ctrl |= CtrlBusyMask
	}

	report := make([]byte, ReportSize)
	report[OffsetID] = ReportID
	report[OffsetKind] = PacketKind
	report[OffsetSize] = PayloadSize
	putPayload(report, &p, ctrl, FifoSize)
	report[OffsetFullSum] = calculatePacketChecksum(report[OffsetID:OffsetFullSum])

	return report, nil
}

func putPayload(buf []byte, p *Payload, ctrl byte, carried int) {
	buf[OffsetCap] = p.Cap
	buf[OffsetState] = p.State
	buf[OffsetCtrl] = ctrl
	buf[OffsetSts] = byte(p.Sts)
	binary.LittleEndian.PutUint32(buf[OffsetOffset:], p.Offset)
	binary.LittleEndian.PutUint32(buf[OffsetLength:], p.Length)
	copy(buf[OffsetFifo:OffsetFifo+carried], p.Fifo[:carried])
}

// Decode validates and parses a Set or Get packet. Trailing report padding
// is ignored.
//
// The checksum is recomputed over the span implied by the size field. A
// packet is accepted if the checksum balances either the bytes after the
// report ID (host convention) or the bytes including it (device
// convention), at either the compact or the full-buffer position.
func Decode(b []byte) (*Packet, error) {
	if len(b) < PacketSize {
		return nil, &DecodeError{Field: "packet", Got: len(b), Want: PacketSize, Err: ErrTruncated}
	}
	if b[OffsetID] != ReportID {
		return nil, &DecodeError{Field: "id", Got: int(b[OffsetID]), Want: ReportID, Err: ErrBadHeader}
	}
	if b[OffsetKind] != PacketKind {
		return nil, &DecodeError{Field: "kind", Got: int(b[OffsetKind]), Want: PacketKind, Err: ErrBadHeader}
	}

	size := int(b[OffsetSize])
	if size < PayloadHeaderSize || size > PayloadSize {
		return nil, &DecodeError{Field: "size", Got: size, Want: size, Err: ErrInvalidSize}
	}

	length := binary.LittleEndian.Uint32(b[OffsetLength:])
	if length > FifoSize {
		return nil, &DecodeError{Field: "length", Got: int(length), Want: FifoSize, Err: ErrInvalidLength}
	}

	carried := size - PayloadHeaderSize
	sumAt, ok := locateChecksum(b, carried)
	if !ok {
		at := OffsetFifo + carried
		return nil, &DecodeError{
			Field: "checksum",
			Got:   int(b[at]),
			Want:  int(calculatePacketChecksum(b[OffsetID+1 : at])),
			Err:   ErrChecksum,
		}
	}

	sts := Result(b[OffsetSts])
	if !sts.Valid() {
		return nil, &DecodeError{Field: "sts", Got: int(sts), Want: int(sts), Err: ErrUnknownResult}
	}

	pkt := &Packet{
		Size:     b[OffsetSize],
		Busy:     b[OffsetCtrl]&CtrlBusyMask != 0,
		Checksum: b[sumAt],
		Payload: Payload{
			Cap:    b[OffsetCap],
			State:  b[OffsetState],
			Ctrl:   b[OffsetCtrl] &^ CtrlBusyMask,
			Sts:    sts,
			Offset: binary.LittleEndian.Uint32(b[OffsetOffset:]),
			Length: length,
		},
	}
	copy(pkt.Payload.Fifo[:carried], b[OffsetFifo:OffsetFifo+carried])

	return pkt, nil
}

func locateChecksum(b []byte, carried int) (int, bool) {
	for _, at := range []int{OffsetFifo + carried, OffsetFullSum} {
		want := calculatePacketChecksum(b[OffsetID+1 : at])
		if b[at] == want || b[at] == want-ReportID {
			return at, true
		}
	}
	return 0, false
}
