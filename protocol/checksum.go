package protocol

// Checksum algorithm constants.
const (
	// CRC8Polynomial is the CRC-8 polynomial used by CalEepromCheckCrc8
	CRC8Polynomial = 0x07

	// CRC16Polynomial is the CRC-16 polynomial used by CalEepromCheckCrc16
	CRC16Polynomial = 0x8005

	// CRC16HighBitMask is the high bit mask for CRC-16 calculations
	CRC16HighBitMask = 0x8000

	// BitsPerByte is the number of bits per byte
	BitsPerByte = 8
)

// sum8 returns the mod-256 sum of data.
func sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// calculatePacketChecksum computes the checksum byte of a packet.
// The span starts after the report ID and ends just before the checksum
// position; the result is the 2's complement of the 8-bit sum so that the
// span plus the checksum sums to zero.
func calculatePacketChecksum(span []byte) byte {
	return ^sum8(span) + 1
}

// Sum32 is the additive checksum computed by CalEepromChecksum.
func Sum32(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// CRC8 computes the CRC-8 (poly 0x07, init 0, no reflection) that
// CalEepromCheckCrc8 reports.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < BitsPerByte; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ CRC8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16 computes the MSB-first CRC-16 (poly 0x8005, no reflection, no final
// XOR) that CalEepromCheckCrc16 reports. Pass the previous value as init to
// continue a running CRC over several buffers; start with zero.
func CRC16(data []byte, init uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b) << BitsPerByte
		for i := 0; i < BitsPerByte; i++ {
			if crc&CRC16HighBitMask != 0 {
				crc = (crc << 1) ^ CRC16Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// VerifyMethod selects which device-side integrity check confirms a write.
type VerifyMethod int

const (
	VerifyChecksum VerifyMethod = iota
	VerifyCRC8
	VerifyCRC16
)

func (m VerifyMethod) String() string {
	switch m {
	case VerifyChecksum:
		return "checksum"
	case VerifyCRC8:
		return "crc8"
	case VerifyCRC16:
		return "crc16"
	default:
		return "unknown"
	}
}

// Command returns the command that asks the device for this check.
func (m VerifyMethod) Command() Command {
	switch m {
	case VerifyCRC8:
		return CommandCalEepromCheckCrc8
	case VerifyCRC16:
		return CommandCalEepromCheckCrc16
	default:
		return CommandCalEepromChecksum
	}
}

// Compute returns the value the device is expected to report for data.
func (m VerifyMethod) Compute(data []byte) uint32 {
	switch m {
	case VerifyCRC8:
		return uint32(CRC8(data))
	case VerifyCRC16:
		return uint32(CRC16(data, 0))
	default:
		return Sum32(data)
	}
}

// Mask returns the significant bits of a device-reported value.
func (m VerifyMethod) Mask() uint32 {
	switch m {
	case VerifyCRC8:
		return 0xFF
	case VerifyCRC16:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}
