package protocol

import (
	"time"
)

// ESP32 ROM bootloader commands
const (
	// Flash commands
	CmdFlashBegin = 0x02
	CmdFlashData  = 0x03
	CmdFlashEnd   = 0x04
	CmdMemBegin   = 0x05
	CmdMemEnd     = 0x06
	CmdMemData    = 0x07
	CmdSync       = 0x08
	CmdWriteReg   = 0x09
	CmdReadReg    = 0x0A

	// SPI flash commands
	CmdSpiSetParams    = 0x0B
	CmdSpiAttach       = 0x0D
	CmdChangeBaud      = 0x0F
	CmdGetSecurityInfo = 0x14

	// Stub-only commands (after stub is loaded)
	CmdEraseFlash  = 0xD0
	CmdEraseRegion = 0xD1
	CmdReadFlash   = 0xD2
	CmdRunUserCode = 0xD3
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Flash parameters
const (
	FlashBlockSize  = 0x400  // write-block size: FLASH_DATA/MEM_DATA chunk
	FlashSectorSize = 0x1000 // erase sector size
	FlashPageSize   = 0x100  // 256 byte pages

	MaxRAMBlockSize = 0x1800 // MEM_DATA chunk size
	SectorsPerBlock = 16     // erase-block granularity on the 8-bit variant
)

// ChecksumInit is the XOR accumulator seed used by *_DATA checksums.
const ChecksumInit byte = 0xEF

// Checksum folds data and the init seed together with XOR, per the
// command-channel checksum law: CHECKSUM_INIT xor fold_xor(data).
func Checksum(data []byte) byte {
	return ChecksumByte(ChecksumInit, data)
}

// ChecksumByte XORs the given running accumulator with every byte in data.
// Used to fold padding bytes into a checksum already seeded over the
// segment's real payload.
func ChecksumByte(acc byte, data []byte) byte {
	for _, b := range data {
		acc ^= b
	}
	return acc
}

// Command default timeouts, per spec: most opcodes use a flat default,
// a handful override it, and the size-proportional flash opcodes scale
// with the declared region size.
const (
	DefaultTimeout   = 3 * time.Second
	SyncTimeout      = 100 * time.Millisecond
	MemEndTimeout    = 50 * time.Millisecond
	EraseRegionPerMB = 30 * time.Second
	EraseWritePerMB  = 40 * time.Second
)

// DefaultTimeoutFor returns the fixed per-opcode timeout, ignoring size
// scaling (used by every opcode except FLASH_BEGIN/FLASH_DATA).
func DefaultTimeoutFor(cmd byte) time.Duration {
	switch cmd {
	case CmdMemEnd:
		return MemEndTimeout
	case CmdSync:
		return SyncTimeout
	default:
		return DefaultTimeout
	}
}

// TimeoutForSize returns the timeout for a size-proportional command
// (FLASH_BEGIN scales with erase-region size, FLASH_DATA with the
// write size), floored at DefaultTimeout. Every other opcode ignores
// size and returns its fixed default.
func TimeoutForSize(cmd byte, size uint32) time.Duration {
	scale := func(perMB time.Duration) time.Duration {
		mb := float64(size) / 1_000_000.0
		scaled := time.Duration(float64(perMB) * mb)
		if scaled < DefaultTimeout {
			return DefaultTimeout
		}
		return scaled
	}
	switch cmd {
	case CmdFlashBegin:
		return scale(EraseRegionPerMB)
	case CmdFlashData:
		return scale(EraseWritePerMB)
	default:
		return DefaultTimeoutFor(cmd)
	}
}

// Error codes from ROM bootloader
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrFlashWriteErr:
		return "flash write error"
	case ErrFlashReadErr:
		return "flash read error"
	case ErrFlashReadLenErr:
		return "flash read length error"
	case ErrDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}
