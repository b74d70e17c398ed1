// Package chip models the ROM bootloader's chip-variant polymorphism
// as a tagged enumeration plus a capability object per variant, rather
// than branching on a magic byte throughout the protocol engine.
package chip

import (
	"encoding/binary"
	"fmt"
)

// Variant identifies one supported chip family.
type Variant int

const (
	Esp8266 Variant = iota
	Esp32
	Esp32S2
	Esp32S3
	Esp32C3
	Esp32C2
	Esp32C6
	Esp32H2
)

func (v Variant) String() string {
	switch v {
	case Esp8266:
		return "ESP8266"
	case Esp32:
		return "ESP32"
	case Esp32S2:
		return "ESP32-S2"
	case Esp32S3:
		return "ESP32-S3"
	case Esp32C3:
		return "ESP32-C3"
	case Esp32C2:
		return "ESP32-C2"
	case Esp32C6:
		return "ESP32-C6"
	case Esp32H2:
		return "ESP32-H2"
	default:
		return "unknown"
	}
}

// MagicRegAddr is the on-chip address read during chip-detect; its
// value at reset uniquely identifies the attached variant.
const MagicRegAddr uint32 = 0x40001000

var magicToVariant = map[uint32]Variant{
	0xfff0c101: Esp8266,
	0x00f01d83: Esp32,
	0x000007c6: Esp32S2,
	0x9: Esp32S3,
	0x6921506f: Esp32C3,
	0x6f51306f: Esp32C2,
	0x2ce0806f: Esp32C6,
	0xca26cc22: Esp32H2,
}

// FromMagic maps a magic-register value to a known variant.
func FromMagic(word uint32) (Variant, bool) {
	v, ok := magicToVariant[word]
	return v, ok
}

// RegisterMap is the SPI peripheral's register offsets for one
// variant. MosiLength/MisoLength are nil on variants (the 8-bit
// Esp8266) that pack both lengths into Usr1 instead of exposing
// separate registers.
type RegisterMap struct {
	Usr         uint32
	Usr1        uint32
	Usr2        uint32
	Cmd         uint32
	W0          uint32
	MosiLength  *uint32
	MisoLength  *uint32
}

func reg32(v uint32) *uint32 { return &v }

// SpiRegisters returns the SPI peripheral register map for v.
func (v Variant) SpiRegisters() RegisterMap {
	switch v {
	case Esp8266:
		const base = 0x60000200
		return RegisterMap{
			Usr:  base + 0x1c,
			Usr1: base + 0x20,
			Usr2: base + 0x24,
			Cmd:  base + 0x00,
			W0:   base + 0x40,
			// No distinct MOSI/MISO length registers: both pack into Usr1.
		}
	case Esp32:
		const base = 0x3ff42000
		return RegisterMap{
			Usr:        base + 0x1c,
			Usr1:       base + 0x20,
			Usr2:       base + 0x24,
			Cmd:        base + 0x00,
			W0:         base + 0x80,
			MosiLength: reg32(base + 0x28),
			MisoLength: reg32(base + 0x2c),
		}
	default:
		// ESP32-S2/S3/C3/C2/C6/H2 share the newer SPI1 layout.
		const base = 0x60002000
		return RegisterMap{
			Usr:        base + 0x18,
			Usr1:       base + 0x1c,
			Usr2:       base + 0x20,
			Cmd:        base + 0x00,
			W0:         base + 0x98,
			MosiLength: reg32(base + 0x24),
			MisoLength: reg32(base + 0x28),
		}
	}
}

// BeginPayloadSize returns the FLASH_BEGIN/MEM_BEGIN payload length
// for v: the two oldest variants (Esp8266, Esp32) omit the trailing
// "encrypted" word.
func (v Variant) BeginPayloadSize() int {
	if v == Esp8266 || v == Esp32 {
		return 16
	}
	return 20
}

// UsesSpiAttach reports whether flash enable goes through SPI_ATTACH
// (newer variants) rather than a degenerate FLASH_BEGIN call (Esp8266).
func (v Variant) UsesSpiAttach() bool {
	return v != Esp8266
}

// SpiAttachParams is the five 6-bit SPI pin assignment packed per the
// chip's SPI-attach ABI: clk at bit 0, q at 6, d at 12, cs at 18, hd at
// 24.
type SpiAttachParams struct {
	Clk, Q, D, Cs, Hd uint8
}

// DefaultSpiAttachParams is the all-zero ("no-op attach") candidate,
// tried first during SPI autodetect.
var DefaultSpiAttachParams = SpiAttachParams{}

// Esp32PicoD4SpiAttachParams is the ESP32-PICO-D4 module's hard-wired
// pinout, the second candidate TRY_SPI_PARAMS carries.
var Esp32PicoD4SpiAttachParams = SpiAttachParams{Clk: 6, Q: 17, D: 8, Cs: 16, Hd: 11}

// TrySpiParams returns the ordered list of SPI pin mappings the
// autodetect loop should walk.
func TrySpiParams() []SpiAttachParams {
	return []SpiAttachParams{DefaultSpiAttachParams, Esp32PicoD4SpiAttachParams}
}

// Encode packs the pin assignment into its wire form: five zero bytes
// when every pin is zero, otherwise the little-endian 4-byte word.
func (p SpiAttachParams) Encode() []byte {
	packed := uint32(p.Hd)<<24 | uint32(p.Cs)<<18 | uint32(p.D)<<12 | uint32(p.Q)<<6 | uint32(p.Clk)
	if packed == 0 {
		return make([]byte, 5)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, packed)
	return buf
}

// FlashSize is the chip's reported SPI flash capacity, keyed by the
// high octet of a JEDEC-ID read.
type FlashSize byte

const (
	Flash256Kb FlashSize = 0x12
	Flash512Kb FlashSize = 0x13
	Flash1Mb   FlashSize = 0x14
	Flash2Mb   FlashSize = 0x15
	Flash4Mb   FlashSize = 0x16
	Flash8Mb   FlashSize = 0x17
	Flash16Mb  FlashSize = 0x18
	// FlashRetry signals the autodetect loop to try the next SPI pin
	// mapping rather than a recognized capacity.
	FlashRetry FlashSize = 0xFF
)

// Bytes returns the flash size in bytes, or 0 for FlashRetry.
func (f FlashSize) Bytes() uint32 {
	switch f {
	case Flash256Kb:
		return 256 * 1024
	case Flash512Kb:
		return 512 * 1024
	case Flash1Mb:
		return 1 * 1024 * 1024
	case Flash2Mb:
		return 2 * 1024 * 1024
	case Flash4Mb:
		return 4 * 1024 * 1024
	case Flash8Mb:
		return 8 * 1024 * 1024
	case Flash16Mb:
		return 16 * 1024 * 1024
	default:
		return 0
	}
}

// FlashSizeFromJEDEC maps the high octet of a JEDEC-ID read (id >> 16)
// to a FlashSize, per spec: any byte outside the known set is an
// UnsupportedFlash error, not FlashRetry — only 0xFF means "retry".
func FlashSizeFromJEDEC(idHighByte byte) (FlashSize, error) {
	switch FlashSize(idHighByte) {
	case Flash256Kb, Flash512Kb, Flash1Mb, Flash2Mb, Flash4Mb, Flash8Mb, Flash16Mb, FlashRetry:
		return FlashSize(idHighByte), nil
	default:
		return 0, fmt.Errorf("unrecognized flash size byte 0x%02X", idHighByte)
	}
}
