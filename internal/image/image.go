// Package image implements the FirmwareImage collaborator: it reads an
// ELF executable and exposes the RAM- and flash-loadable segments the
// flashing orchestrator streams to the chip.
package image

import (
	"debug/elf"
	"fmt"

	"github.com/bigbag/papyrix-flasher/internal/chip"
	"github.com/bigbag/papyrix-flasher/internal/protocol"
)

// Segment is a contiguous range of bytes destined for one chip address.
type Segment struct {
	Address uint32
	Data    []byte
}

// FirmwareImage wraps a parsed ELF file. FlashSize is settable by the
// caller (the flashing orchestrator fills it in once flash autodetect
// has run). RomSegments does not read it: the segments it returns are
// the same whatever FlashSize holds.
type FirmwareImage struct {
	entry     uint32
	segments  []Segment
	FlashSize chip.FlashSize
}

// FromData parses raw ELF bytes into a FirmwareImage. Only PT_LOAD
// segments with a non-zero file size are kept; segments that are
// entirely BSS (Filesz == 0) carry nothing for the wire protocol to
// send and so are dropped here rather than downstream.
func FromData(data []byte) (*FirmwareImage, error) {
	f, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidElf, err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: not an executable ELF (type %v)", protocol.ErrInvalidElf, f.Type)
	}

	img := &FirmwareImage{entry: uint32(f.Entry)}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("%w: reading segment at 0x%X: %v", protocol.ErrInvalidElf, prog.Vaddr, err)
		}
		img.segments = append(img.segments, Segment{Address: uint32(prog.Vaddr), Data: buf})
	}

	if len(img.segments) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", protocol.ErrInvalidElf)
	}

	return img, nil
}

// Entry returns the ELF entry point.
func (img *FirmwareImage) Entry() uint32 {
	return img.entry
}

// ramRangesFor bounds what counts as chip SRAM per variant; segments
// outside every range belong to flash instead. These mirror the DRAM/IRAM
// windows the ROM itself uses for MEM_BEGIN/MEM_DATA targets.
type addrRange struct{ lo, hi uint32 }

func ramRangesFor(v chip.Variant) []addrRange {
	switch v {
	case chip.Esp8266:
		return []addrRange{{0x3FFE8000, 0x40000000}, {0x40100000, 0x40140000}}
	case chip.Esp32:
		return []addrRange{{0x3FFAE000, 0x40000000}, {0x40080000, 0x400A0000}}
	default:
		// ESP32-S2/S3/C3/C2/C6/H2 share a similar split-IRAM/DRAM window shape.
		return []addrRange{{0x3FC88000, 0x3FD00000}, {0x40380000, 0x40400000}}
	}
}

func inRanges(addr uint32, ranges []addrRange) bool {
	for _, r := range ranges {
		if addr >= r.lo && addr < r.hi {
			return true
		}
	}
	return false
}

// RamSegments returns the segments that load into RAM for v, in file
// order. Returns an error wrapping ErrElfNotRamLoadable if none of the
// image's segments fall in v's RAM windows (for example, a flash-only
// application image passed to load_elf_to_ram).
func (img *FirmwareImage) RamSegments(v chip.Variant) ([]Segment, error) {
	ranges := ramRangesFor(v)
	var out []Segment
	for _, seg := range img.segments {
		if inRanges(seg.Address, ranges) {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return nil, protocol.ErrElfNotRamLoadable
	}
	return out, nil
}

// RomSegments returns every loadable segment from the image, in file
// order — the flash-load path writes the whole image (including its
// RAM-window segments, which the application re-copies at boot) rather
// than filtering like RamSegments does.
func (img *FirmwareImage) RomSegments(v chip.Variant) []Segment {
	return img.segments
}

// HasFlashOnlySegments reports whether any of the image's segments
// fall outside v's RAM windows — such an image can be written to
// flash but not loaded directly into RAM.
func (img *FirmwareImage) HasFlashOnlySegments(v chip.Variant) bool {
	ranges := ramRangesFor(v)
	for _, seg := range img.segments {
		if !inRanges(seg.Address, ranges) {
			return true
		}
	}
	return false
}

func bytesReaderAt(data []byte) *byteReaderAt {
	return &byteReaderAt{data: data}
}

// byteReaderAt adapts a byte slice to io.ReaderAt for debug/elf.NewFile.
type byteReaderAt struct{ data []byte }

func (r *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d", off)
	}
	return n, nil
}
