// Package flasher drives the connect/detect/program state machine on
// top of internal/protocol's command channel: sync handshake, chip and
// SPI flash autodetect, and RAM/flash segment streaming.
package flasher

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bigbag/papyrix-flasher/internal/chip"
	"github.com/bigbag/papyrix-flasher/internal/image"
	"github.com/bigbag/papyrix-flasher/internal/protocol"
	"github.com/bigbag/papyrix-flasher/internal/serial"
)

// Progress reports flashing activity to an observer (a CLI progress
// bar, typically); the protocol layer itself has no notion of it.
type Progress struct {
	SegmentStarted func(addr uint32, totalChunks int)
	ChunkWritten   func()
	SegmentDone    func(addr uint32)
}

// Transport is the serial-port surface a Flasher needs: the command
// channel's wire-level Transport plus the out-of-band signaling
// (reset, hard reset, in-place baud change) that only the port itself
// can do. *serial.Port satisfies this; tests substitute a scripted
// fake.
type Transport interface {
	protocol.Transport
	ResetToBootloader() error
	HardReset() error
	SetBaudRate(baud int) error
	Close() error
}

var _ Transport = (*serial.Port)(nil)

// Flasher owns one serial port and the ROM bootloader session running
// over it: sync, chip/flash autodetect, and segment streaming.
type Flasher struct {
	port       Transport
	channel    *protocol.Channel
	variant    chip.Variant
	flashSize  chip.FlashSize
	spiParams  chip.SpiAttachParams
	targetBaud int
}

// New creates a Flasher for port. targetBaud of 0 means "stay at
// whatever baud the port was opened with" — ChangeBaud is a no-op.
func New(port Transport, targetBaud int) *Flasher {
	return &Flasher{
		port:       port,
		channel:    protocol.NewChannel(port),
		targetBaud: targetBaud,
	}
}

// Connect resets the chip into the ROM bootloader, syncs, detects the
// chip variant and SPI flash parameters, and optionally raises the
// baud rate.
func (f *Flasher) Connect() error {
	if err := f.port.ResetToBootloader(); err != nil {
		return fmt.Errorf("reset into bootloader: %w", err)
	}

	if err := f.startConnection(); err != nil {
		return err
	}

	if err := f.chipDetect(); err != nil {
		return err
	}

	if err := f.spiAutodetect(); err != nil {
		return err
	}

	if f.targetBaud > 0 {
		if err := f.ChangeBaud(f.targetBaud); err != nil {
			return err
		}
	}

	return nil
}

// Chip returns the detected chip variant.
func (f *Flasher) Chip() chip.Variant {
	return f.variant
}

// FlashSize returns the detected SPI flash capacity.
func (f *Flasher) FlashSize() chip.FlashSize {
	return f.flashSize
}

// Close releases the underlying serial port.
func (f *Flasher) Close() error {
	return f.port.Close()
}

// startConnection retries the sync storm up to ten times, flushing the
// input buffer before each attempt, and pins the transport's standing
// read timeout back to the command default once sync succeeds.
func (f *Flasher) startConnection() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if err := f.channel.Flush(); err != nil {
			lastErr = err
			continue
		}
		if err := f.sync(); err != nil {
			lastErr = err
			continue
		}
		return f.port.SetReadTimeout(protocol.DefaultTimeout)
	}
	return fmt.Errorf("%w: %v", protocol.ErrConnectionFailed, lastErr)
}

// sync sends one SYNC request, reads up to 100 response frames under a
// 100ms scoped timeout looking for the first SYNC match, then drains
// up to 700 further stray echoes at the same short timeout so a quiet
// transport can't block the drain indefinitely.
func (f *Flasher) sync() error {
	req := protocol.NewRequest(protocol.CmdSync, protocol.SyncData())
	if err := f.channel.WriteCommand(req); err != nil {
		return err
	}

	err := f.channel.WithTimeout(protocol.SyncTimeout, func() error {
		for i := 0; i < 100; i++ {
			resp, err := f.channel.ReadOne(protocol.SyncTimeout)
			if err != nil {
				continue
			}
			if resp.Command != protocol.CmdSync {
				continue
			}
			if !resp.IsSuccess() {
				return &protocol.RomError{Command: protocol.CmdSync, Status: resp.Status, Code: resp.Error}
			}
			return nil
		}
		return protocol.ErrTimeout
	})
	if err != nil {
		return err
	}

	for i := 0; i < 700; i++ {
		if _, err := f.channel.ReadOne(protocol.SyncTimeout); err != nil {
			break
		}
	}

	return nil
}

// chipDetect reads the magic register and resolves it to a variant.
func (f *Flasher) chipDetect() error {
	value, err := f.readReg(chip.MagicRegAddr)
	if err != nil {
		return err
	}
	v, ok := chip.FromMagic(value)
	if !ok {
		return fmt.Errorf("%w: 0x%08X", protocol.ErrUnrecognizedChip, value)
	}
	f.variant = v
	return nil
}

func (f *Flasher) readReg(addr uint32) (uint32, error) {
	req := protocol.NewRequest(protocol.CmdReadReg, protocol.ReadRegPayload(addr))
	return f.channel.Command(req, protocol.DefaultTimeout)
}

func (f *Flasher) writeReg(addr, value uint32, mask *uint32) error {
	req := protocol.NewRequest(protocol.CmdWriteReg, protocol.WriteRegPayload(addr, value, mask))
	_, err := f.channel.Command(req, protocol.DefaultTimeout)
	return err
}

// enableFlash issues the variant-appropriate command to put the ROM
// into flash-command mode: a degenerate FLASH_BEGIN on the 8-bit
// variant, SPI_ATTACH everywhere else.
func (f *Flasher) enableFlash(params chip.SpiAttachParams) error {
	if !f.variant.UsesSpiAttach() {
		req := protocol.NewRequest(protocol.CmdFlashBegin, protocol.BeginPayload(0, 0, protocol.FlashBlockSize, 0, false))
		_, err := f.channel.Command(req, protocol.DefaultTimeout)
		return err
	}

	req := protocol.NewRequest(protocol.CmdSpiAttach, params.Encode())
	_, err := f.channel.Command(req, protocol.DefaultTimeout)
	return err
}

// spiCommand drives the SPI master peripheral via register writes
// (there is no dedicated ROM opcode for this). It snapshots usr/usr2
// before mutating them and restores the snapshot on every exit path,
// success or failure.
func (f *Flasher) spiCommand(cmd byte, data []byte, readBits int) (uint32, error) {
	if readBits >= 32 {
		return 0, fmt.Errorf("spiCommand: readBits must be < 32, got %d", readBits)
	}
	if len(data) >= 64 {
		return 0, fmt.Errorf("spiCommand: data length must be < 64, got %d", len(data))
	}

	regs := f.variant.SpiRegisters()

	oldUsr, err := f.readReg(regs.Usr)
	if err != nil {
		return 0, err
	}
	oldUsr2, err := f.readReg(regs.Usr2)
	if err != nil {
		return 0, err
	}
	restore := func() {
		f.writeReg(regs.Usr, oldUsr, nil)
		f.writeReg(regs.Usr2, oldUsr2, nil)
	}

	flags := uint32(1) << 31
	if len(data) > 0 {
		flags |= 1 << 27
	}
	if readBits > 0 {
		flags |= 1 << 28
	}

	if err := f.writeReg(regs.Usr, flags, nil); err != nil {
		restore()
		return 0, err
	}
	if err := f.writeReg(regs.Usr2, (7<<28)|uint32(cmd), nil); err != nil {
		restore()
		return 0, err
	}

	if regs.MosiLength != nil && regs.MisoLength != nil {
		var mosiLen uint32
		if len(data) > 0 {
			mosiLen = uint32(len(data))*8 - 1
		}
		var misoLen uint32
		if readBits > 0 {
			misoLen = uint32(readBits) - 1
		}
		if err := f.writeReg(*regs.MosiLength, mosiLen, nil); err != nil {
			restore()
			return 0, err
		}
		if err := f.writeReg(*regs.MisoLength, misoLen, nil); err != nil {
			restore()
			return 0, err
		}
	} else {
		var mosiMask uint32
		if len(data) > 0 {
			mosiMask = uint32(len(data))*8 - 1
		}
		var misoMask uint32
		if readBits > 0 {
			misoMask = uint32(readBits) - 1
		}
		if err := f.writeReg(regs.Usr1, misoMask<<8|mosiMask<<17, nil); err != nil {
			restore()
			return 0, err
		}
	}

	if len(data) == 0 {
		if err := f.writeReg(regs.W0, 0, nil); err != nil {
			restore()
			return 0, err
		}
	} else {
		for i := 0; i < len(data); i += 4 {
			end := i + 4
			if end > len(data) {
				end = len(data)
			}
			word := make([]byte, 4)
			copy(word, data[i:end])
			if err := f.writeReg(regs.W0+uint32(i), binary.LittleEndian.Uint32(word), nil); err != nil {
				restore()
				return 0, err
			}
		}
	}

	if err := f.writeReg(regs.Cmd, 1<<18, nil); err != nil {
		restore()
		return 0, err
	}

	completed := false
	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		val, err := f.readReg(regs.Usr)
		if err != nil {
			restore()
			return 0, err
		}
		if val&(1<<18) == 0 {
			completed = true
			break
		}
	}
	if !completed {
		restore()
		return 0, protocol.ErrTimeout
	}

	result, err := f.readReg(regs.W0)
	restore()
	if err != nil {
		return 0, err
	}
	return result, nil
}

// flashDetect reads the flash's JEDEC ID and maps its high octet to a
// FlashSize.
func (f *Flasher) flashDetect() (chip.FlashSize, error) {
	result, err := f.spiCommand(0x9F, nil, 24)
	if err != nil {
		return 0, err
	}
	return chip.FlashSizeFromJEDEC(byte(result >> 16))
}

// spiAutodetect walks the ordered SPI pin-mapping candidates, adopting
// the first one that both enables flash mode and reads back a
// recognized flash size.
func (f *Flasher) spiAutodetect() error {
	var lastSize chip.FlashSize
	for _, params := range chip.TrySpiParams() {
		if err := f.enableFlash(params); err != nil {
			continue
		}
		size, err := f.flashDetect()
		if err != nil {
			continue
		}
		lastSize = size
		if size != chip.FlashRetry {
			f.spiParams = params
			f.flashSize = size
			return nil
		}
	}
	return &protocol.UnsupportedFlashError{Code: byte(lastSize)}
}

// ChangeBaud raises the link speed, skipped for the 8-bit variant
// (which doesn't support it) and for any request at or below the ROM's
// fixed sync baud.
func (f *Flasher) ChangeBaud(speed int) error {
	if !f.variant.UsesSpiAttach() || speed <= protocol.RomBaudRate {
		return nil
	}

	req := protocol.NewRequest(protocol.CmdChangeBaud, protocol.ChangeBaudData(uint32(speed)))
	if err := f.channel.WithTimeout(protocol.DefaultTimeout, func() error {
		_, err := f.channel.Command(req, protocol.DefaultTimeout)
		return err
	}); err != nil {
		return err
	}

	if err := f.port.SetBaudRate(speed); err != nil {
		return fmt.Errorf("set baud rate to %d: %w", speed, err)
	}

	time.Sleep(50 * time.Millisecond)
	return f.channel.Flush()
}

// LoadElfToRAM parses elfData and streams its RAM-loadable segments
// over MEM_BEGIN/MEM_DATA/MEM_END, then jumps to the image's entry
// point. Rejects images that carry flash-only segments.
func (f *Flasher) LoadElfToRAM(elfData []byte, progress *Progress) error {
	img, err := image.FromData(elfData)
	if err != nil {
		return err
	}

	if img.HasFlashOnlySegments(f.variant) {
		return protocol.ErrElfNotRamLoadable
	}

	segments, err := img.RamSegments(f.variant)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		padding := (4 - len(seg.Data)%4) % 4
		blockCount := (len(seg.Data) + padding + maxRAMBlockSize - 1) / maxRAMBlockSize

		beginReq := protocol.NewRequest(protocol.CmdMemBegin,
			protocol.BeginPayload(uint32(len(seg.Data)), uint32(blockCount), maxRAMBlockSize, seg.Address, f.variant.BeginPayloadSize() == 20))
		timeout := protocol.TimeoutForSize(protocol.CmdMemBegin, uint32(len(seg.Data)))
		if _, err := f.channel.Command(beginReq, timeout); err != nil {
			return err
		}

		if progress != nil && progress.SegmentStarted != nil {
			progress.SegmentStarted(seg.Address, blockCount)
		}

		for i := 0; i*maxRAMBlockSize < len(seg.Data); i++ {
			start := i * maxRAMBlockSize
			end := start + maxRAMBlockSize
			if end > len(seg.Data) {
				end = len(seg.Data)
			}
			blockPadding := 0
			if i == blockCount-1 {
				blockPadding = padding
			}
			if err := f.sendBlock(protocol.CmdMemData, seg.Data[start:end], uint32(i), blockPadding, 0x00); err != nil {
				return err
			}
			if progress != nil && progress.ChunkWritten != nil {
				progress.ChunkWritten()
			}
		}

		if progress != nil && progress.SegmentDone != nil {
			progress.SegmentDone(seg.Address)
		}
	}

	endReq := protocol.NewRequest(protocol.CmdMemEnd, protocol.EntryPayload(img.Entry()))
	return f.channel.WithTimeout(protocol.MemEndTimeout, func() error {
		return f.channel.WriteCommand(endReq)
	})
}

const maxRAMBlockSize = 0x1800

// LoadElfToFlash parses elfData, optionally prepends a bootloader
// image and partition table, and streams every segment over
// FLASH_BEGIN/FLASH_DATA/FLASH_END before resetting the chip into the
// application.
func (f *Flasher) LoadElfToFlash(elfData, bootloader, partitionTable []byte, progress *Progress) error {
	if err := f.enableFlash(f.spiParams); err != nil {
		return err
	}

	img, err := image.FromData(elfData)
	if err != nil {
		return err
	}
	img.FlashSize = f.flashSize

	segments := flashSegmentsFor(img, f.variant, bootloader, partitionTable)

	for _, seg := range segments {
		blockCount := (len(seg.Data) + protocol.FlashBlockSize - 1) / protocol.FlashBlockSize

		var eraseSize uint32
		if f.variant == chip.Esp8266 {
			eraseSize = protocol.EraseSizeHeuristic(seg.Address, uint32(len(seg.Data)))
		} else {
			eraseSize = uint32(len(seg.Data))
		}

		beginReq := protocol.NewRequest(protocol.CmdFlashBegin,
			protocol.BeginPayload(eraseSize, uint32(blockCount), protocol.FlashBlockSize, seg.Address, f.variant.BeginPayloadSize() == 20))
		timeout := protocol.TimeoutForSize(protocol.CmdFlashBegin, eraseSize)
		if _, err := f.channel.Command(beginReq, timeout); err != nil {
			return err
		}

		if progress != nil && progress.SegmentStarted != nil {
			progress.SegmentStarted(seg.Address, blockCount)
		}

		for i := 0; i*protocol.FlashBlockSize < len(seg.Data); i++ {
			start := i * protocol.FlashBlockSize
			end := start + protocol.FlashBlockSize
			if end > len(seg.Data) {
				end = len(seg.Data)
			}
			block := seg.Data[start:end]
			padding := protocol.FlashBlockSize - len(block)
			if err := f.sendBlock(protocol.CmdFlashData, block, uint32(i), padding, 0xFF); err != nil {
				return err
			}
			if progress != nil && progress.ChunkWritten != nil {
				progress.ChunkWritten()
			}
		}

		if progress != nil && progress.SegmentDone != nil {
			progress.SegmentDone(seg.Address)
		}
	}

	if err := f.channel.WithTimeout(protocol.DefaultTimeout, func() error {
		_, err := f.channel.Command(protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(false)), protocol.DefaultTimeout)
		return err
	}); err != nil {
		return err
	}

	return f.port.HardReset()
}

// flashSegmentsFor assembles the flash-address layout: an optional
// bootloader at 0x0, an optional partition table at 0x8000, and the
// application image's own segments at their natural addresses.
func flashSegmentsFor(img *image.FirmwareImage, v chip.Variant, bootloader, partitionTable []byte) []image.Segment {
	var out []image.Segment
	if len(bootloader) > 0 {
		out = append(out, image.Segment{Address: protocol.BootloaderAddress, Data: bootloader})
	}
	if len(partitionTable) > 0 {
		out = append(out, image.Segment{Address: protocol.PartitionsAddress, Data: partitionTable})
	}
	out = append(out, img.RomSegments(v)...)
	return out
}

// sendBlock streams one FLASH_DATA/MEM_DATA chunk with its checksum.
func (f *Flasher) sendBlock(cmd byte, data []byte, seq uint32, padding int, paddingByte byte) error {
	payload := protocol.BlockPayload(data, seq, padding, paddingByte)
	checksum := protocol.BlockChecksum(data, padding, paddingByte)
	req := protocol.NewChecksummedRequest(cmd, payload, checksum)
	timeout := protocol.TimeoutForSize(cmd, uint32(len(data)))
	_, err := f.channel.Command(req, timeout)
	return err
}
