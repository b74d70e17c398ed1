package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can match with errors.Is, wrapped with
// %w by whichever layer detects the condition.
var (
	ErrTimeout            = errors.New("protocol: timed out waiting for response")
	ErrConnectionFailed    = errors.New("protocol: failed to establish connection")
	ErrUnrecognizedChip    = errors.New("protocol: unrecognized chip magic value")
	ErrInvalidElf          = errors.New("protocol: invalid ELF image")
	ErrElfNotRamLoadable   = errors.New("protocol: ELF image cannot be loaded into RAM")
)

// RomError is returned when the ROM bootloader answers a command with
// a non-zero status byte. Code is the ROM's own error code (see the
// Err* constants); Error() includes the human-readable ErrorMessage
// text for it.
type RomError struct {
	Command byte
	Status  byte
	Code    byte
}

func (e *RomError) Error() string {
	return fmt.Sprintf("rom rejected command 0x%02X: status=0x%02X error=0x%02X (%s)",
		e.Command, e.Status, e.Code, ErrorMessage(e.Code))
}

// UnsupportedFlashError is returned when SPI flash autodetection
// exhausts every candidate parameter set without the chip settling on
// a response consistent with mapped flash. Code is the last flash-size
// byte autodetect read back: the FlashRetry sentinel (0xFF) when a
// candidate asked for another pin mapping, or 0 when no candidate
// produced a size byte at all.
type UnsupportedFlashError struct {
	Code byte
}

func (e *UnsupportedFlashError) Error() string {
	return fmt.Sprintf("unable to detect SPI flash parameters (last status 0x%02X)", e.Code)
}

// TransportError wraps a lower-level transport failure (serial I/O,
// port open/close) with the operation that was attempted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
