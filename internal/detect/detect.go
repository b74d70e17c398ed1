// Package detect scans serial ports for an attached ROM bootloader,
// reusing the flasher package's own sync/chip-detect machinery instead
// of a second hand-rolled SLIP/sync implementation.
package detect

import (
	"fmt"

	"github.com/bigbag/papyrix-flasher/internal/chip"
	"github.com/bigbag/papyrix-flasher/internal/flasher"
	"github.com/bigbag/papyrix-flasher/internal/protocol"
	"github.com/bigbag/papyrix-flasher/internal/serial"
)

// Result describes a bootloader found on a port.
type Result struct {
	Port      string
	Chip      chip.Variant
	FlashSize chip.FlashSize
}

// openPort and listPorts are seams for tests: production code talks to
// a real serial port, tests substitute a scripted flasher.Transport and
// a fixed port list.
var openPort = func(portName string, baudRate int) (flasher.Transport, error) {
	return serial.Open(portName, baudRate)
}

var listPorts = serial.ListPorts

// DetectDevice returns the first port where a bootloader answers.
func DetectDevice(baudRate int) (*Result, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no bootloader found on any port (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no bootloader found on any port")
}

// DetectOnPort probes a specific port.
func DetectOnPort(portName string, baudRate int) (*Result, error) {
	return tryPort(portName, baudRate)
}

// ListDevices scans every port and returns every one that answers,
// rather than stopping at the first.
func ListDevices(baudRate int) ([]Result, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

// tryPort always opens and syncs at the ROM's fixed sync baud; baudRate
// is only the *target* the Flasher raises to via CHANGE_BAUD once
// connected, same as a flash run.
func tryPort(portName string, baudRate int) (*Result, error) {
	port, err := openPort(portName, protocol.RomBaudRate)
	if err != nil {
		return nil, err
	}

	f := flasher.New(port, baudRate)
	defer f.Close()

	if err := f.Connect(); err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	return &Result{
		Port:      portName,
		Chip:      f.Chip(),
		FlashSize: f.FlashSize(),
	}, nil
}
