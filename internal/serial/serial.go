// Package serial wraps the host's serial port with the signal control
// (DTR/RTS reset sequences) and bounded-read semantics the protocol
// layer needs, hiding the Linux/other-platform transport split behind
// one Port type.
package serial

import (
	"fmt"
	"runtime"
	"time"

	"go.bug.st/serial"
)

const defaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port with ESP32-specific functionality. On Linux
// it drives the file descriptor directly through a RawPort for better
// USB CDC compatibility; elsewhere it delegates to go.bug.st/serial.
type Port struct {
	port        serial.Port
	raw         *RawPort
	portName    string
	baudRate    int
	readTimeout time.Duration
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	if runtime.GOOS == "linux" {
		raw, err := OpenRaw(portName, baudRate)
		if err != nil {
			return nil, err
		}
		return &Port{
			raw:         raw,
			portName:    portName,
			baudRate:    baudRate,
			readTimeout: defaultReadTimeout,
		}, nil
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:        port,
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: defaultReadTimeout,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.raw != nil {
		return p.raw.Close()
	}
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	if p.raw != nil {
		return p.raw.Write(data)
	}
	return p.port.Write(data)
}

// Read reads data from the serial port using the currently configured
// read timeout.
func (p *Port) Read(buf []byte) (int, error) {
	if p.raw != nil {
		return p.raw.Read(buf)
	}
	return p.port.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout, independent of
// whatever timeout SetReadTimeout last configured.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if p.raw != nil {
		return p.raw.ReadWithTimeout(buf, timeout)
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(p.readTimeout)

	return p.port.Read(buf)
}

// ReadTimeout returns the read timeout Read (and the deadline-chunking
// logic in internal/protocol.Channel) currently uses.
func (p *Port) ReadTimeout() time.Duration {
	return p.readTimeout
}

// SetReadTimeout changes the port's standing read timeout. Channel's
// WithTimeout uses this to scope a shorter timeout (the sync storm)
// and restore the previous one afterward.
func (p *Port) SetReadTimeout(d time.Duration) error {
	if p.raw != nil {
		p.readTimeout = d
		return p.raw.SetReadTimeout(d)
	}
	if err := p.port.SetReadTimeout(d); err != nil {
		return err
	}
	p.readTimeout = d
	return nil
}

// ReadAll reads all available data until the port goes quiet or
// timeout elapses.
func (p *Port) ReadAll(timeout time.Duration) ([]byte, error) {
	var result []byte
	buf := make([]byte, 1024)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := p.ReadWithTimeout(buf, defaultReadTimeout)
		if n > 0 {
			result = append(result, buf[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	return result, nil
}

// Flush discards any buffered data.
func (p *Port) Flush() error {
	if p.raw != nil {
		return p.raw.Flush()
	}
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	if p.raw != nil {
		return p.raw.SetDTR(value)
	}
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	if p.raw != nil {
		return p.raw.SetRTS(value)
	}
	return p.port.SetRTS(value)
}

// ResetToBootloader resets the chip into the ROM bootloader using the
// classic DTR/RTS auto-reset circuit found on most ESP dev boards.
// Signal polarities are inverted by the board's transistor drivers.
func (p *Port) ResetToBootloader() error {
	if p.raw != nil {
		return p.raw.ResetToBootloader()
	}

	if err := p.SetRTS(true); err != nil {
		return err
	}
	if err := p.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := p.SetRTS(false); err != nil {
		return err
	}
	if err := p.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)

	if err := p.SetRTS(true); err != nil {
		return err
	}
	if err := p.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)

	if err := p.SetRTS(false); err != nil {
		return err
	}
	if err := p.SetDTR(false); err != nil {
		return err
	}

	p.Flush()
	time.Sleep(100 * time.Millisecond)

	return nil
}

// HardReset pulses EN without asserting GPIO0, rebooting into the
// flashed application rather than the bootloader.
func (p *Port) HardReset() error {
	if p.raw != nil {
		return p.raw.HardReset()
	}

	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.SetRTS(false); err != nil {
		return err
	}
	return nil
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// SetBaudRate reconfigures the link speed in place, without closing
// and reopening the underlying device.
func (p *Port) SetBaudRate(baud int) error {
	if p.raw != nil {
		if err := p.raw.SetBaudRate(baud); err != nil {
			return err
		}
		p.baudRate = baud
		return nil
	}
	if err := p.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}); err != nil {
		return err
	}
	p.baudRate = baud
	return nil
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns the available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
