//go:build linux

package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// baudRates maps a requested baud rate to the termios Bxxx constant
// that selects it in c_cflag.
var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	500000: unix.B500000,
	576000: unix.B576000,
	921600: unix.B921600,
}

// RawPort drives a serial device through direct ioctl calls
// (golang.org/x/sys/unix) instead of go.bug.st/serial, which the
// teacher found necessary for reliable USB CDC behavior on Linux.
type RawPort struct {
	fd          int
	file        *os.File
	portName    string
	baudRate    int
	readTimeout time.Duration
}

// OpenRaw opens a serial device and configures it for raw 8N1 I/O.
func OpenRaw(portName string, baudRate int) (*RawPort, error) {
	fd, err := unix.Open(portName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// Clear O_NONBLOCK now that the open (which needed it to avoid
	// blocking on CLOCAL-less carrier-detect) has succeeded.
	if flags, ferr := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); ferr == nil {
		unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}

	port := &RawPort{
		fd:          fd,
		file:        os.NewFile(uintptr(fd), portName),
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: defaultReadTimeout,
	}

	if err := port.configure(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return port, nil
}

func (p *RawPort) configure() error {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}

	baudCode, ok := baudRates[p.baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", p.baudRate)
	}

	// cfmakeraw-equivalent configuration.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS

	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Cflag &^= unix.CBAUD
	t.Cflag |= baudCode

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = vtimeFor(p.readTimeout)

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}

	return nil
}

// vtimeFor converts a read timeout into the VTIME unit (deciseconds),
// clamped to the single-byte range the termios field allows. A zero or
// sub-decisecond timeout still waits one decisecond rather than
// polling in a busy loop.
func vtimeFor(timeout time.Duration) uint8 {
	vtime := timeout.Milliseconds() / 100
	if vtime < 1 {
		vtime = 1
	}
	if vtime > 255 {
		vtime = 255
	}
	return uint8(vtime)
}

// Close closes the serial port.
func (p *RawPort) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// Write writes data to the serial port and waits for it to drain, the
// way pyserial-derived tools do to avoid truncating the last frame.
func (p *RawPort) Write(data []byte) (int, error) {
	n, err := unix.Write(p.fd, data)
	if err != nil {
		return n, err
	}
	p.drain()
	return n, nil
}

// drain waits for pending output to finish transmitting (tcdrain).
func (p *RawPort) drain() error {
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// Read reads using whatever timeout SetReadTimeout last configured.
func (p *RawPort) Read(buf []byte) (int, error) {
	return unix.Read(p.fd, buf)
}

// ReadWithTimeout reads with a one-off timeout: it snapshots the
// current VTIME, applies the requested one, performs the read, and
// restores the snapshot regardless of outcome.
func (p *RawPort) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return 0, err
	}

	oldVtime := t.Cc[unix.VTIME]
	t.Cc[unix.VTIME] = vtimeFor(timeout)

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return 0, err
	}

	n, readErr := unix.Read(p.fd, buf)

	t.Cc[unix.VTIME] = oldVtime
	unix.IoctlSetTermios(p.fd, unix.TCSETS, t)

	return n, readErr
}

// SetReadTimeout changes the standing VTIME used by plain Read calls.
func (p *RawPort) SetReadTimeout(d time.Duration) error {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Cc[unix.VTIME] = vtimeFor(d)
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return err
	}
	p.readTimeout = d
	return nil
}

// Flush discards any buffered input and output.
func (p *RawPort) Flush() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
}

// SetDTR sets the DTR signal.
func (p *RawPort) SetDTR(value bool) error {
	bits, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}

	if value {
		bits |= unix.TIOCM_DTR
	} else {
		bits &^= unix.TIOCM_DTR
	}

	return unix.IoctlSetInt(p.fd, unix.TIOCMSET, bits)
}

// SetRTS sets the RTS signal.
func (p *RawPort) SetRTS(value bool) error {
	bits, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}

	if value {
		bits |= unix.TIOCM_RTS
	} else {
		bits &^= unix.TIOCM_RTS
	}

	return unix.IoctlSetInt(p.fd, unix.TIOCMSET, bits)
}

// ResetToBootloader resets the chip into the ROM bootloader.
func (p *RawPort) ResetToBootloader() error {
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

// HardReset pulses EN without asserting GPIO0.
func (p *RawPort) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.SetRTS(false); err != nil {
		return err
	}
	return nil
}

// SetBaudRate reconfigures the link speed in place via TCSETS.
func (p *RawPort) SetBaudRate(baud int) error {
	baudCode, ok := baudRates[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", baud)
	}

	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baudCode
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}

	p.baudRate = baud
	return nil
}

// PortName returns the port name.
func (p *RawPort) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *RawPort) BaudRate() int {
	return p.baudRate
}
