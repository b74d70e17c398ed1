package protocol

import (
	"fmt"
	"time"

	"github.com/bigbag/papyrix-flasher/internal/slip"
)

// Transport is the minimal serial-port surface the command channel
// needs: write a frame, read with a bounded timeout, and discard
// whatever is sitting in the receive buffer. internal/serial.Port
// satisfies this.
type Transport interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
	ReadTimeout() time.Duration
	SetReadTimeout(d time.Duration) error
}

// Channel is the command layer: it SLIP-frames requests, reads and
// strictly decodes response frames, and matches them against the
// command that was sent. One Channel owns one Transport.
type Channel struct {
	transport Transport
}

// NewChannel wraps a transport in a command channel.
func NewChannel(t Transport) *Channel {
	return &Channel{transport: t}
}

// WithTimeout runs fn with the transport's read timeout temporarily
// set to d for the duration of the call, restoring whatever timeout
// was in effect beforehand on every exit path (including panics
// propagating through fn, since the restore runs via defer).
func (c *Channel) WithTimeout(d time.Duration, fn func() error) error {
	prev := c.transport.ReadTimeout()
	if err := c.transport.SetReadTimeout(d); err != nil {
		return err
	}
	defer c.transport.SetReadTimeout(prev)
	return fn()
}

// WriteCommand SLIP-encodes and writes a request frame without waiting
// for a response. Used by the sync storm, which reads its responses
// itself, and by MEM_END, after which the device jumps to the loaded
// image and may not answer.
func (c *Channel) WriteCommand(req *Request) error {
	frame := slip.Encode(req.Encode())
	_, err := c.transport.Write(frame)
	return err
}

// Command sends req and waits up to timeout for a matching response,
// retrying the read (not the write) until the deadline. It returns the
// response's Value field on success and a *RomError when the ROM
// answers with a non-zero status.
func (c *Channel) Command(req *Request, timeout time.Duration) (uint32, error) {
	resp, err := c.CommandResponse(req, timeout)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// CommandResponse is like Command but returns the full decoded
// response, including its payload bytes, status and error code.
func (c *Channel) CommandResponse(req *Request, timeout time.Duration) (*Response, error) {
	if err := c.WriteCommand(req); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	resp, err := c.readMatching(req.Command, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &RomError{Command: req.Command, Status: resp.Status, Code: resp.Error}
	}
	return resp, nil
}

// readMatching reads frames until one decodes to a response for want,
// silently skipping frames for other commands (the ROM occasionally
// echoes a stale response after SPI autodetect probes) and frames too
// short to carry a status/error pair.
func (c *Channel) readMatching(want byte, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	var buffer []byte

	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		readTimeout := c.transport.ReadTimeout()
		if remaining < readTimeout {
			readTimeout = remaining
		}
		if readTimeout <= 0 {
			break
		}

		chunk := make([]byte, 256)
		n, readErr := c.transport.ReadWithTimeout(chunk, readTimeout)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
		}
		if readErr != nil && n == 0 {
			continue
		}

		for {
			frame, rest := slip.ReadFrame(buffer)
			if frame == nil {
				break
			}
			buffer = rest

			data, decodeErr := slip.StrictDecode(frame)
			if decodeErr != nil || len(data) < 10 {
				continue
			}

			resp, err := DecodeResponse(data)
			if err != nil {
				continue
			}
			if resp.Command != want {
				continue
			}
			return resp, nil
		}
	}

	return nil, fmt.Errorf("%w: no response to command 0x%02X within %v", ErrTimeout, want, timeout)
}

// ReadOne reads and decodes exactly one response frame (of any
// command), used by the sync storm's drain phase where the caller
// doesn't care which command a stray response answers, only that it
// was consumed.
func (c *Channel) ReadOne(timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	var buffer []byte

	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		readTimeout := c.transport.ReadTimeout()
		if remaining < readTimeout {
			readTimeout = remaining
		}
		if readTimeout <= 0 {
			break
		}

		chunk := make([]byte, 256)
		n, readErr := c.transport.ReadWithTimeout(chunk, readTimeout)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
		}
		if readErr != nil && n == 0 {
			continue
		}

		frame, rest := slip.ReadFrame(buffer)
		if frame == nil {
			continue
		}
		buffer = rest

		data, decodeErr := slip.StrictDecode(frame)
		if decodeErr != nil || len(data) < 10 {
			continue
		}
		return DecodeResponse(data)
	}

	return nil, fmt.Errorf("%w: no response within %v", ErrTimeout, timeout)
}

// Flush discards any buffered, unread bytes on the transport.
func (c *Channel) Flush() error {
	return c.transport.Flush()
}
