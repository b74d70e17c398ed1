package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/bigbag/papyrix-flasher/internal/slip"
)

// bufTransport is a minimal in-memory Transport: writes go nowhere,
// reads drain a preloaded byte slice a chunk at a time.
type bufTransport struct {
	in          []byte
	readTimeout time.Duration
	flushed     bool
	written     [][]byte
}

func (t *bufTransport) Write(data []byte) (int, error) {
	t.written = append(t.written, append([]byte{}, data...))
	return len(data), nil
}

func (t *bufTransport) ReadWithTimeout(buf []byte, _ time.Duration) (int, error) {
	if len(t.in) == 0 {
		return 0, ErrTimeout
	}
	n := copy(buf, t.in)
	t.in = t.in[n:]
	return n, nil
}

func (t *bufTransport) Flush() error {
	t.flushed = true
	t.in = nil
	return nil
}

func (t *bufTransport) ReadTimeout() time.Duration { return t.readTimeout }

func (t *bufTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

func encodeResponseFrame(cmd byte, value uint32, payload []byte, status, errCode byte) []byte {
	data := append(append([]byte{}, payload...), status, errCode)
	packet := make([]byte, 8+len(data))
	packet[0] = DirResponse
	packet[1] = cmd
	packet[2] = byte(len(data))
	packet[3] = byte(len(data) >> 8)
	packet[4] = byte(value)
	packet[5] = byte(value >> 8)
	packet[6] = byte(value >> 16)
	packet[7] = byte(value >> 24)
	copy(packet[8:], data)
	return packet
}

func TestChannel_CommandResponse_Success(t *testing.T) {
	transport := &bufTransport{readTimeout: 5 * time.Millisecond}
	transport.in = slip.Encode(encodeResponseFrame(CmdReadReg, 0x1234, nil, 0, 0))

	c := NewChannel(transport)
	resp, err := c.CommandResponse(NewRequest(CmdReadReg, nil), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CommandResponse() error = %v", err)
	}
	if resp.Value != 0x1234 {
		t.Errorf("Value = 0x%X, want 0x1234", resp.Value)
	}
	if len(transport.written) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(transport.written))
	}
}

func TestChannel_CommandResponse_RomError(t *testing.T) {
	transport := &bufTransport{readTimeout: 5 * time.Millisecond}
	transport.in = slip.Encode(encodeResponseFrame(CmdFlashBegin, 0, nil, 1, 0x05))

	c := NewChannel(transport)
	_, err := c.CommandResponse(NewRequest(CmdFlashBegin, nil), 50*time.Millisecond)
	var romErr *RomError
	if !errors.As(err, &romErr) {
		t.Fatalf("error = %v, want *RomError", err)
	}
	if romErr.Code != 0x05 {
		t.Errorf("Code = 0x%X, want 0x05", romErr.Code)
	}
}

func TestChannel_CommandResponse_SkipsNonMatchingFrame(t *testing.T) {
	transport := &bufTransport{readTimeout: 5 * time.Millisecond}
	stale := slip.Encode(encodeResponseFrame(CmdSpiAttach, 0, nil, 0, 0))
	wanted := slip.Encode(encodeResponseFrame(CmdSync, 0, nil, 0, 0))
	transport.in = append(append([]byte{}, stale...), wanted...)

	c := NewChannel(transport)
	resp, err := c.CommandResponse(NewRequest(CmdSync, nil), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CommandResponse() error = %v", err)
	}
	if resp.Command != CmdSync {
		t.Errorf("Command = 0x%02X, want CmdSync", resp.Command)
	}
}

func TestChannel_CommandResponse_TimesOutWithNoResponse(t *testing.T) {
	transport := &bufTransport{readTimeout: 2 * time.Millisecond}

	c := NewChannel(transport)
	_, err := c.CommandResponse(NewRequest(CmdSync, nil), 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestChannel_WithTimeout_RestoresPreviousTimeout(t *testing.T) {
	transport := &bufTransport{readTimeout: 100 * time.Millisecond}
	c := NewChannel(transport)

	var sawDuringCall time.Duration
	err := c.WithTimeout(7*time.Millisecond, func() error {
		sawDuringCall = transport.readTimeout
		return nil
	})
	if err != nil {
		t.Fatalf("WithTimeout() error = %v", err)
	}
	if sawDuringCall != 7*time.Millisecond {
		t.Errorf("timeout during call = %v, want 7ms", sawDuringCall)
	}
	if transport.readTimeout != 100*time.Millisecond {
		t.Errorf("timeout after call = %v, want restored 100ms", transport.readTimeout)
	}
}

func TestChannel_WithTimeout_RestoresEvenOnError(t *testing.T) {
	transport := &bufTransport{readTimeout: 50 * time.Millisecond}
	c := NewChannel(transport)

	wantErr := errors.New("boom")
	err := c.WithTimeout(1*time.Millisecond, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if transport.readTimeout != 50*time.Millisecond {
		t.Errorf("timeout after call = %v, want restored 50ms", transport.readTimeout)
	}
}

func TestChannel_Flush(t *testing.T) {
	transport := &bufTransport{}
	c := NewChannel(transport)
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !transport.flushed {
		t.Error("Flush() did not reach the underlying transport")
	}
}
