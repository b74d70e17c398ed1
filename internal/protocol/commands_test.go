package protocol

import (
	"testing"
)

func TestErrorMessage_AllCodes(t *testing.T) {
	tests := []struct {
		code     byte
		expected string
	}{
		{ErrInvalidMessage, "invalid message"},
		{ErrFailedToAct, "failed to act"},
		{ErrInvalidCRC, "invalid CRC"},
		{ErrFlashWriteErr, "flash write error"},
		{ErrFlashReadErr, "flash read error"},
		{ErrFlashReadLenErr, "flash read length error"},
		{ErrDeflateError, "deflate error"},
	}

	for _, tc := range tests {
		result := ErrorMessage(tc.code)
		if result != tc.expected {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", tc.code, result, tc.expected)
		}
	}
}

func TestErrorMessage_Unknown(t *testing.T) {
	unknownCodes := []byte{0x00, 0x01, 0x04, 0xFF}
	for _, code := range unknownCodes {
		result := ErrorMessage(code)
		if result != "unknown error" {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", code, result, "unknown error")
		}
	}
}

func TestChecksum_Empty(t *testing.T) {
	if Checksum(nil) != ChecksumInit {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x%02X", Checksum(nil), ChecksumInit)
	}
}

func TestChecksum_SingleByte(t *testing.T) {
	got := Checksum([]byte{0x01})
	want := ChecksumInit ^ 0x01
	if got != want {
		t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, want)
	}
}

func TestChecksum_SyncData(t *testing.T) {
	syncData := SyncData()
	var want byte = ChecksumInit
	for _, b := range syncData {
		want ^= b
	}
	if got := Checksum(syncData); got != want {
		t.Errorf("Checksum(SyncData()) = 0x%02X, want 0x%02X", got, want)
	}
}

func TestChecksumByte_FoldsOntoAccumulator(t *testing.T) {
	acc := Checksum([]byte{0x01, 0x02})
	got := ChecksumByte(acc, []byte{0xFF, 0xFF})
	want := acc ^ 0xFF ^ 0xFF
	if got != want {
		t.Errorf("ChecksumByte() = 0x%02X, want 0x%02X", got, want)
	}
}

func TestDefaultTimeoutFor_Overrides(t *testing.T) {
	if DefaultTimeoutFor(CmdSync) != SyncTimeout {
		t.Errorf("DefaultTimeoutFor(CmdSync) = %v, want %v", DefaultTimeoutFor(CmdSync), SyncTimeout)
	}
	if DefaultTimeoutFor(CmdMemEnd) != MemEndTimeout {
		t.Errorf("DefaultTimeoutFor(CmdMemEnd) = %v, want %v", DefaultTimeoutFor(CmdMemEnd), MemEndTimeout)
	}
	if DefaultTimeoutFor(CmdWriteReg) != DefaultTimeout {
		t.Errorf("DefaultTimeoutFor(CmdWriteReg) = %v, want %v", DefaultTimeoutFor(CmdWriteReg), DefaultTimeout)
	}
}

func TestTimeoutForSize_FloorsAtDefault(t *testing.T) {
	got := TimeoutForSize(CmdFlashBegin, 1)
	if got != DefaultTimeout {
		t.Errorf("TimeoutForSize(small) = %v, want %v (floor)", got, DefaultTimeout)
	}
}

func TestTimeoutForSize_ScalesWithSize(t *testing.T) {
	small := TimeoutForSize(CmdFlashData, 1_000_000)
	large := TimeoutForSize(CmdFlashData, 10_000_000)
	if large <= small {
		t.Errorf("TimeoutForSize should grow with size: small=%v large=%v", small, large)
	}
}

func TestTimeoutForSize_IgnoredForNonScalingCommands(t *testing.T) {
	got := TimeoutForSize(CmdSync, 10_000_000)
	if got != SyncTimeout {
		t.Errorf("TimeoutForSize(CmdSync, ...) = %v, want %v", got, SyncTimeout)
	}
}

func TestConstants(t *testing.T) {
	commands := map[byte]string{
		CmdFlashEnd:        "CmdFlashEnd",
		CmdSync:            "CmdSync",
		CmdSpiSetParams:    "CmdSpiSetParams",
		CmdSpiAttach:       "CmdSpiAttach",
		CmdGetSecurityInfo: "CmdGetSecurityInfo",
	}

	expected := map[byte]byte{
		0x04: CmdFlashEnd,
		0x08: CmdSync,
		0x0B: CmdSpiSetParams,
		0x0D: CmdSpiAttach,
		0x14: CmdGetSecurityInfo,
	}

	for val, cmd := range expected {
		if cmd != val {
			t.Errorf("%s = 0x%02X, want 0x%02X", commands[cmd], cmd, val)
		}
	}

	if FlashBlockSize != 0x400 {
		t.Errorf("FlashBlockSize = 0x%X, want 0x400", FlashBlockSize)
	}
	if FlashSectorSize != 0x1000 {
		t.Errorf("FlashSectorSize = 0x%X, want 0x1000", FlashSectorSize)
	}
}
