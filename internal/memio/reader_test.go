package memio

import (
	"bytes"
	"errors"
	"testing"
)

// withFakeMemory stubs peekWord to serve reads from a fake little-endian
// memory image anchored at base, restoring the real implementation on
// cleanup.
func withFakeMemory(t *testing.T, base uint64, image []byte) {
	t.Helper()
	orig := peekWord
	t.Cleanup(func() { peekWord = orig })

	peekWord = func(pid int, addr uint64) (uint64, error) {
		if addr < base || addr+wordSize > base+uint64(len(image)) {
			return 0, errors.New("fake: address out of range")
		}
		off := addr - base
		var buf [wordSize]byte
		copy(buf[:], image[off:off+wordSize])
		return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
			uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
	}
}

func TestReadBytes_ExactMultipleOfWord(t *testing.T) {
	image := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	withFakeMemory(t, 0x1000, image)

	got, err := ReadBytes(1234, 0x1000, 16)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("got %v, want %v", got, image)
	}
}

func TestReadBytes_RoundsUpToWholeWords(t *testing.T) {
	image := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	withFakeMemory(t, 0x1000, image)

	got, err := ReadBytes(1234, 0x1000, 9)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("expected a full 16-byte (2-word) buffer for a 9-byte request, got %d", len(got))
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("got %v, want %v", got, image)
	}
}

func TestReadBytes_ZeroLength(t *testing.T) {
	got, err := ReadBytes(1234, 0x1000, 0)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", len(got))
	}
}

func TestReadBytes_UnreadableOnFirstWordFailure(t *testing.T) {
	withFakeMemory(t, 0x1000, make([]byte, 8))

	_, err := ReadBytes(1234, 0x2000, 16)
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestReadBytes_UnreadableOnSecondWordFailure(t *testing.T) {
	// Only the first word is backed by fake memory; the second word falls
	// outside the image and must fail the whole call (no partial buffer).
	withFakeMemory(t, 0x1000, make([]byte, 8))

	_, err := ReadBytes(1234, 0x1000, 16)
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable for a call spanning unmapped memory, got %v", err)
	}
}

func TestReadU64(t *testing.T) {
	image := []byte{0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0}
	withFakeMemory(t, 0x2000, image)

	got, err := ReadU64(1234, 0x2000)
	if err != nil {
		t.Fatalf("ReadU64: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("got 0x%x, want 0xdeadbeef", got)
	}
}
