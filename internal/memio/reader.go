// Package memio reads the address space of a traced process word-at-a-time
// via ptrace(2), the only granularity the kernel's PEEKDATA primitive
// supports. Callers never see a partial buffer: a read either succeeds in
// full or reports ErrUnreadable.
package memio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrUnreadable is returned (wrapped) when a word at the requested address
// could not be read, e.g. because the address is unmapped in the tracee.
var ErrUnreadable = errors.New("memio: address unreadable")

// wordSize is the granularity of a single PTRACE_PEEKDATA call on amd64.
const wordSize = 8

// ReadBytes reads n bytes from the tracee pid's address space starting at
// addr, in word-sized (8-byte) units, emitted little-endian (the tracee's
// native layout). The number of words requested is ceil(n/8); the returned
// buffer's length is therefore a multiple of 8 and callers who asked for a
// non-multiple-of-8 count must truncate themselves.
//
// On the first failing word read, ReadBytes returns ErrUnreadable and no
// partial buffer — downstream callers never have to reason about partial
// reads.
func ReadBytes(pid int, addr uint64, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	words := (n + wordSize - 1) / wordSize
	buf := make([]byte, 0, words*wordSize)

	for i := 0; i < words; i++ {
		word, err := peekWord(pid, addr+uint64(i*wordSize))
		if err != nil {
			return nil, fmt.Errorf("%w: pid=%d addr=0x%x: %v", ErrUnreadable, pid, addr, err)
		}
		var tmp [wordSize]byte
		binary.LittleEndian.PutUint64(tmp[:], word)
		buf = append(buf, tmp[:]...)
	}

	return buf, nil
}

// ReadU64 reads a single 8-byte word at addr — a convenience wrapper over
// ReadBytes for the common single-word case (e.g. walking a pointer array).
func ReadU64(pid int, addr uint64) (uint64, error) {
	buf, err := ReadBytes(pid, addr, wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// peekWord issues the actual PTRACE_PEEKDATA. Split out so tests can stub it
// without a live tracee (see reader_test.go).
var peekWord = func(pid int, addr uint64) (uint64, error) {
	var buf [wordSize]byte
	n, err := unix.PtracePeekData(pid, uintptr(addr), buf[:])
	if err != nil {
		return 0, err
	}
	if n != wordSize {
		return 0, fmt.Errorf("short peek: got %d bytes, want %d", n, wordSize)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
