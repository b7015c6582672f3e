// Package kmem defines the kernel memory access contract used by the
// code-signing patcher. Implementations provide exact-length transfers only.
package kmem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortTransfer is returned when a primitive moved fewer bytes than asked.
var ErrShortTransfer = errors.New("kmem: short transfer")

// Addr is a kernel virtual address.
type Addr uint64

func (a Addr) String() string { return fmt.Sprintf("%#016x", uint64(a)) }

// Add returns a+off.
func (a Addr) Add(off uint64) Addr { return a + Addr(off) }

type Reader interface {
	// Read fills buf with len(buf) bytes read from addr.
	Read(addr Addr, buf []byte) error
}

type Writer interface {
	// Write stores all of data at addr.
	Write(addr Addr, data []byte) error
}

type Allocator interface {
	// Alloc returns the base of a fresh kernel region of at least size bytes.
	Alloc(size uint64) (Addr, error)
}

// Kernel is the full access facade.
type Kernel interface {
	Reader
	Writer
	Allocator
}

// ReadUint64 reads a host-order (little-endian) 64-bit word.
func ReadUint64(r Reader, addr Addr) (uint64, error) {
	var buf [8]byte
	if err := r.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadPtr dereferences the pointer stored at addr.
func ReadPtr(r Reader, addr Addr) (Addr, error) {
	v, err := ReadUint64(r, addr)
	if err != nil {
		return 0, err
	}
	return Addr(v), nil
}
