// Package kmemtest provides an in-memory, recording kmem.Kernel for tests.
package kmemtest

import (
	"fmt"
	"sort"

	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// DefaultAllocBase is where Alloc starts handing out regions.
const DefaultAllocBase kmem.Addr = 0xfffffff0_80000000

// WriteOp is one recorded Write call.
type WriteOp struct {
	Addr kmem.Addr
	Data []byte
}

type segment struct {
	base kmem.Addr
	data []byte
}

func (s *segment) contains(addr kmem.Addr, n int) bool {
	return addr >= s.base && uint64(addr-s.base)+uint64(n) <= uint64(len(s.data))
}

// Memory simulates sparse kernel memory made of mapped segments.
type Memory struct {
	segs      []*segment
	nextAlloc kmem.Addr

	Writes []WriteOp
	Allocs []kmem.Addr
	Reads  int

	// FailWrites makes every Write fail once this many writes succeeded (-1 disables).
	FailWrites int
	// FailAlloc makes Alloc fail.
	FailAlloc bool
}

func New() *Memory {
	return &Memory{nextAlloc: DefaultAllocBase, FailWrites: -1}
}

// Map backs [base, base+len(data)) with a copy of data.
func (m *Memory) Map(base kmem.Addr, data []byte) {
	m.segs = append(m.segs, &segment{base: base, data: append([]byte(nil), data...)})
	sort.Slice(m.segs, func(i, j int) bool { return m.segs[i].base < m.segs[j].base })
}

func (m *Memory) find(addr kmem.Addr, n int) (*segment, error) {
	for _, s := range m.segs {
		if s.contains(addr, n) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("kmemtest: unmapped access at %s (%d bytes): %w", addr, n, kmem.ErrShortTransfer)
}

func (m *Memory) Read(addr kmem.Addr, buf []byte) error {
	m.Reads++
	s, err := m.find(addr, len(buf))
	if err != nil {
		return err
	}
	off := addr - s.base
	copy(buf, s.data[off:])
	return nil
}

func (m *Memory) Write(addr kmem.Addr, data []byte) error {
	if m.FailWrites >= 0 && len(m.Writes) >= m.FailWrites {
		return fmt.Errorf("kmemtest: injected write failure at %s", addr)
	}
	s, err := m.find(addr, len(data))
	if err != nil {
		return err
	}
	off := addr - s.base
	copy(s.data[off:], data)
	m.Writes = append(m.Writes, WriteOp{Addr: addr, Data: append([]byte(nil), data...)})
	return nil
}

func (m *Memory) Alloc(size uint64) (kmem.Addr, error) {
	if m.FailAlloc {
		return 0, fmt.Errorf("kmemtest: injected alloc failure (%d bytes)", size)
	}
	base := m.nextAlloc
	m.Map(base, make([]byte, size))
	m.nextAlloc += kmem.Addr((size + 0xfff) &^ 0xfff)
	m.Allocs = append(m.Allocs, base)
	return base, nil
}

// Bytes returns a copy of n bytes at addr, failing the test helper way via panic
// when the range is unmapped.
func (m *Memory) Bytes(addr kmem.Addr, n int) []byte {
	s, err := m.find(addr, n)
	if err != nil {
		panic(err)
	}
	off := addr - s.base
	return append([]byte(nil), s.data[off:int(off)+n]...)
}

// Snapshot returns a deep copy of every mapped segment keyed by base.
func (m *Memory) Snapshot() map[kmem.Addr][]byte {
	out := make(map[kmem.Addr][]byte, len(m.segs))
	for _, s := range m.segs {
		out[s.base] = append([]byte(nil), s.data...)
	}
	return out
}
