package csblob

import (
	"encoding/binary"
	"fmt"

	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
	mtypes "github.com/blacktop/go-macho/types"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// MaxRegionSize bounds the backing region size accepted from a record.
const MaxRegionSize = 64 << 20

// RegionOffset is a pointer held by a blob record, stored relative to the
// record's backing region. It only becomes a kernel address again when the
// record is encoded against a base.
type RegionOffset uint64

// Region is the kernel allocation that holds the signature and its sub-blobs.
type Region struct {
	Size uint64
	Base kmem.Addr
}

func (r Region) contains(addr kmem.Addr) bool {
	return addr >= r.Base && uint64(addr-r.Base) < r.Size
}

// BlobRecord mirrors the kernel's cs_blob. Fields not listed here are kept
// verbatim and written back untouched.
type BlobRecord struct {
	Next        kmem.Addr
	CPUType     mtypes.CPU
	Flags       uint32
	BaseOffset  int64
	StartOffset int64
	EndOffset   int64
	Region      Region
	MemOffset   uint64
	CDHash      [cstypes.CDHASH_LEN]byte

	CodeDirectory    RegionOffset
	EntitlementsBlob RegionOffset
	TeamID           RegionOffset
	// HasTeamID is false when the record carries a NULL team identifier.
	HasTeamID bool

	layout *offsets.RecordLayout
	raw    []byte
}

func (r *BlobRecord) offset(field string, ptr uint64) (RegionOffset, error) {
	if !r.Region.contains(kmem.Addr(ptr)) {
		return 0, &Error{Kind: KindStructural, Err: fmt.Errorf("%w: %s %#x not in [%s, +%#x)",
			ErrOutOfRegion, field, ptr, r.Region.Base, r.Region.Size)}
	}
	return RegionOffset(kmem.Addr(ptr) - r.Region.Base), nil
}

// DecodeRecord parses a raw cs_blob laid out as described by l.
func DecodeRecord(raw []byte, l *offsets.RecordLayout) (*BlobRecord, error) {
	if uint64(len(raw)) < l.Size {
		return nil, newError(KindStructural, "%w: record is %d bytes, layout wants %d", ErrBadLength, len(raw), l.Size)
	}
	le := binary.LittleEndian
	r := &BlobRecord{
		Next:        kmem.Addr(le.Uint64(raw[l.Next:])),
		CPUType:     mtypes.CPU(le.Uint32(raw[l.CPUType:])),
		Flags:       le.Uint32(raw[l.Flags:]),
		BaseOffset:  int64(le.Uint64(raw[l.BaseOffset:])),
		StartOffset: int64(le.Uint64(raw[l.StartOffset:])),
		EndOffset:   int64(le.Uint64(raw[l.EndOffset:])),
		Region: Region{
			Size: le.Uint64(raw[l.MemSize:]),
			Base: kmem.Addr(le.Uint64(raw[l.MemKaddr:])),
		},
		MemOffset: le.Uint64(raw[l.MemOffset:]),
		layout:    l,
		raw:       append([]byte(nil), raw[:l.Size]...),
	}
	copy(r.CDHash[:], raw[l.CDHash:])
	if r.Region.Size == 0 || r.Region.Size > MaxRegionSize {
		return nil, newError(KindStructural, "%w: backing region size %#x", ErrBadLength, r.Region.Size)
	}

	var err error
	if r.CodeDirectory, err = r.offset("code directory", le.Uint64(raw[l.CodeDirectory:])); err != nil {
		return nil, err
	}
	if r.EntitlementsBlob, err = r.offset("entitlements blob", le.Uint64(raw[l.EntitlementsBlob:])); err != nil {
		return nil, err
	}
	if team := le.Uint64(raw[l.TeamID:]); team != 0 {
		if r.TeamID, err = r.offset("team id", team); err != nil {
			return nil, err
		}
		r.HasTeamID = true
	}
	return r, nil
}

// Resolve turns a region-relative pointer into a kernel address against the
// record's current base.
func (r *BlobRecord) Resolve(off RegionOffset) kmem.Addr {
	return r.Region.Base.Add(uint64(off))
}

// Encode serializes the record against its current region base.
func (r *BlobRecord) Encode() []byte {
	l := r.layout
	out := append([]byte(nil), r.raw...)
	le := binary.LittleEndian
	le.PutUint64(out[l.Next:], uint64(r.Next))
	le.PutUint32(out[l.CPUType:], uint32(r.CPUType))
	le.PutUint32(out[l.Flags:], r.Flags)
	le.PutUint64(out[l.BaseOffset:], uint64(r.BaseOffset))
	le.PutUint64(out[l.StartOffset:], uint64(r.StartOffset))
	le.PutUint64(out[l.EndOffset:], uint64(r.EndOffset))
	le.PutUint64(out[l.MemSize:], r.Region.Size)
	le.PutUint64(out[l.MemOffset:], r.MemOffset)
	le.PutUint64(out[l.MemKaddr:], uint64(r.Region.Base))
	copy(out[l.CDHash:], r.CDHash[:])
	le.PutUint64(out[l.CodeDirectory:], uint64(r.Resolve(r.CodeDirectory)))
	le.PutUint64(out[l.EntitlementsBlob:], uint64(r.Resolve(r.EntitlementsBlob)))
	if r.HasTeamID {
		le.PutUint64(out[l.TeamID:], uint64(r.Resolve(r.TeamID)))
	} else {
		le.PutUint64(out[l.TeamID:], 0)
	}
	return out
}

// Rebase moves the record onto a new backing region of the same size.
func (r *BlobRecord) Rebase(base kmem.Addr) {
	r.Region.Base = base
}
